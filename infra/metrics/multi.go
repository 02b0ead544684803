package metrics

import coremetrics "github.com/carebridge/dispenser/core/metrics"

// MultiSink fans appliance events out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordScan forwards the event to all sinks, returning the first error
// encountered.
func (m *MultiSink) RecordScan(ev coremetrics.ScanEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordScan(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordDispense forwards the events to all sinks.
func (m *MultiSink) RecordDispense(evs []coremetrics.DispenseEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordDispense(evs); err != nil {
			return err
		}
	}
	return nil
}

// RecordRequest forwards exchange timings to sinks that support them.
func (m *MultiSink) RecordRequest(ev coremetrics.RequestEvent) error {
	for _, s := range m.Sinks {
		if rr, ok := s.(coremetrics.RequestRecorder); ok {
			if err := rr.RecordRequest(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
