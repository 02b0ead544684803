package metrics

import "time"

// ScanEvent represents one reader poll outcome worth recording.
type ScanEvent struct {
	Identifier string
	Accepted   bool
	At         time.Time
}

// DispenseEvent represents one per-order actuation outcome.
type DispenseEvent struct {
	Identifier string
	MedicineID string
	Slot       int
	Dose       int
	Success    bool
	Duration   time.Duration
	At         time.Time
}

// RequestEvent times one server exchange.
type RequestEvent struct {
	Endpoint string
	Method   string
	Server   string
	Status   string
	Duration time.Duration
	Slow     bool
}

// Sink records appliance events for observability purposes.
type Sink interface {
	RecordScan(ev ScanEvent) error
	RecordDispense(evs []DispenseEvent) error
}

// RequestRecorder is implemented by sinks that also track server exchanges.
type RequestRecorder interface {
	RecordRequest(ev RequestEvent) error
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordScan(ScanEvent) error           { return nil }
func (NopSink) RecordDispense([]DispenseEvent) error { return nil }
func (NopSink) RecordRequest(RequestEvent) error     { return nil }

// Config selects and parameterizes the metric sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}
