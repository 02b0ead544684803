package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/carebridge/dispenser/core/metrics"
)

// PromSink records appliance events in Prometheus metrics.
type PromSink struct {
	scans     *prometheus.CounterVec
	dispenses *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	requests  *prometheus.HistogramVec
}

// NewPromSink registers the appliance metrics on the provided registerer.
// If reg is nil, the default registerer is used. Already registered
// collectors are reused.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	scans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispenser_scans_total",
		Help: "Total number of identifier scan events",
	}, []string{"accepted"})
	dispenses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispenser_items_total",
		Help: "Total number of per-order actuation outcomes",
	}, []string{"slot", "success"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispenser_actuation_seconds",
		Help:    "Duration of one order actuation",
		Buckets: prometheus.DefBuckets,
	}, []string{"slot", "success"})
	requests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispenser_request_seconds",
		Help:    "Duration of server exchanges",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "server", "status"})

	for i, c := range []*prometheus.CounterVec{scans, dispenses} {
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				c = are.ExistingCollector.(*prometheus.CounterVec)
				if i == 0 {
					scans = c
				} else {
					dispenses = c
				}
			} else {
				return nil, err
			}
		}
	}
	for i, h := range []*prometheus.HistogramVec{duration, requests} {
		if err := reg.Register(h); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				h = are.ExistingCollector.(*prometheus.HistogramVec)
				if i == 0 {
					duration = h
				} else {
					requests = h
				}
			} else {
				return nil, err
			}
		}
	}

	return &PromSink{scans: scans, dispenses: dispenses, duration: duration, requests: requests}, nil
}

// RecordScan increments the scan counter.
func (s *PromSink) RecordScan(ev coremetrics.ScanEvent) error {
	s.scans.WithLabelValues(strconv.FormatBool(ev.Accepted)).Inc()
	return nil
}

// RecordDispense increments the item counter and observes the actuation
// duration for each outcome.
func (s *PromSink) RecordDispense(evs []coremetrics.DispenseEvent) error {
	for _, ev := range evs {
		slot := strconv.Itoa(ev.Slot)
		ok := strconv.FormatBool(ev.Success)
		s.dispenses.WithLabelValues(slot, ok).Inc()
		s.duration.WithLabelValues(slot, ok).Observe(ev.Duration.Seconds())
	}
	return nil
}

// RecordRequest observes the exchange duration histogram.
func (s *PromSink) RecordRequest(ev coremetrics.RequestEvent) error {
	s.requests.WithLabelValues(ev.Endpoint, ev.Server, ev.Status).Observe(ev.Duration.Seconds())
	return nil
}
