// Package reader turns raw tag-reader input into validated, debounced
// identifiers. It is transport-agnostic: serial lines, console input and
// MQTT-bridged readers all satisfy Transport.
package reader

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/carebridge/dispenser/core/logger"
	"github.com/carebridge/dispenser/core/metrics"
	"github.com/carebridge/dispenser/core/model"
)

// ErrNoData is returned by a Transport when no line is pending. It is the
// normal idle case, not a failure.
var ErrNoData = errors.New("reader: no data")

// Transport supplies one raw identifier line per call without blocking.
type Transport interface {
	ReadLine() (string, error)
	Close() error
}

// Accepted identifier shapes: hex 6-12, K followed by 3-4 digits, or
// decimal 6-12. Checked after normalization.
var shapes = []*regexp.Regexp{
	regexp.MustCompile(`^[A-F0-9]{6,12}$`),
	regexp.MustCompile(`^K[0-9]{3,4}$`),
	regexp.MustCompile(`^[0-9]{6,12}$`),
}

// Stats carries the reader's diagnostic counters.
type Stats struct {
	Polls      uint64
	Received   uint64
	Rejected   uint64
	Suppressed uint64
	Accepted   uint64
	Errors     uint64
}

// Reader acquires, validates and debounces identifiers.
type Reader struct {
	transport Transport
	debounce  time.Duration
	sink      metrics.Sink
	log       logger.Logger
	now       func() time.Time

	mu     sync.Mutex
	lastID model.Identifier
	lastAt time.Time
	stats  Stats
}

// New creates a Reader over the given transport. A non-positive debounce
// falls back to two seconds, matching the sustained-presence window of the
// deployed tag readers. sink may be nil.
func New(t Transport, debounce time.Duration, sink metrics.Sink, log logger.Logger) *Reader {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Reader{transport: t, debounce: debounce, sink: sink, log: log, now: time.Now}
}

// Read returns the next accepted identifier, or false when this poll cycle
// produced none. Transport errors are logged and absorbed; the poll loop
// must keep running.
func (r *Reader) Read() (model.Identifier, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Polls++

	line, err := r.transport.ReadLine()
	if err != nil {
		if !errors.Is(err, ErrNoData) {
			r.stats.Errors++
			r.log.Warnf("transport read: %v", err)
		}
		return "", false
	}
	r.stats.Received++

	id, ok := Normalize(line)
	if !ok {
		r.stats.Rejected++
		r.log.Debugf("rejected input %q", line)
		r.record("", false)
		return "", false
	}

	now := r.now()
	if id == r.lastID && now.Sub(r.lastAt) < r.debounce {
		r.stats.Suppressed++
		r.log.Debugf("suppressed repeat of %s within debounce window", id)
		r.record(string(id), false)
		return "", false
	}

	r.lastID = id
	r.lastAt = now
	r.stats.Accepted++
	r.log.Infof("identifier accepted: %s", id)
	r.record(string(id), true)
	return id, true
}

// record mirrors a scan outcome to the metrics sink. Rejected raw input is
// reported without the identifier.
func (r *Reader) record(id string, accepted bool) {
	if err := r.sink.RecordScan(metrics.ScanEvent{
		Identifier: id,
		Accepted:   accepted,
		At:         r.now(),
	}); err != nil {
		r.log.Warnf("record scan: %v", err)
	}
}

// Stats returns a snapshot of the diagnostic counters.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close releases the underlying transport.
func (r *Reader) Close() error { return r.transport.Close() }

// Normalize uppercases the raw line, strips every non-alphanumeric byte and
// validates the result against the accepted shapes.
func Normalize(raw string) (model.Identifier, bool) {
	var b strings.Builder
	for _, c := range strings.ToUpper(strings.TrimSpace(raw)) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	s := b.String()
	if len(s) < 3 {
		return "", false
	}
	for _, p := range shapes {
		if p.MatchString(s) {
			return model.Identifier(s), true
		}
	}
	return "", false
}
