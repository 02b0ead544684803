package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/carebridge/dispenser/core/metrics"
)

func TestPromSink_RecordDispense(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSink(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	ev := coremetrics.DispenseEvent{
		Identifier: "K001",
		MedicineID: "M001",
		Slot:       1,
		Dose:       2,
		Success:    true,
		Duration:   1900 * time.Millisecond,
		At:         time.Now(),
	}
	if err := sink.RecordDispense([]coremetrics.DispenseEvent{ev}); err != nil {
		t.Fatalf("record error: %v", err)
	}

	expected := `
# HELP dispenser_items_total Total number of per-order actuation outcomes
# TYPE dispenser_items_total counter
dispenser_items_total{slot="1",success="true"} 1
`
	if err := testutil.CollectAndCompare(sink.dispenses, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if c := testutil.CollectAndCount(sink.duration); c == 0 {
		t.Errorf("actuation duration not recorded")
	}
}

func TestPromSink_RecordScanAndRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSink(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	if err := sink.RecordScan(coremetrics.ScanEvent{Identifier: "K001", Accepted: true}); err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if err := sink.RecordRequest(coremetrics.RequestEvent{
		Endpoint: "verify-uid",
		Method:   "POST",
		Server:   "primary",
		Status:   "ok",
		Duration: 120 * time.Millisecond,
	}); err != nil {
		t.Fatalf("request error: %v", err)
	}
	if c := testutil.CollectAndCount(sink.scans); c == 0 {
		t.Errorf("scan not recorded")
	}
	if c := testutil.CollectAndCount(sink.requests); c == 0 {
		t.Errorf("request not recorded")
	}
}

func TestPromSink_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromSink(reg); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := NewPromSink(reg); err != nil {
		t.Fatalf("second registration must reuse collectors: %v", err)
	}
}
