package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAuthFailureIncrementsLabeledCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.RecordAuthFailure(ReasonTampered)
	r.RecordAuthFailure(ReasonTampered)
	r.RecordAuthFailure(ReasonReplay)

	if got := testutil.ToFloat64(r.AuthFailures.WithLabelValues("tampered")); got != 2 {
		t.Fatalf("tampered count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.AuthFailures.WithLabelValues("replay")); got != 1 {
		t.Fatalf("replay count = %v, want 1", got)
	}
}

func TestUnlabeledCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.NeighborTableFull.Inc()
	r.LogPipelineBusy.Inc()
	r.HuffmanCompressFallback.Inc()
	r.ElectionRuns.Inc()
	r.ElectionRuns.Inc()

	if got := testutil.ToFloat64(r.NeighborTableFull); got != 1 {
		t.Fatalf("neighbor table full = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.ElectionRuns); got != 2 {
		t.Fatalf("election runs = %v, want 2", got)
	}
}

func TestNewRegistryPanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRegistry(reg)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic registering the same counters twice")
		}
	}()
	NewRegistry(reg)
}
