package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second Register should be tolerated: %v", err)
	}
}

func TestObserveBackendRequestNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(backendRequestsTotal.WithLabelValues("test.list", OutcomeError))
	ObserveBackendRequest("test.list", time.Millisecond, "boom")
	after := testutil.ToFloat64(backendRequestsTotal.WithLabelValues("test.list", OutcomeError))
	if after-before != 1 {
		t.Errorf("error counter delta = %v, want 1", after-before)
	}
}

func TestIncAlert(t *testing.T) {
	before := testutil.ToFloat64(alertsTotal.WithLabelValues("orders", "pending"))
	IncAlert("orders", "pending")
	IncAlert("orders", "pending")
	if got := testutil.ToFloat64(alertsTotal.WithLabelValues("orders", "pending")) - before; got != 2 {
		t.Errorf("alerts delta = %v, want 2", got)
	}
}
