package metrics_test

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/kanchonet/kanchonet-go/metrics"
)

func gaugeValue(t *testing.T, m interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if out.Gauge != nil {
		return out.Gauge.GetValue()
	}
	if out.Counter != nil {
		return out.Counter.GetValue()
	}
	t.Fatalf("metric has neither gauge nor counter value")
	return 0
}

func TestNewCollectorRegistersEveryMetric(t *testing.T) {
	c := metrics.NewCollector()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected at least one registered metric family")
	}
}

func TestCollectorCountersAccumulate(t *testing.T) {
	c := metrics.NewCollector()

	c.ActiveSessions.Inc()
	c.ActiveSessions.Inc()
	c.ActiveSessions.Dec()
	if got := gaugeValue(t, c.ActiveSessions); got != 1 {
		t.Fatalf("ActiveSessions = %v, want 1", got)
	}

	c.AcceptsTotal.Inc()
	c.AcceptsTotal.Inc()
	if got := gaugeValue(t, c.AcceptsTotal); got != 2 {
		t.Fatalf("AcceptsTotal = %v, want 2", got)
	}

	c.DisconnectsTotal.WithLabelValues("unknown").Inc()
	c.BytesReceived.Add(128)
	if got := gaugeValue(t, c.BytesReceived); got != 128 {
		t.Fatalf("BytesReceived = %v, want 128", got)
	}
}
