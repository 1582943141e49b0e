package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) []*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	return families
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestPrometheusMetrics_NewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestPrometheusMetrics_RecordEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordEvent("stripe", "customer.subscription.created", "applied")
	metrics.RecordEvent("stripe", "customer.subscription.created", "duplicate")
	metrics.RecordEvent("stripe", "invoice.paid", "applied")

	family := findFamily(gather(t, reg), "test_reconciler_events_total")
	if family == nil {
		t.Fatal("events_total family not found")
	}
	if len(family.Metric) != 3 {
		t.Errorf("time series = %d, want 3", len(family.Metric))
	}
}

func TestPrometheusMetrics_RecordProcessingDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordProcessingDuration("stripe", "invoice.paid", 42*time.Millisecond)

	family := findFamily(gather(t, reg), "test_reconciler_processing_duration_seconds")
	if family == nil {
		t.Fatal("processing_duration_seconds family not found")
	}
	if got := family.Metric[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestPrometheusMetrics_RecordTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordTransition("stripe", "active", "past_due")
	metrics.RecordTransition("stripe", "active", "past_due")
	metrics.RecordTransition("stripe", "past_due", "active")

	family := findFamily(gather(t, reg), "test_reconciler_transitions_total")
	if family == nil {
		t.Fatal("transitions_total family not found")
	}
	if len(family.Metric) != 2 {
		t.Errorf("time series = %d, want 2", len(family.Metric))
	}
	for _, m := range family.Metric {
		labels := map[string]string{}
		for _, l := range m.Label {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["from_status"] == "active" && m.GetCounter().GetValue() != 2 {
			t.Errorf("active->past_due count = %v, want 2", m.GetCounter().GetValue())
		}
	}
}

func TestPrometheusMetrics_RecordProvisioningAndErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordProvisioning("stripe", "grant", "success")
	metrics.RecordProvisioning("stripe", "grant", "retry")
	metrics.RecordError("stripe", "dedup_unavailable")
	metrics.RecordConflictRetry("stripe")

	families := gather(t, reg)
	for _, name := range []string{
		"test_reconciler_provisioning_total",
		"test_reconciler_errors_total",
		"test_reconciler_conflict_retries_total",
	} {
		if findFamily(families, name) == nil {
			t.Errorf("family %q not found", name)
		}
	}
}

func TestPrometheusMetrics_DefaultMetrics(t *testing.T) {
	metrics := DefaultMetrics("test_default")

	if metrics == nil {
		t.Fatal("DefaultMetrics returned nil")
	}

	// Verify it works against the default registerer
	metrics.RecordEvent("stripe", "invoice.paid", "applied")
	metrics.RecordConflictRetry("stripe")
}
