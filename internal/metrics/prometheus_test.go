package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusSink(reg), reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestSweepMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.SweepStarted()
	sink.SweepStarted()
	sink.SweepCompleted(50*time.Millisecond, 3, nil)
	sink.SweepCompleted(10*time.Millisecond, 0, errors.New("store down"))

	if got := getCounterValue(t, reg, "carepulse_sweep_runs_total"); got != 2 {
		t.Errorf("sweep runs = %v, want 2", got)
	}
	if got := getCounterValue(t, reg, "carepulse_sweep_triggers_processed_total"); got != 3 {
		t.Errorf("processed = %v, want 3", got)
	}
	if got := getCounterValue(t, reg, "carepulse_sweep_errors_total"); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestAlertMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.AlertEmitted()
	sink.AlertEmitted()
	sink.AlertEmitError()
	sink.StaleTriggerSkipped()
	sink.DedupSkipped()

	if got := getCounterValue(t, reg, "carepulse_alerts_emitted_total"); got != 2 {
		t.Errorf("emitted = %v, want 2", got)
	}
	if got := getCounterValue(t, reg, "carepulse_alert_emit_errors_total"); got != 1 {
		t.Errorf("emit errors = %v, want 1", got)
	}
	if got := getCounterValue(t, reg, "carepulse_sweep_stale_skipped_total"); got != 1 {
		t.Errorf("stale skipped = %v, want 1", got)
	}
	if got := getCounterValue(t, reg, "carepulse_sweep_dedup_skipped_total"); got != 1 {
		t.Errorf("dedup skipped = %v, want 1", got)
	}
}

func TestTriggerMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TriggerCreated("recurring")
	sink.TriggerCreated("recurring")
	sink.TriggerCreated("one_off")
	sink.TriggerCanceled()

	if got := getCounterVecValue(t, reg, "carepulse_triggers_created_total", map[string]string{"kind": "recurring"}); got != 2 {
		t.Errorf("recurring created = %v, want 2", got)
	}
	if got := getCounterVecValue(t, reg, "carepulse_triggers_created_total", map[string]string{"kind": "one_off"}); got != 1 {
		t.Errorf("one_off created = %v, want 1", got)
	}
	if got := getCounterValue(t, reg, "carepulse_triggers_canceled_total"); got != 1 {
		t.Errorf("canceled = %v, want 1", got)
	}
}

func TestLeaderMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.LeaderStatusChanged(true)
	if got := getGaugeValue(t, reg, "carepulse_leader_status"); got != 1 {
		t.Errorf("leader status = %v, want 1", got)
	}

	sink.LeaderStatusChanged(false)
	if got := getGaugeValue(t, reg, "carepulse_leader_status"); got != 0 {
		t.Errorf("leader status = %v, want 0", got)
	}

	sink.LeaderAcquired()
	sink.LeaderLost("conn_lost")

	if got := getCounterValue(t, reg, "carepulse_leader_acquired_total"); got != 1 {
		t.Errorf("acquired = %v, want 1", got)
	}
	if got := getCounterVecValue(t, reg, "carepulse_leader_lost_total", map[string]string{"reason": "conn_lost"}); got != 1 {
		t.Errorf("lost = %v, want 1", got)
	}
}

func TestDoubleRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg)
	// Second sink on the same registry logs and keeps going.
	NewPrometheusSink(reg)
}
