package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Sweep metrics
	sweepsTotal            prometheus.Counter
	sweepErrorsTotal       prometheus.Counter
	triggersProcessedTotal prometheus.Counter
	sweepDuration          prometheus.Histogram
	alertsEmittedTotal     prometheus.Counter
	alertEmitErrorsTotal   prometheus.Counter
	staleSkippedTotal      prometheus.Counter
	dedupSkippedTotal      prometheus.Counter

	// Trigger lifecycle metrics
	triggersCreatedTotal  *prometheus.CounterVec
	triggersCanceledTotal prometheus.Counter

	// Leader election metrics
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSweepMetrics(reg)
	s.initTriggerMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSweepMetrics(reg prometheus.Registerer) {
	s.sweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carepulse_sweep_runs_total",
		Help: "Total number of sweep invocations.",
	})
	s.sweepErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carepulse_sweep_errors_total",
		Help: "Total number of sweeps that failed before processing a batch.",
	})
	s.triggersProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carepulse_sweep_triggers_processed_total",
		Help: "Total number of due triggers that emitted an alert and advanced.",
	})
	s.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "carepulse_sweep_duration_seconds",
		Help:    "Duration of each sweep in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.alertsEmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carepulse_alerts_emitted_total",
		Help: "Total number of alerts emitted by the sweep.",
	})
	s.alertEmitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carepulse_alert_emit_errors_total",
		Help: "Total number of failed alert insertions.",
	})
	s.staleSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carepulse_sweep_stale_skipped_total",
		Help: "Total number of triggers advanced without an alert because they were too overdue.",
	})
	s.dedupSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carepulse_sweep_dedup_skipped_total",
		Help: "Total number of alerts suppressed by the per-subject dedup window.",
	})

	s.register(reg, s.sweepsTotal, "carepulse_sweep_runs_total")
	s.register(reg, s.sweepErrorsTotal, "carepulse_sweep_errors_total")
	s.register(reg, s.triggersProcessedTotal, "carepulse_sweep_triggers_processed_total")
	s.register(reg, s.sweepDuration, "carepulse_sweep_duration_seconds")
	s.register(reg, s.alertsEmittedTotal, "carepulse_alerts_emitted_total")
	s.register(reg, s.alertEmitErrorsTotal, "carepulse_alert_emit_errors_total")
	s.register(reg, s.staleSkippedTotal, "carepulse_sweep_stale_skipped_total")
	s.register(reg, s.dedupSkippedTotal, "carepulse_sweep_dedup_skipped_total")
}

func (s *PrometheusSink) initTriggerMetrics(reg prometheus.Registerer) {
	s.triggersCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carepulse_triggers_created_total",
		Help: "Total number of triggers created.",
	}, []string{"kind"})
	s.triggersCanceledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carepulse_triggers_canceled_total",
		Help: "Total number of triggers canceled.",
	})

	s.register(reg, s.triggersCreatedTotal, "carepulse_triggers_created_total")
	s.register(reg, s.triggersCanceledTotal, "carepulse_triggers_canceled_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "carepulse_leader_status",
		Help: "Whether this instance currently holds the leader lock (1) or not (0).",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carepulse_leader_acquired_total",
		Help: "Total number of times this instance acquired leadership.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carepulse_leader_lost_total",
		Help: "Total number of times this instance lost leadership.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "carepulse_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "carepulse_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "carepulse_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) SweepStarted() {
	s.sweepsTotal.Inc()
}

func (s *PrometheusSink) SweepCompleted(duration time.Duration, processed int, err error) {
	s.sweepDuration.Observe(duration.Seconds())
	s.triggersProcessedTotal.Add(float64(processed))
	if err != nil {
		s.sweepErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) AlertEmitted() {
	s.alertsEmittedTotal.Inc()
}

func (s *PrometheusSink) AlertEmitError() {
	s.alertEmitErrorsTotal.Inc()
}

func (s *PrometheusSink) StaleTriggerSkipped() {
	s.staleSkippedTotal.Inc()
}

func (s *PrometheusSink) DedupSkipped() {
	s.dedupSkippedTotal.Inc()
}

func (s *PrometheusSink) TriggerCreated(kind string) {
	s.triggersCreatedTotal.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) TriggerCanceled() {
	s.triggersCanceledTotal.Inc()
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
