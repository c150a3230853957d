package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Sweep metrics
	SweepStarted()
	SweepCompleted(duration time.Duration, processed int, err error)
	AlertEmitted()
	AlertEmitError()
	StaleTriggerSkipped()
	DedupSkipped()

	// Trigger lifecycle metrics
	TriggerCreated(kind string)
	TriggerCanceled()

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown", "conn_lost", "error"
}
