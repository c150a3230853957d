package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) SweepStarted()                                              {}
func (n *NoopSink) SweepCompleted(duration time.Duration, p int, err error)    {}
func (n *NoopSink) AlertEmitted()                                              {}
func (n *NoopSink) AlertEmitError()                                            {}
func (n *NoopSink) StaleTriggerSkipped()                                       {}
func (n *NoopSink) DedupSkipped()                                              {}
func (n *NoopSink) TriggerCreated(kind string)                                 {}
func (n *NoopSink) TriggerCanceled()                                           {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                          {}
func (n *NoopSink) LeaderAcquired()                                            {}
func (n *NoopSink) LeaderLost(reason string)                                   {}
