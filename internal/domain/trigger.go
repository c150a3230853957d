package domain

import (
	"time"

	"github.com/google/uuid"
)

type TriggerKind string

const (
	TriggerKindOneOff    TriggerKind = "one_off"
	TriggerKindRecurring TriggerKind = "recurring"
)

type TriggerStatus string

const (
	TriggerStatusActive    TriggerStatus = "active"
	TriggerStatusCanceled  TriggerStatus = "canceled"
	TriggerStatusExhausted TriggerStatus = "exhausted"
)

// IsTerminal reports whether the status permits no further transitions.
func (s TriggerStatus) IsTerminal() bool {
	return s == TriggerStatusCanceled || s == TriggerStatusExhausted
}

// Trigger is a persisted schedule for one subject. NextRun is derived
// solely from (Rule, Timezone, reference instant) and is only ever
// mutated by the store's Advance operation.
type Trigger struct {
	ID      uuid.UUID
	UserRef string

	Kind     TriggerKind
	Rule     string
	Timezone string // IANA zone; all wall-clock math happens here

	NextRun time.Time // UTC
	Payload map[string]any
	Status  TriggerStatus

	// ClaimedAt is the sweep lease stamp. A claimed row is skipped by
	// overlapping sweep invocations until the lease expires.
	ClaimedAt   *time.Time
	LastFiredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
