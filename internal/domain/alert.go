package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	AlertTypeScheduledTrigger = "scheduled_trigger"
	AlertSeverityMedium       = "medium"
	AlertStatusPending        = "pending"
	AlertChannelEmail         = "email"

	// AlertMessageCheckin is the fixed nudge copy attached to every
	// sweep-produced alert. Message generation proper is owned by the
	// downstream notification subsystem.
	AlertMessageCheckin = "Scheduled follow-up ready. Reach out with a gentle nudge."
)

// AlertContext carries the originating trigger's payload and zone so the
// consumer can render the follow-up without a second lookup.
type AlertContext struct {
	Payload  map[string]any `json:"payload"`
	Timezone string         `json:"timezone"`
}

// Alert is the side effect emitted once per detected occurrence.
// Ownership passes to the notification subsystem at insertion.
type Alert struct {
	ID      uuid.UUID
	UserRef string

	Type     string
	Severity string
	Message  string
	Channel  string

	Payload map[string]any
	Context AlertContext
	Status  string

	CreatedAt time.Time
}
