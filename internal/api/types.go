package api

import (
	"time"

	"github.com/carepulse/carepulse/internal/domain"
)

type CreateOnceRequest struct {
	UserRef  string         `json:"user_ref"`
	Name     string         `json:"name,omitempty"` // carried into the payload
	RunAt    string         `json:"run_at"`         // RFC3339, or zone-less wall clock in timezone
	Timezone string         `json:"timezone,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

type CreateTriggerRequest struct {
	UserRef  string         `json:"user_ref"`
	Rule     string         `json:"rule"`
	Timezone string         `json:"timezone,omitempty"`
	NextRun  string         `json:"next_run,omitempty"` // RFC3339 or zone-less; seeded from the rule when absent
	Payload  map[string]any `json:"payload,omitempty"`
}

// CreateCadenceRequest builds the rule from a structured cadence instead
// of a raw rule string. Weekdays are 0=Monday through 6=Sunday.
type CreateCadenceRequest struct {
	UserRef         string         `json:"user_ref"`
	Cadence         string         `json:"cadence"`
	PreferredHour   *int           `json:"preferred_hour,omitempty"`
	PreferredMinute *int           `json:"preferred_minute,omitempty"`
	Weekdays        []int          `json:"weekdays,omitempty"`
	Interval        int            `json:"interval,omitempty"`
	StartAt         string         `json:"start_at,omitempty"` // RFC3339, or zone-less wall clock in timezone
	Timezone        string         `json:"timezone,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
}

type TriggerResponse struct {
	ID        string         `json:"id"`
	UserRef   string         `json:"user_ref"`
	Kind      string         `json:"kind"`
	Rule      string         `json:"rule"`
	Timezone  string         `json:"timezone"`
	NextRun   string         `json:"next_run"`
	Payload   map[string]any `json:"payload,omitempty"`
	Status    string         `json:"status"`
	CreatedAt string         `json:"created_at"`
}

type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
}

type SweepResponse struct {
	Processed int `json:"processed"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func triggerResponse(t domain.Trigger) TriggerResponse {
	return TriggerResponse{
		ID:        t.ID.String(),
		UserRef:   t.UserRef,
		Kind:      string(t.Kind),
		Rule:      t.Rule,
		Timezone:  t.Timezone,
		NextRun:   formatTime(t.NextRun),
		Payload:   t.Payload,
		Status:    string(t.Status),
		CreatedAt: formatTime(t.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
