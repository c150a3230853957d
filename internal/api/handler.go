// Package api exposes trigger management and the sweep endpoint over
// HTTP. Every /v1 route is gated by a static bearer token; /health is
// open for probes.
package api

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carepulse/carepulse/internal/domain"
	"github.com/carepulse/carepulse/internal/rrule"
	"github.com/carepulse/carepulse/internal/schedule"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

type Store interface {
	CreateTrigger(ctx context.Context, t domain.Trigger) error
	GetTrigger(ctx context.Context, id uuid.UUID) (domain.Trigger, error)
	ListTriggers(ctx context.Context, userRef string, limit, offset int) ([]domain.Trigger, error)
	CancelTrigger(ctx context.Context, id uuid.UUID) error
}

// Sweeper runs one due-processing batch. Satisfied by sweeper.Sweeper.
type Sweeper interface {
	Sweep(ctx context.Context, batchSize int) (int, error)
}

// Calculator seeds next_run for new triggers. Satisfied by
// schedule.Calculator.
type Calculator interface {
	Next(rule, timezone string, after time.Time, inclusive bool) (time.Time, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// MetricsSink records trigger lifecycle metrics. All methods are
// fire-and-forget.
type MetricsSink interface {
	TriggerCreated(kind string)
	TriggerCanceled()
}

type Handler struct {
	store   Store
	sweeper Sweeper
	calc    Calculator
	token   string

	defaultHour   int
	defaultMinute int

	db      HealthChecker
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func NewHandler(store Store, sweeper Sweeper, calc Calculator, token string) *Handler {
	return &Handler{
		store:         store,
		sweeper:       sweeper,
		calc:          calc,
		token:         token,
		defaultHour:   rrule.DefaultHour,
		defaultMinute: rrule.DefaultMinute,
		clock:         time.Now,
	}
}

// WithCheckinDefaults overrides the default check-in time applied when a
// cadence request omits preferred_hour / preferred_minute.
func (h *Handler) WithCheckinDefaults(hour, minute int) *Handler {
	h.defaultHour = hour
	h.defaultMinute = minute
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithMetrics attaches a metrics sink.
func (h *Handler) WithMetrics(sink MetricsSink) *Handler {
	h.metrics = sink
	return h
}

// WithClock overrides the time source. Intended for tests.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/health" && r.Method == http.MethodGet {
		h.health(w, r)
		return
	}

	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="carepulse"`)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch {
	case path == "/v1/triggers/once" && r.Method == http.MethodPost:
		h.createOnce(w, r)

	case path == "/v1/triggers/cadence" && r.Method == http.MethodPost:
		h.createCadence(w, r)

	case path == "/v1/triggers" && r.Method == http.MethodPost:
		h.createTrigger(w, r)

	case path == "/v1/triggers" && r.Method == http.MethodGet:
		h.listTriggers(w, r)

	case strings.HasPrefix(path, "/v1/triggers/") && r.Method == http.MethodGet:
		h.getTrigger(w, r)

	case strings.HasPrefix(path, "/v1/triggers/") && r.Method == http.MethodDelete:
		h.cancelTrigger(w, r)

	case path == "/v1/sweep" && r.Method == http.MethodPost:
		h.sweep(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// authorized checks the bearer token in constant time. An empty
// configured token rejects everything rather than opening the API.
func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	presented := auth[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) == 1
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) createOnce(w http.ResponseWriter, r *http.Request) {
	var req CreateOnceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	runAt, err := validateCreateOnce(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timezone: "+err.Error())
		return
	}

	payload := req.Payload
	if req.Name != "" {
		if payload == nil {
			payload = make(map[string]any, 1)
		}
		payload["name"] = req.Name
	}

	now := h.clock().UTC()
	trigger := domain.Trigger{
		ID:        uuid.New(),
		UserRef:   req.UserRef,
		Kind:      domain.TriggerKindOneOff,
		Rule:      rrule.BuildOneOff(runAt.In(loc)),
		Timezone:  tz,
		NextRun:   runAt.UTC(),
		Payload:   payload,
		Status:    domain.TriggerStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateTrigger(r.Context(), trigger); err != nil {
		log.Printf("api: create one-off trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create trigger")
		return
	}
	if h.metrics != nil {
		h.metrics.TriggerCreated(string(trigger.Kind))
	}

	writeJSON(w, http.StatusCreated, triggerResponse(trigger))
}

func (h *Handler) createTrigger(w http.ResponseWriter, r *http.Request) {
	var req CreateTriggerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := validateCreateTrigger(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}

	// A caller may supply next_run to seed the first occurrence itself;
	// the rule still has to parse so advance won't choke on it later.
	var seed *time.Time
	if req.NextRun != "" {
		nextRun, err := parseInstant(req.NextRun, tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid next_run: "+err.Error())
			return
		}
		if _, err := rrule.Parse(req.Rule); err != nil {
			writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
			return
		}
		utc := nextRun.UTC()
		seed = &utc
	}

	h.persistRecurring(w, r, req.UserRef, req.Rule, tz, seed, req.Payload)
}

func (h *Handler) createCadence(w http.ResponseWriter, r *http.Request) {
	var req CreateCadenceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := validateCreateCadence(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}

	spec := rrule.CadenceSpec{
		Cadence:         rrule.Cadence(req.Cadence),
		PreferredHour:   req.PreferredHour,
		PreferredMinute: req.PreferredMinute,
		Weekdays:        req.Weekdays,
		Interval:        req.Interval,
	}
	if spec.PreferredHour == nil {
		hour := h.defaultHour
		spec.PreferredHour = &hour
	}
	if spec.PreferredMinute == nil {
		minute := h.defaultMinute
		spec.PreferredMinute = &minute
	}
	if req.StartAt != "" {
		startAt, err := parseInstant(req.StartAt, tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start_at: "+err.Error())
			return
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timezone: "+err.Error())
			return
		}
		local := startAt.In(loc)
		spec.StartAt = &local
	}

	rule, err := rrule.Build(spec)
	if err != nil {
		var verr rrule.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.persistRecurring(w, r, req.UserRef, rule, tz, nil, req.Payload)
}

// persistRecurring seeds next_run inclusively at the current instant
// (unless the caller supplied one) and stores the trigger. A rule
// already exhausted at creation is rejected.
func (h *Handler) persistRecurring(w http.ResponseWriter, r *http.Request, userRef, rule, tz string, seed *time.Time, payload map[string]any) {
	now := h.clock().UTC()

	var nextRun time.Time
	if seed != nil {
		nextRun = *seed
	} else {
		var err error
		nextRun, err = h.calc.Next(rule, tz, now, true)
		if err != nil {
			if errors.Is(err, schedule.ErrNoFutureOccurrence) {
				writeError(w, http.StatusUnprocessableEntity, "rule has no future occurrence")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
			return
		}
	}

	trigger := domain.Trigger{
		ID:        uuid.New(),
		UserRef:   userRef,
		Kind:      domain.TriggerKindRecurring,
		Rule:      rule,
		Timezone:  tz,
		NextRun:   nextRun,
		Payload:   payload,
		Status:    domain.TriggerStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateTrigger(r.Context(), trigger); err != nil {
		log.Printf("api: create trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create trigger")
		return
	}
	if h.metrics != nil {
		h.metrics.TriggerCreated(string(trigger.Kind))
	}

	writeJSON(w, http.StatusCreated, triggerResponse(trigger))
}

func (h *Handler) listTriggers(w http.ResponseWriter, r *http.Request) {
	userRef := r.URL.Query().Get("user_ref")
	if userRef == "" {
		writeError(w, http.StatusBadRequest, "user_ref is required")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	triggers, err := h.store.ListTriggers(r.Context(), userRef, limit, offset)
	if err != nil {
		log.Printf("api: list triggers error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list triggers")
		return
	}

	resp := ListTriggersResponse{Triggers: make([]TriggerResponse, len(triggers))}
	for i, t := range triggers {
		resp.Triggers[i] = triggerResponse(t)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := triggerIDFromPath(w, r)
	if !ok {
		return
	}

	trigger, err := h.store.GetTrigger(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: get trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get trigger")
		return
	}

	writeJSON(w, http.StatusOK, triggerResponse(trigger))
}

func (h *Handler) cancelTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := triggerIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.store.CancelTrigger(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: cancel trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel trigger")
		return
	}
	if h.metrics != nil {
		h.metrics.TriggerCanceled()
	}

	w.WriteHeader(http.StatusNoContent)
}

// SweepRequest optionally overrides the batch size for one invocation.
type SweepRequest struct {
	BatchSize int `json:"batch_size,omitempty"`
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if req.BatchSize < 0 {
		writeError(w, http.StatusBadRequest, "batch_size must not be negative")
		return
	}

	processed, err := h.sweeper.Sweep(r.Context(), req.BatchSize)
	if err != nil {
		log.Printf("api: sweep error: %v", err)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}

	writeJSON(w, http.StatusOK, SweepResponse{Processed: processed})
}

// triggerIDFromPath extracts the trigger ID from /v1/triggers/{id}.
func triggerIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "v1" || parts[1] != "triggers" {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger id")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
