package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mercator-hq/governor/pkg/limits"
	"mercator-hq/governor/pkg/limits/storage"
	"mercator-hq/governor/pkg/telemetry/logging"
)

// errorResponse is the JSON body of every error.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sourceView is the JSON rendering of limits.Inspection.
type sourceView struct {
	Source  string              `json:"source"`
	Config  limits.SourceConfig `json:"config"`
	Bucket  bucketView          `json:"bucket"`
	Breaker breakerView         `json:"breaker"`
}

type bucketView struct {
	Capacity   int64     `json:"capacity"`
	Tokens     float64   `json:"tokens"`
	RefillRate float64   `json:"refill_rate_per_second"`
	LastRefill time.Time `json:"last_refill"`
}

type breakerView struct {
	State                string     `json:"state"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	OpenedAt             *time.Time `json:"opened_at,omitempty"`
	ReopensAt            *time.Time `json:"reopens_at,omitempty"`
	CooldownMS           int64      `json:"cooldown_ms"`
	TrialBudget          int        `json:"trial_budget"`
	TrialsInFlight       int        `json:"trials_in_flight"`
}

type sourcesView struct {
	Configured []string          `json:"configured"`
	Disabled   map[string]string `json:"disabled"`
}

type adminHandler struct {
	admin  Admin
	logger *slog.Logger
}

func newSourceView(in limits.Inspection) sourceView {
	b := in.Breaker
	view := sourceView{
		Source: in.Source,
		Config: in.Config,
		Bucket: bucketView{
			Capacity:   in.Bucket.Capacity,
			Tokens:     in.Bucket.Tokens,
			RefillRate: in.Bucket.RefillRate,
			LastRefill: in.Bucket.LastRefill,
		},
		Breaker: breakerView{
			State:                b.State.String(),
			ConsecutiveFailures:  b.ConsecutiveFailures,
			ConsecutiveSuccesses: b.ConsecutiveSuccesses,
			CooldownMS:           b.Cooldown.Milliseconds(),
			TrialBudget:          b.TrialBudget,
			TrialsInFlight:       b.TrialsInFlight,
		},
	}
	if !b.OpenedAt.IsZero() {
		opened := b.OpenedAt
		reopens := b.ReopensAt()
		view.Breaker.OpenedAt = &opened
		view.Breaker.ReopensAt = &reopens
	}
	return view
}

// listSources handles GET /admin/sources.
func (a *adminHandler) listSources(w http.ResponseWriter, r *http.Request) {
	sources := a.admin.Sources()
	view := sourcesView{
		Configured: sources.Configured(),
		Disabled:   make(map[string]string),
	}
	for name, err := range sources.Disabled() {
		view.Disabled[name] = err.Error()
	}
	writeJSON(w, http.StatusOK, view)
}

// inspectSource handles GET /admin/sources/{source}.
func (a *adminHandler) inspectSource(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	ctx := logging.WithSource(r.Context(), source)

	in, err := a.admin.Inspect(ctx, source)
	if err != nil {
		a.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSourceView(in))
}

// resetBreaker handles DELETE /admin/sources/{source}/breaker.
func (a *adminHandler) resetBreaker(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	ctx := logging.WithSource(r.Context(), source)

	if err := a.admin.ResetBreaker(ctx, source); err != nil {
		a.writeAdminError(w, r, err)
		return
	}
	a.logger.InfoContext(ctx, "breaker reset by admin request")
	w.WriteHeader(http.StatusNoContent)
}

// failoverStatus handles GET /admin/failover.
func (a *adminHandler) failoverStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := a.admin.FailoverStatus()
	if !ok {
		writeError(w, http.StatusNotFound, "failover_disabled", "failover is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// writeAdminError maps manager errors to status codes.
func (a *adminHandler) writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, limits.ErrSourceDisabled):
		writeError(w, http.StatusConflict, "source_disabled", err.Error())
	case limits.IsConfigError(err):
		writeError(w, http.StatusBadRequest, "invalid_source", err.Error())
	case storage.IsUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	default:
		a.logger.ErrorContext(r.Context(), "admin request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, errorResponse{Error: errorBody{Code: errCode, Message: message}})
}
