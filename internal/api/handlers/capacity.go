// Package handlers contains the HTTP handler implementations for the
// capacity controller API: the reconciliation trigger, the manual action
// endpoint, the state query, and the heartbeat/session surface consumed by
// client sessions.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"capacityd/internal/activity"
	"capacityd/internal/core"
	"capacityd/internal/schedule"
	"capacityd/internal/types"
)

// --- Service Interfaces ---
//
// Defined locally following the handler injection pattern: handlers depend
// on abstractions for testability rather than on concrete implementations.

// CapacityService is the orchestrator surface the handler drives.
// Mirrors the concrete manager.Manager methods used here.
type CapacityService interface {
	ReconcileSchedule(ctx context.Context) (schedule.Summary, error)
	State(ctx context.Context) (types.CapacityState, error)
	Apply(ctx context.Context, action types.CapacityAction) (types.ActionResult, error)
	EnsureResumed(ctx context.Context) (types.ActionResult, error)
}

// HeartbeatRecorder is the activity aggregation write path.
type HeartbeatRecorder interface {
	RecordHeartbeat(ctx context.Context, userID string) error
}

// SessionTracker is the per-session inactivity surface.
type SessionTracker interface {
	StartSession(sessionID string)
	EndSession(sessionID string)
	RecordActivity(sessionID string) bool
	AcknowledgeWarning(ctx context.Context, sessionID string) (types.ActionResult, error)
	Snapshot(sessionID string) (activity.SessionState, bool)
}

// --- Request/Response Models ---

// ActionRequest is the body for POST /v1/capacity/action.
type ActionRequest struct {
	Action string `json:"action" validate:"required,oneof=resume suspend"`
}

// HeartbeatRequest is the body for POST /v1/capacity/heartbeat.
type HeartbeatRequest struct {
	UserID string `json:"user_id" validate:"required,max=200"`
}

// StateResponse is the body for GET /v1/capacity/state.
type StateResponse struct {
	State types.CapacityState `json:"state"`
}

// ActivityResponse reports whether an input-activity sample triggered the
// on-demand resume path, and its result when it did.
type ActivityResponse struct {
	ResumeChecked bool                `json:"resume_checked"`
	Result        *types.ActionResult `json:"result,omitempty"`
}

// --- Handler ---

// CapacityHandler exposes the controller's HTTP surface.
type CapacityHandler struct {
	service    CapacityService
	heartbeats HeartbeatRecorder
	sessions   SessionTracker
	validator  *core.Validator
	logger     *slog.Logger
}

// NewCapacityHandler creates a CapacityHandler.
func NewCapacityHandler(
	service CapacityService,
	heartbeats HeartbeatRecorder,
	sessions SessionTracker,
	validator *core.Validator,
	logger *slog.Logger,
) *CapacityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CapacityHandler{
		service:    service,
		heartbeats: heartbeats,
		sessions:   sessions,
		validator:  validator,
		logger:     logger,
	}
}

// RegisterRoutes mounts the capacity routes under /capacity.
func (h *CapacityHandler) RegisterRoutes(r chi.Router) {
	r.Route("/capacity", func(r chi.Router) {
		r.Post("/reconcile", h.HandleReconcile)
		r.Get("/state", h.HandleState)
		r.Post("/action", h.HandleAction)
		r.Post("/heartbeat", h.HandleHeartbeat)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/start", h.HandleSessionStart)
			r.Delete("/", h.HandleSessionEnd)
			r.Post("/activity", h.HandleSessionActivity)
			r.Post("/acknowledge", h.HandleAcknowledge)
			r.Get("/", h.HandleSessionState)
		})
	})
}

// HandleReconcile runs schedule reconciliation on demand, e.g. after the
// administration surface changes the schedule rows. Idempotent: an
// unchanged schedule touches no triggers.
func (h *CapacityHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.ReconcileSchedule(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: summary})
}

// HandleState returns the currently observed capacity state with no side
// effects. Provider failures surface as Unavailable rather than an error:
// the display surface wants a state, not a stack trace.
func (h *CapacityHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.State(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "state query degraded to unavailable",
			"error", err,
		)
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: StateResponse{State: state}})
}

// HandleAction performs a manual administrator resume or suspend. Unknown
// actions are rejected with 400; provider failures propagate so the
// administrator sees them instead of a silent revert.
func (h *CapacityHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.Apply(r.Context(), types.CapacityAction(req.Action))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// HandleHeartbeat records a periodic activity heartbeat for a user. Written
// on a fixed interval by the session surface while a tab is open and
// focused; consumed only in aggregate.
func (h *CapacityHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.heartbeats.RecordHeartbeat(r.Context(), req.UserID); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSessionStart registers a session with the inactivity tracker.
func (h *CapacityHandler) HandleSessionStart(w http.ResponseWriter, r *http.Request) {
	h.sessions.StartSession(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

// HandleSessionEnd releases all tracker state for the session.
func (h *CapacityHandler) HandleSessionEnd(w http.ResponseWriter, r *http.Request) {
	h.sessions.EndSession(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

// HandleSessionActivity records an input-event sample for the session. When
// the session had been idle past the capacity threshold, the on-demand
// resume check runs and its outcome is returned so the client can tell the
// user whether the capacity is back.
func (h *CapacityHandler) HandleSessionActivity(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if !h.sessions.RecordActivity(sessionID) {
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ActivityResponse{}})
		return
	}

	result, err := h.service.EnsureResumed(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: ActivityResponse{ResumeChecked: true, Result: &result},
	})
}

// HandleAcknowledge dismisses the session's inactivity warning and, when
// the session had gone beyond the capacity-idle threshold, runs the resume
// check and returns its result.
func (h *CapacityHandler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.AcknowledgeWarning(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// HandleSessionState returns the session's inactivity snapshot, letting the
// client render the warning without keeping its own timer state.
func (h *CapacityHandler) HandleSessionState(w http.ResponseWriter, r *http.Request) {
	state, ok := h.sessions.Snapshot(chi.URLParam(r, "sessionID"))
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundSession, "unknown session", nil))
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: state})
}
