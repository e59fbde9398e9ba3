package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capacityd/internal/activity"
	"capacityd/internal/core"
	"capacityd/internal/schedule"
	"capacityd/internal/types"
)

// --- Mocks ---

type mockCapacityService struct {
	summary       schedule.Summary
	reconcileErr  error
	state         types.CapacityState
	stateErr      error
	applyResult   types.ActionResult
	applyErr      error
	appliedAction types.CapacityAction
	ensureResult  types.ActionResult
	ensureErr     error
	ensureCalls   int
}

func (m *mockCapacityService) ReconcileSchedule(ctx context.Context) (schedule.Summary, error) {
	return m.summary, m.reconcileErr
}

func (m *mockCapacityService) State(ctx context.Context) (types.CapacityState, error) {
	return m.state, m.stateErr
}

func (m *mockCapacityService) Apply(ctx context.Context, action types.CapacityAction) (types.ActionResult, error) {
	m.appliedAction = action
	return m.applyResult, m.applyErr
}

func (m *mockCapacityService) EnsureResumed(ctx context.Context) (types.ActionResult, error) {
	m.ensureCalls++
	return m.ensureResult, m.ensureErr
}

type mockHeartbeats struct {
	userIDs []string
	err     error
}

func (m *mockHeartbeats) RecordHeartbeat(ctx context.Context, userID string) error {
	m.userIDs = append(m.userIDs, userID)
	return m.err
}

type mockSessions struct {
	started        []string
	ended          []string
	resumeNeeded   bool
	ackResult      types.ActionResult
	ackErr         error
	snapshot       activity.SessionState
	snapshotExists bool
}

func (m *mockSessions) StartSession(sessionID string) { m.started = append(m.started, sessionID) }
func (m *mockSessions) EndSession(sessionID string)   { m.ended = append(m.ended, sessionID) }
func (m *mockSessions) RecordActivity(sessionID string) bool {
	return m.resumeNeeded
}
func (m *mockSessions) AcknowledgeWarning(ctx context.Context, sessionID string) (types.ActionResult, error) {
	return m.ackResult, m.ackErr
}
func (m *mockSessions) Snapshot(sessionID string) (activity.SessionState, bool) {
	return m.snapshot, m.snapshotExists
}

// --- Helpers ---

type handlerFixture struct {
	service  *mockCapacityService
	beats    *mockHeartbeats
	sessions *mockSessions
	router   chi.Router
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		service:  &mockCapacityService{},
		beats:    &mockHeartbeats{},
		sessions: &mockSessions{},
	}
	h := NewCapacityHandler(f.service, f.beats, f.sessions,
		core.NewValidator(), slog.New(slog.DiscardHandler))
	f.router = chi.NewRouter()
	h.RegisterRoutes(f.router)
	return f
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestHandleReconcile(t *testing.T) {
	f := newHandlerFixture()
	f.service.summary = schedule.Summary{
		ActivityCheckInstalled: true,
		ScheduleWindowCount:    2,
		Rebuilt:                true,
	}

	rec := f.do(t, http.MethodPost, "/capacity/reconcile", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data schedule.Summary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Rebuilt)
	assert.Equal(t, 2, resp.Data.ScheduleWindowCount)
}

func TestHandleReconcileError(t *testing.T) {
	f := newHandlerFixture()
	f.service.reconcileErr = types.NewAppError(types.ErrCodeInternalDB, "settings unavailable", nil)

	rec := f.do(t, http.MethodPost, "/capacity/reconcile", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleState(t *testing.T) {
	f := newHandlerFixture()
	f.service.state = types.StateOff

	rec := f.do(t, http.MethodGet, "/capacity/state", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data StateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.StateOff, resp.Data.State)
}

func TestHandleStateDegradesProviderErrorToUnavailable(t *testing.T) {
	f := newHandlerFixture()
	f.service.state = types.StateUnavailable
	f.service.stateErr = errors.New("provider down")

	rec := f.do(t, http.MethodGet, "/capacity/state", nil)

	// Still 200: the display surface gets a state, not an error page.
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data StateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.StateUnavailable, resp.Data.State)
}

func TestHandleActionResume(t *testing.T) {
	f := newHandlerFixture()
	f.service.applyResult = types.ActionResult{State: types.StateOn, IssuedCall: true}

	rec := f.do(t, http.MethodPost, "/capacity/action", ActionRequest{Action: "resume"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.ActionResume, f.service.appliedAction)
}

func TestHandleActionRejectsUnknownAction(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(t, http.MethodPost, "/capacity/action", ActionRequest{Action: "restart"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.service.appliedAction)
}

func TestHandleActionRejectsMalformedJSON(t *testing.T) {
	f := newHandlerFixture()

	req := httptest.NewRequest(http.MethodPost, "/capacity/action", bytes.NewReader([]byte("{")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleActionPropagatesProviderFailure(t *testing.T) {
	f := newHandlerFixture()
	f.service.applyErr = types.NewAppError(types.ErrCodeUpstreamProvider, "provider error", nil)

	rec := f.do(t, http.MethodPost, "/capacity/action", ActionRequest{Action: "suspend"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleHeartbeat(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(t, http.MethodPost, "/capacity/heartbeat", HeartbeatRequest{UserID: "u1"})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"u1"}, f.beats.userIDs)
}

func TestHandleHeartbeatRequiresUserID(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(t, http.MethodPost, "/capacity/heartbeat", HeartbeatRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.beats.userIDs)
}

func TestHandleSessionLifecycle(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(t, http.MethodPost, "/capacity/sessions/s1/start", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"s1"}, f.sessions.started)

	rec = f.do(t, http.MethodDelete, "/capacity/sessions/s1/", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"s1"}, f.sessions.ended)
}

func TestHandleSessionActivityWithoutResumeCheck(t *testing.T) {
	f := newHandlerFixture()
	f.sessions.resumeNeeded = false

	rec := f.do(t, http.MethodPost, "/capacity/sessions/s1/activity", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data ActivityResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Data.ResumeChecked)
	assert.Nil(t, resp.Data.Result)
	assert.Zero(t, f.service.ensureCalls)
}

func TestHandleSessionActivityTriggersResumeCheck(t *testing.T) {
	f := newHandlerFixture()
	f.sessions.resumeNeeded = true
	f.service.ensureResult = types.ActionResult{State: types.StateResuming, IssuedCall: true}

	rec := f.do(t, http.MethodPost, "/capacity/sessions/s1/activity", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data ActivityResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.ResumeChecked)
	require.NotNil(t, resp.Data.Result)
	assert.Equal(t, types.StateResuming, resp.Data.Result.State)
	assert.Equal(t, 1, f.service.ensureCalls)
}

func TestHandleAcknowledge(t *testing.T) {
	f := newHandlerFixture()
	f.sessions.ackResult = types.ActionResult{State: types.StateOn, IssuedCall: true}

	rec := f.do(t, http.MethodPost, "/capacity/sessions/s1/acknowledge", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data types.ActionResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.IssuedCall)
}

func TestHandleAcknowledgeUnknownSession(t *testing.T) {
	f := newHandlerFixture()
	f.sessions.ackErr = types.NewAppError(types.ErrCodeNotFoundSession, "unknown session", nil)

	rec := f.do(t, http.MethodPost, "/capacity/sessions/ghost/acknowledge", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSessionState(t *testing.T) {
	f := newHandlerFixture()
	f.sessions.snapshotExists = true
	f.sessions.snapshot = activity.SessionState{WarningShown: true}

	rec := f.do(t, http.MethodGet, "/capacity/sessions/s1/", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data activity.SessionState `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.WarningShown)
}

func TestHandleSessionStateUnknownSession(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(t, http.MethodGet, "/capacity/sessions/ghost/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
