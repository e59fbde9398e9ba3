package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"capacityd/internal/types"
)

// recordThrottle bounds how often rapid input events can update a session's
// last-activity timestamp.
const recordThrottle = time.Second

// ResumeChecker is the orchestrator's on-demand resume path. Invoked when a
// session that went beyond the capacity-idle threshold becomes active again.
type ResumeChecker interface {
	EnsureResumed(ctx context.Context) (types.ActionResult, error)
}

// SessionState is the inactivity state of one client session.
type SessionState struct {
	LastActivity            time.Time `json:"last_activity"`
	WarningShown            bool      `json:"warning_shown"`
	BeyondCapacityThreshold bool      `json:"beyond_capacity_threshold"`
}

// Tracker maintains per-session inactivity state. Sessions are created on
// session start and must be ended on session teardown so no state outlives
// its owner. Two thresholds apply to a session's last-activity age: the
// warning threshold surfaces a dismissible inactivity warning, and the
// longer capacity-idle threshold marks the session as likely to need a
// capacity resume on its next interaction.
type Tracker struct {
	warningAfter time.Duration
	idleAfter    time.Duration
	resumer      ResumeChecker
	logger       *slog.Logger
	nowFn        func() time.Time

	mu       sync.Mutex
	sessions map[string]*SessionState
	stop     chan struct{}
	stopOnce sync.Once
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerNowFunc overrides the clock. For tests.
func WithTrackerNowFunc(fn func() time.Time) TrackerOption {
	return func(t *Tracker) { t.nowFn = fn }
}

// NewTracker creates a Tracker. warningAfter must be <= idleAfter; config
// validation enforces the ordering before this constructor runs.
func NewTracker(warningAfter, idleAfter time.Duration, resumer ResumeChecker, logger *slog.Logger, opts ...TrackerOption) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		warningAfter: warningAfter,
		idleAfter:    idleAfter,
		resumer:      resumer,
		logger:       logger,
		nowFn:        time.Now,
		sessions:     make(map[string]*SessionState),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the periodic threshold sweep. Stop must be called on
// shutdown.
func (t *Tracker) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				t.Sweep()
			}
		}
	}()
}

// Stop halts the sweep goroutine.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// StartSession registers a session, fresh and active as of now. Restarting
// an existing session resets it.
func (t *Tracker) StartSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionID] = &SessionState{LastActivity: t.nowFn().UTC()}
}

// EndSession releases all state for the session.
func (t *Tracker) EndSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// RecordActivity notes an input event (pointer move, key press, touch,
// scroll) for the session. Updates are throttled to at most one per second
// regardless of event frequency, bounding the cost of rapid input.
//
// The returned flag is true when the session had gone beyond the
// capacity-idle threshold before this event: the caller should run the
// orchestrator's on-demand resume check, since the capacity may have been
// suspended while the user was away.
func (t *Tracker) RecordActivity(sessionID string) (resumeCheckNeeded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return false
	}

	now := t.nowFn().UTC()
	if now.Sub(s.LastActivity) < recordThrottle {
		return false
	}

	// A session past the capacity-idle threshold needs the resume check on
	// its next interaction, whether or not the warning is still up.
	resumeCheckNeeded = s.BeyondCapacityThreshold
	s.BeyondCapacityThreshold = false

	// The dismissible warning stays up until explicitly acknowledged; raw
	// input does not clear it or move the activity clock.
	if s.WarningShown {
		return resumeCheckNeeded
	}

	s.LastActivity = now
	return resumeCheckNeeded
}

// AcknowledgeWarning dismisses the inactivity warning: last activity resets
// to now and both threshold flags clear. If the session had passed the
// capacity-idle threshold, the orchestrator's on-demand resume check runs
// and its result is returned to the caller rather than being dropped, so
// the user can be told when the capacity could not be brought back.
func (t *Tracker) AcknowledgeWarning(ctx context.Context, sessionID string) (types.ActionResult, error) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return types.ActionResult{}, types.NewAppError(
			types.ErrCodeNotFoundSession, "unknown session", nil)
	}

	wasBeyond := s.BeyondCapacityThreshold
	s.LastActivity = t.nowFn().UTC()
	s.WarningShown = false
	s.BeyondCapacityThreshold = false
	t.mu.Unlock()

	if !wasBeyond {
		return types.ActionResult{}, nil
	}

	t.logger.InfoContext(ctx, "idle session acknowledged warning; running resume check",
		"session_id", sessionID,
	)
	return t.resumer.EnsureResumed(ctx)
}

// Sweep applies the two thresholds to every session's last-activity age.
// Flags only latch on here; they are cleared by acknowledgement or activity.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFn().UTC()
	for id, s := range t.sessions {
		age := now.Sub(s.LastActivity)
		if age >= t.warningAfter && !s.WarningShown {
			s.WarningShown = true
			t.logger.Debug("inactivity warning raised", "session_id", id)
		}
		if age >= t.idleAfter && !s.BeyondCapacityThreshold {
			s.BeyondCapacityThreshold = true
			t.logger.Debug("session beyond capacity-idle threshold", "session_id", id)
		}
	}
}

// Snapshot returns a copy of the session's current state.
func (t *Tracker) Snapshot(sessionID string) (SessionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return SessionState{}, false
	}
	return *s, true
}
