// Package manager implements the auto-manager orchestrator: the decision
// loop composing the schedule reconciler, the activity aggregator, and the
// capacity executor. It is driven by three independent trigger sources —
// schedule window boundaries, the fixed activity check tick, and on-demand
// checks from client interactions — and decides when to resume or suspend.
//
// Tick handlers swallow their own errors and skip the cycle; a missed cycle
// self-corrects on the next tick. Manual and on-demand paths propagate
// errors to their caller so an administrator or user is never silently
// ignored.
package manager

import (
	"context"
	"log/slog"
	"time"

	"capacityd/internal/schedule"
	"capacityd/internal/types"
)

// SettingsSource provides the capacity descriptor and control-loop flags.
// Implemented by db.SettingsRepo.
type SettingsSource interface {
	Get(ctx context.Context) (types.CapacitySettings, error)
}

// WindowSource provides the configured schedule windows.
// Implemented by db.ScheduleRepo.
type WindowSource interface {
	List(ctx context.Context) ([]types.ScheduleWindow, error)
}

// ActivityCounter provides the active-user aggregate.
// Implemented by activity.Aggregator.
type ActivityCounter interface {
	ActiveUserCount(ctx context.Context) (int, error)
}

// CapacityExecutor is the state machine surface the orchestrator drives.
// Implemented by capacity.Executor.
type CapacityExecutor interface {
	GetState(ctx context.Context, d types.CapacityDescriptor) (types.CapacityState, error)
	Resume(ctx context.Context, d types.CapacityDescriptor) (types.ActionResult, error)
	Suspend(ctx context.Context, d types.CapacityDescriptor) (types.ActionResult, error)
	AwaitResumed(ctx context.Context, d types.CapacityDescriptor, maxAttempts int, interval time.Duration) bool
}

// Metrics records control-loop observations. Implemented by core.Metrics;
// NoopMetrics satisfies it for tests.
type Metrics interface {
	TransitionIssued(action types.CapacityAction)
	CycleSkipped(reason string)
	ScheduleRebuilt()
	ObserveActiveUsers(count int)
	ObserveState(state types.CapacityState)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) TransitionIssued(types.CapacityAction) {}
func (NoopMetrics) CycleSkipped(string)                   {}
func (NoopMetrics) ScheduleRebuilt()                      {}
func (NoopMetrics) ObserveActiveUsers(int)                {}
func (NoopMetrics) ObserveState(types.CapacityState)      {}

// Config holds the orchestrator's tunables.
type Config struct {
	// ResumePollAttempts bounds the settle wait after an on-demand resume.
	ResumePollAttempts int
	// ResumePollInterval spaces the settle polls.
	ResumePollInterval time.Duration
}

// Manager is the auto-manager orchestrator.
type Manager struct {
	settings   SettingsSource
	windows    WindowSource
	activity   ActivityCounter
	executor   CapacityExecutor
	reconciler *schedule.Reconciler
	metrics    Metrics
	cfg        Config
	logger     *slog.Logger
	nowFn      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithNowFunc overrides the clock used for window membership checks.
func WithNowFunc(fn func() time.Time) Option {
	return func(m *Manager) { m.nowFn = fn }
}

// New creates a Manager. The reconciler is constructed by the caller so its
// trigger callbacks can point back at this manager (see Callbacks).
func New(
	settings SettingsSource,
	windows WindowSource,
	activity ActivityCounter,
	executor CapacityExecutor,
	metrics Metrics,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	m := &Manager{
		settings: settings,
		windows:  windows,
		activity: activity,
		executor: executor,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetReconciler wires the schedule reconciler after construction, breaking
// the manager/reconciler construction cycle (the reconciler's callbacks
// point at this manager).
func (m *Manager) SetReconciler(r *schedule.Reconciler) {
	m.reconciler = r
}

// Callbacks returns the trigger callbacks the reconciler installs.
func (m *Manager) Callbacks() schedule.Callbacks {
	return schedule.Callbacks{
		OnWindowStart:   m.HandleScheduleStart,
		OnWindowEnd:     m.HandleScheduleEnd,
		OnActivityCheck: m.HandleActivityCheck,
	}
}

// ReconcileSchedule re-derives the trigger set from the persisted schedule
// windows. Invoked at startup and on demand after configuration changes.
// A no-op when the capacity is not auto-managed.
func (m *Manager) ReconcileSchedule(ctx context.Context) (schedule.Summary, error) {
	settings, err := m.settings.Get(ctx)
	if err != nil {
		return schedule.Summary{}, err
	}
	if !settings.AutoManaged {
		m.logger.InfoContext(ctx, "reconciliation skipped: capacity not auto-managed")
		return schedule.Summary{}, nil
	}

	windows, err := m.windows.List(ctx)
	if err != nil {
		return schedule.Summary{}, err
	}

	summary := m.reconciler.Reconcile(ctx, windows)
	if summary.Rebuilt {
		m.metrics.ScheduleRebuilt()
	}
	return summary, nil
}

// State returns the currently observed capacity state with no side effects.
func (m *Manager) State(ctx context.Context) (types.CapacityState, error) {
	settings, err := m.settings.Get(ctx)
	if err != nil {
		return types.StateUnavailable, err
	}
	state, err := m.executor.GetState(ctx, settings.Descriptor)
	m.metrics.ObserveState(state)
	return state, err
}

// Apply performs a manual administrator action. Unknown actions are
// rejected; provider failures propagate so the administrator is not
// silently ignored. Manual actions apply regardless of the auto-managed
// flag.
func (m *Manager) Apply(ctx context.Context, action types.CapacityAction) (types.ActionResult, error) {
	settings, err := m.settings.Get(ctx)
	if err != nil {
		return types.ActionResult{}, err
	}

	var result types.ActionResult
	switch action {
	case types.ActionResume:
		result, err = m.executor.Resume(ctx, settings.Descriptor)
	case types.ActionSuspend:
		result, err = m.executor.Suspend(ctx, settings.Descriptor)
	default:
		return types.ActionResult{}, types.NewAppError(
			types.ErrCodeValidationInvalidAction,
			"action must be resume or suspend", nil)
	}
	if err != nil {
		return result, err
	}
	if result.IssuedCall {
		m.metrics.TransitionIssued(action)
	}
	return result, nil
}

// HandleScheduleStart fires at a window-start boundary: the capacity must be
// on for the duration of the window.
func (m *Manager) HandleScheduleStart(ctx context.Context) {
	settings, ok := m.autoManagedSettings(ctx, "schedule start")
	if !ok {
		return
	}

	result, err := m.executor.Resume(ctx, settings.Descriptor)
	if err != nil {
		m.logger.ErrorContext(ctx, "scheduled resume failed; next cycle will retry",
			"error", err,
		)
		m.metrics.CycleSkipped("resume_error")
		return
	}
	if result.IssuedCall {
		m.metrics.TransitionIssued(types.ActionResume)
	}
	m.logger.InfoContext(ctx, "schedule window started",
		"state", string(result.State),
		"issued_call", result.IssuedCall,
	)
}

// HandleScheduleEnd fires at a window-end boundary. An active user present
// at the scheduled off-time overrides the schedule: the capacity stays up
// and the activity check will suspend it once the user leaves.
func (m *Manager) HandleScheduleEnd(ctx context.Context) {
	settings, ok := m.autoManagedSettings(ctx, "schedule end")
	if !ok {
		return
	}

	count, err := m.activity.ActiveUserCount(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "active user count failed; skipping scheduled suspend",
			"error", err,
		)
		m.metrics.CycleSkipped("activity_error")
		return
	}
	m.metrics.ObserveActiveUsers(count)

	if count > 0 {
		m.logger.InfoContext(ctx, "schedule window ended with active users; suspend skipped",
			"active_users", count,
		)
		m.metrics.CycleSkipped("users_active")
		return
	}

	result, err := m.executor.Suspend(ctx, settings.Descriptor)
	if err != nil {
		m.logger.ErrorContext(ctx, "scheduled suspend failed; next cycle will retry",
			"error", err,
		)
		m.metrics.CycleSkipped("suspend_error")
		return
	}
	if result.IssuedCall {
		m.metrics.TransitionIssued(types.ActionSuspend)
	}
	m.logger.InfoContext(ctx, "schedule window ended",
		"state", string(result.State),
		"issued_call", result.IssuedCall,
	)
}

// HandleActivityCheck fires on the fixed activity check interval. It only
// ever suspends: with zero active users and the instant outside every
// configured window, the capacity is idle and billable for nothing.
// Resume-on-activity is handled by EnsureResumed at the point of
// interaction, where a zero-to-nonzero transition is actually observable.
func (m *Manager) HandleActivityCheck(ctx context.Context) {
	settings, ok := m.autoManagedSettings(ctx, "activity check")
	if !ok {
		return
	}

	count, err := m.activity.ActiveUserCount(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "active user count failed; skipping activity check",
			"error", err,
		)
		m.metrics.CycleSkipped("activity_error")
		return
	}
	m.metrics.ObserveActiveUsers(count)

	if count > 0 {
		return
	}

	windows, err := m.windows.List(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "listing schedule windows failed; skipping activity check",
			"error", err,
		)
		m.metrics.CycleSkipped("windows_error")
		return
	}

	if schedule.IsWithinScheduledTime(m.nowFn(), windows, settings.ScheduledEnabled) {
		// The schedule owns this interval; idleness alone never suspends
		// inside a window.
		return
	}

	result, err := m.executor.Suspend(ctx, settings.Descriptor)
	if err != nil {
		m.logger.ErrorContext(ctx, "idle suspend failed; next cycle will retry",
			"error", err,
		)
		m.metrics.CycleSkipped("suspend_error")
		return
	}
	if result.IssuedCall {
		m.metrics.TransitionIssued(types.ActionSuspend)
		m.logger.InfoContext(ctx, "idle capacity suspended")
	}
}

// EnsureResumed is the on-demand check triggered by a client interaction
// after a period of inactivity. If the capacity is auto-managed and not
// already on or coming up, it issues a resume and briefly polls for the
// capacity to settle so the interacting user gets immediate feedback.
//
// Exhausting the poll budget is not an error: the resume call stands, the
// returned state reports the capacity still in transition, and the caller
// decides how to present that. Errors from the resume call itself propagate.
func (m *Manager) EnsureResumed(ctx context.Context) (types.ActionResult, error) {
	settings, err := m.settings.Get(ctx)
	if err != nil {
		return types.ActionResult{}, err
	}
	if !settings.AutoManaged || !settings.Descriptor.Complete() {
		return types.ActionResult{State: types.StateUnavailable}, nil
	}

	state, err := m.executor.GetState(ctx, settings.Descriptor)
	if err != nil {
		return types.ActionResult{State: state}, err
	}
	if state == types.StateOn || state == types.StateResuming {
		return types.ActionResult{State: state}, nil
	}

	result, err := m.executor.Resume(ctx, settings.Descriptor)
	if err != nil {
		return result, err
	}
	if !result.IssuedCall {
		return result, nil
	}
	m.metrics.TransitionIssued(types.ActionResume)

	if m.executor.AwaitResumed(ctx, settings.Descriptor, m.cfg.ResumePollAttempts, m.cfg.ResumePollInterval) {
		return types.ActionResult{State: types.StateOn, IssuedCall: true}, nil
	}

	m.logger.WarnContext(ctx, "capacity did not settle within the poll budget",
		"attempts", m.cfg.ResumePollAttempts,
	)
	return types.ActionResult{State: types.StateResuming, IssuedCall: true}, nil
}

// autoManagedSettings loads settings for a tick handler and applies the
// auto-managed gate. Errors are logged and swallowed: tick handlers skip
// the cycle rather than propagate.
func (m *Manager) autoManagedSettings(ctx context.Context, tick string) (types.CapacitySettings, bool) {
	settings, err := m.settings.Get(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "loading capacity settings failed; skipping tick",
			"tick", tick,
			"error", err,
		)
		m.metrics.CycleSkipped("settings_error")
		return types.CapacitySettings{}, false
	}
	if !settings.AutoManaged {
		return types.CapacitySettings{}, false
	}
	return settings, true
}
