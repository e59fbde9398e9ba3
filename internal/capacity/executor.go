// Package capacity implements the capacity state machine and action
// executor: the idempotent resume/suspend semantics over the remote,
// slow-settling capacity resource, with per-capacity mutual exclusion so
// concurrent triggers can never issue conflicting calls.
package capacity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"capacityd/internal/types"
)

// Provider is the control-plane surface the executor drives. Implemented by
// external.CapacityClient in production and by fakes in tests.
type Provider interface {
	// GetCapacity returns the raw provider state string for the capacity.
	GetCapacity(ctx context.Context, d types.CapacityDescriptor) (string, error)
	// Resume issues the asynchronous resume call.
	Resume(ctx context.Context, d types.CapacityDescriptor) error
	// Suspend issues the asynchronous suspend call.
	Suspend(ctx context.Context, d types.CapacityDescriptor) error
	// HasCredentials reports whether provider credentials are configured.
	HasCredentials() bool
}

// Executor is the only component that mutates the remote capacity. Every
// transition re-checks the observed state first and reports whether a call
// was actually issued, so callers must treat Resume/Suspend as potentially
// a no-op.
//
// Mutating calls for the same capacity descriptor are serialized through a
// per-name mutex: a schedule-boundary suspend and an on-demand resume firing
// milliseconds apart take turns instead of racing. State reads are lock-free
// but coalesced through singleflight so a burst of concurrent reads costs a
// single provider round trip.
type Executor struct {
	provider Provider
	logger   *slog.Logger
	sleepFn  func(time.Duration) // injectable for poll tests

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	reads singleflight.Group
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSleepFunc overrides the sleep between AwaitResumed polls. For tests.
func WithSleepFunc(fn func(time.Duration)) ExecutorOption {
	return func(e *Executor) { e.sleepFn = fn }
}

// NewExecutor creates an Executor over the given provider.
func NewExecutor(provider Provider, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		provider: provider,
		logger:   logger,
		sleepFn:  time.Sleep,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lockFor returns the mutex serializing mutations of the named capacity.
func (e *Executor) lockFor(name string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[name]
	if !ok {
		l = &sync.Mutex{}
		e.locks[name] = l
	}
	return l
}

// GetState returns the current capacity state. An incomplete descriptor or
// missing credentials short-circuit to Unavailable with no remote call.
// Provider failures also map to Unavailable alongside the typed error, so
// automatic callers can decide without unwrapping while manual callers can
// still surface the failure.
func (e *Executor) GetState(ctx context.Context, d types.CapacityDescriptor) (types.CapacityState, error) {
	if !d.Complete() || !e.provider.HasCredentials() {
		return types.StateUnavailable, nil
	}

	v, err, _ := e.reads.Do(d.Name, func() (any, error) {
		return e.provider.GetCapacity(ctx, d)
	})
	if err != nil {
		return types.StateUnavailable, err
	}

	return types.MapProviderStatus(v.(string)), nil
}

// Resume brings the capacity up. It is a no-op when the capacity is already
// on or a transition is in flight; the result's IssuedCall reports whether a
// provider call happened. On issue, the returned state is the optimistic
// target StateOn.
func (e *Executor) Resume(ctx context.Context, d types.CapacityDescriptor) (types.ActionResult, error) {
	return e.transition(ctx, d, types.ActionResume)
}

// Suspend takes the capacity down, symmetric to Resume with StateOff as the
// optimistic target.
func (e *Executor) Suspend(ctx context.Context, d types.CapacityDescriptor) (types.ActionResult, error) {
	return e.transition(ctx, d, types.ActionSuspend)
}

func (e *Executor) transition(ctx context.Context, d types.CapacityDescriptor, action types.CapacityAction) (types.ActionResult, error) {
	if !d.Complete() || !e.provider.HasCredentials() {
		return types.ActionResult{State: types.StateUnavailable}, nil
	}

	lock := e.lockFor(d.Name)
	lock.Lock()
	defer lock.Unlock()

	// Re-check state under the lock: a concurrent caller may have just
	// issued a transition, and a mutating call must never follow another
	// without an intervening state check.
	state, err := e.GetState(ctx, d)
	if err != nil {
		return types.ActionResult{State: types.StateUnavailable}, err
	}

	target := types.StateOn
	call := e.provider.Resume
	if action == types.ActionSuspend {
		target = types.StateOff
		call = e.provider.Suspend
	}

	if state == target || state.InFlight() {
		e.logger.DebugContext(ctx, "capacity transition skipped",
			"capacity", d.Name,
			"action", string(action),
			"state", string(state),
		)
		return types.ActionResult{State: state}, nil
	}

	if err := call(ctx, d); err != nil {
		return types.ActionResult{State: state}, err
	}

	e.logger.InfoContext(ctx, "capacity transition issued",
		"capacity", d.Name,
		"action", string(action),
		"previous_state", string(state),
	)

	return types.ActionResult{State: target, IssuedCall: true}, nil
}

// AwaitResumed polls the capacity state up to maxAttempts times spaced
// interval apart, returning true the moment the capacity reports on. It
// never fabricates success: exhausting the attempt budget returns false and
// leaves the remote resource exactly as last observed.
func (e *Executor) AwaitResumed(ctx context.Context, d types.CapacityDescriptor, maxAttempts int, interval time.Duration) bool {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		state, err := e.GetState(ctx, d)
		if err == nil && state == types.StateOn {
			return true
		}
		if err != nil {
			e.logger.WarnContext(ctx, "state poll failed while awaiting resume",
				"capacity", d.Name,
				"attempt", attempt,
				"error", err,
			)
		}
		if attempt < maxAttempts {
			e.sleepFn(interval)
		}
	}
	return false
}
