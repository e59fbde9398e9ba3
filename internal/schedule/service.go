package schedule

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// TriggerFunc is a trigger callback. It receives a context derived from the
// service's base context; errors are the callback's responsibility — a
// failed cycle self-corrects on the next firing.
type TriggerFunc func(ctx context.Context)

// TriggerRegistry is the surface the reconciler needs from the scheduling
// substrate. Service is the production implementation; tests substitute a
// recording fake.
type TriggerRegistry interface {
	// Names returns the names of all installed triggers.
	Names() []string
	// InstallWeekly installs a trigger firing once per week at the given
	// UTC weekday and time of day. Installing an existing name is a no-op.
	InstallWeekly(name string, day, hour, minute int, fn TriggerFunc)
	// InstallInterval installs a trigger firing on a fixed interval.
	// Installing an existing name is a no-op.
	InstallInterval(name string, every time.Duration, fn TriggerFunc)
	// Remove stops and removes the named trigger if present.
	Remove(name string)
}

// Service is the process-wide registry of named recurring triggers. It is
// constructed once at startup and injected into whatever needs to reconcile
// or query it; trigger state lives only in memory and is rebuilt from the
// persisted schedule rows on the next reconciliation after a restart.
//
// Each trigger runs on its own goroutine. Callbacks run concurrently with
// each other; serialization of conflicting work is the callee's concern.
type Service struct {
	logger *slog.Logger
	nowFn  func() time.Time

	mu       sync.Mutex
	triggers map[string]chan struct{}
	stopped  bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithNowFunc overrides the clock used to compute weekly firing times.
// Intended for tests.
func WithNowFunc(fn func() time.Time) ServiceOption {
	return func(s *Service) { s.nowFn = fn }
}

// NewService creates an empty trigger registry.
func NewService(logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		logger:   logger,
		nowFn:    time.Now,
		triggers: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Names returns a sorted snapshot of installed trigger names.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.triggers))
	for name := range s.triggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstallWeekly installs a weekly trigger at the given UTC weekday and time
// of day.
func (s *Service) InstallWeekly(name string, day, hour, minute int, fn TriggerFunc) {
	s.install(name, func(stop chan struct{}) {
		for {
			wait := time.Until(nextWeeklyOccurrence(s.nowFn().UTC(), day, hour, minute))
			timer := time.NewTimer(wait)
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
				s.fire(name, fn)
			}
		}
	})
}

// InstallInterval installs a fixed-interval trigger. The first firing is one
// full interval after installation.
func (s *Service) InstallInterval(name string, every time.Duration, fn TriggerFunc) {
	s.install(name, func(stop chan struct{}) {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.fire(name, fn)
			}
		}
	})
}

func (s *Service) install(name string, loop func(stop chan struct{})) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, exists := s.triggers[name]; exists {
		return
	}
	stop := make(chan struct{})
	s.triggers[name] = stop
	go loop(stop)
}

// Remove stops and removes the named trigger.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.triggers[name]; ok {
		close(stop)
		delete(s.triggers, name)
	}
}

// Stop halts every trigger. The service accepts no further installs.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for name, stop := range s.triggers {
		close(stop)
		delete(s.triggers, name)
	}
}

// fire runs a trigger callback with panic containment so a failing cycle can
// never kill the trigger goroutine or the process.
func (s *Service) fire(name string, fn TriggerFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("trigger callback panicked",
				"trigger", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn(context.Background())
}

// nextWeeklyOccurrence returns the next instant strictly after now that
// falls on the given UTC weekday at hour:minute.
func nextWeeklyOccurrence(now time.Time, day, hour, minute int) time.Time {
	daysAhead := (day - int(now.Weekday()) + 7) % 7
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC).
		AddDate(0, 0, daysAhead)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}
