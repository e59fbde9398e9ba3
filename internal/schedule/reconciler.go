package schedule

import (
	"context"
	"log/slog"
	"time"

	"capacityd/internal/types"
)

// Summary reports the outcome of a reconciliation run.
type Summary struct {
	ActivityCheckInstalled bool `json:"activity_check_installed"`
	ScheduleWindowCount    int  `json:"schedule_window_count"`
	Rebuilt                bool `json:"rebuilt"`
}

// Callbacks are the orchestrator entry points the installed triggers invoke.
type Callbacks struct {
	// OnWindowStart fires at each window-start boundary.
	OnWindowStart TriggerFunc
	// OnWindowEnd fires at each window-end boundary.
	OnWindowEnd TriggerFunc
	// OnActivityCheck fires on the fixed activity check interval.
	OnActivityCheck TriggerFunc
}

// Reconciler keeps the trigger registry in sync with the configured schedule
// windows. Re-running reconciliation with an unchanged schedule performs
// zero stop or start calls; that idempotence is the component's contract.
type Reconciler struct {
	registry      TriggerRegistry
	callbacks     Callbacks
	checkInterval time.Duration
	logger        *slog.Logger
}

// NewReconciler creates a Reconciler installing triggers into the given
// registry. checkInterval is the activity check cadence.
func NewReconciler(registry TriggerRegistry, callbacks Callbacks, checkInterval time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		registry:      registry,
		callbacks:     callbacks,
		checkInterval: checkInterval,
		logger:        logger,
	}
}

// Reconcile brings the installed trigger set in line with the given windows.
//
// A rebuild is required when any expected name is missing from the installed
// set, or any installed schedule-derived name is no longer expected. The
// fixed activity check trigger is installed if absent but never removed.
// When no rebuild is required the registry is left completely untouched.
func (r *Reconciler) Reconcile(ctx context.Context, windows []types.ScheduleWindow) Summary {
	for _, w := range windows {
		if !w.Valid() {
			r.logger.WarnContext(ctx, "skipping malformed schedule window",
				"day_of_week", w.DayOfWeek,
				"start", w.StartMinutes(),
				"end", w.EndMinutes(),
			)
		}
	}

	expected := ComputeTriggerNames(windows)
	installed := r.registry.Names()
	installedSet := make(map[string]struct{}, len(installed))
	for _, name := range installed {
		installedSet[name] = struct{}{}
	}

	rebuild := false
	for name := range expected {
		if _, ok := installedSet[name]; !ok {
			rebuild = true
			break
		}
	}
	if !rebuild {
		for _, name := range installed {
			if !IsScheduleTrigger(name) {
				continue
			}
			if _, ok := expected[name]; !ok {
				rebuild = true
				break
			}
		}
	}

	// Count valid rows directly: windows sharing a start or end boundary
	// collapse to one trigger name, so the name-set size undercounts.
	windowCount := 0
	for _, w := range windows {
		if w.Valid() {
			windowCount++
		}
	}

	if !rebuild {
		return Summary{
			ActivityCheckInstalled: true,
			ScheduleWindowCount:    windowCount,
		}
	}

	// Tear down only the schedule-derived triggers; the activity check
	// survives every rebuild.
	for _, name := range installed {
		if IsScheduleTrigger(name) {
			r.registry.Remove(name)
		}
	}

	for name := range expected {
		kind, day, hour, minute, ok := ParseTriggerName(name)
		if !ok {
			continue // activity_check, handled below
		}
		fn := r.callbacks.OnWindowStart
		if kind == TriggerEnd {
			fn = r.callbacks.OnWindowEnd
		}
		r.registry.InstallWeekly(name, day, hour, minute, fn)
	}

	// Install is a no-op when already present.
	r.registry.InstallInterval(ActivityCheckName, r.checkInterval, r.callbacks.OnActivityCheck)

	r.logger.InfoContext(ctx, "schedule triggers rebuilt",
		"window_count", windowCount,
		"trigger_count", len(expected),
	)

	return Summary{
		ActivityCheckInstalled: true,
		ScheduleWindowCount:    windowCount,
		Rebuilt:                true,
	}
}
