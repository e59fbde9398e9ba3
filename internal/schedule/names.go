// Package schedule converts weekly schedule window rows into a minimal set
// of named recurring triggers and decides whether a given instant falls
// inside any configured window.
//
// Trigger names are a deterministic function of (kind, day, time), so the
// set of installed trigger names fully describes the installed schedule.
// Reconciliation compares name sets instead of tracking separate state.
package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"capacityd/internal/types"
)

// ActivityCheckName is the fixed interval trigger that drives idle-based
// suspension. It exists outside the schedule-derived set and is never
// removed once installed.
const ActivityCheckName = "activity_check"

// schedPrefix marks schedule-derived trigger names.
const schedPrefix = "sched-"

// TriggerKind distinguishes window-start from window-end triggers.
type TriggerKind string

const (
	TriggerStart TriggerKind = "start"
	TriggerEnd   TriggerKind = "end"
)

// TriggerName builds the deterministic name for a schedule boundary trigger,
// e.g. "sched-start-d1-0900".
func TriggerName(kind TriggerKind, day, hour, minute int) string {
	return fmt.Sprintf("%s%s-d%d-%02d%02d", schedPrefix, kind, day, hour, minute)
}

// IsScheduleTrigger reports whether a trigger name is schedule-derived
// (as opposed to the fixed activity check or anything else).
func IsScheduleTrigger(name string) bool {
	return strings.HasPrefix(name, schedPrefix)
}

// ParseTriggerName recovers the (kind, day, hour, minute) tuple from a
// schedule-derived trigger name. The boolean result is false for names that
// are not schedule-derived or are malformed.
func ParseTriggerName(name string) (kind TriggerKind, day, hour, minute int, ok bool) {
	rest, found := strings.CutPrefix(name, schedPrefix)
	if !found {
		return "", 0, 0, 0, false
	}
	parts := strings.Split(rest, "-")
	if len(parts) != 3 {
		return "", 0, 0, 0, false
	}

	switch TriggerKind(parts[0]) {
	case TriggerStart, TriggerEnd:
		kind = TriggerKind(parts[0])
	default:
		return "", 0, 0, 0, false
	}

	if len(parts[1]) < 2 || parts[1][0] != 'd' {
		return "", 0, 0, 0, false
	}
	day, err := strconv.Atoi(parts[1][1:])
	if err != nil || day < 0 || day > 6 {
		return "", 0, 0, 0, false
	}

	if len(parts[2]) != 4 {
		return "", 0, 0, 0, false
	}
	hour, err = strconv.Atoi(parts[2][:2])
	if err != nil || hour > 23 {
		return "", 0, 0, 0, false
	}
	minute, err = strconv.Atoi(parts[2][2:])
	if err != nil || minute > 59 {
		return "", 0, 0, 0, false
	}

	return kind, day, hour, minute, true
}

// ComputeTriggerNames produces the full expected trigger name set for the
// given windows: one start and one end trigger per valid window, plus the
// fixed activity check. Duplicate windows collapse because names are
// deterministic; malformed windows contribute nothing.
func ComputeTriggerNames(windows []types.ScheduleWindow) map[string]struct{} {
	names := make(map[string]struct{}, 2*len(windows)+1)
	names[ActivityCheckName] = struct{}{}
	for _, w := range windows {
		if !w.Valid() {
			continue
		}
		names[TriggerName(TriggerStart, w.DayOfWeek, w.StartHour, w.StartMinute)] = struct{}{}
		names[TriggerName(TriggerEnd, w.DayOfWeek, w.EndHour, w.EndMinute)] = struct{}{}
	}
	return names
}
