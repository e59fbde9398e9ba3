package schedule

import (
	"sort"
	"time"

	"capacityd/internal/types"
)

// boundaryPair is a matched (start, end) pair of minutes-since-midnight for
// one weekday. End <= Start means the window crosses midnight into the
// following day.
type boundaryPair struct {
	Start int
	End   int
}

// pairsForDay collects all start and end boundaries the given weekday
// contributes and pairs each start with the nearest subsequent end. The next
// start, if any, bounds the search; a start with no subsequent end before
// the next start is paired with the earliest unclaimed end, which yields a
// midnight-crossing pair (End <= Start).
//
// Malformed windows contribute no boundaries.
func pairsForDay(windows []types.ScheduleWindow, day int) []boundaryPair {
	var starts, ends []int
	seenStart := map[int]struct{}{}
	seenEnd := map[int]struct{}{}
	for _, w := range windows {
		if !w.Valid() || w.DayOfWeek != day {
			continue
		}
		// Name-based de-duplication: identical boundaries collapse.
		if _, dup := seenStart[w.StartMinutes()]; !dup {
			seenStart[w.StartMinutes()] = struct{}{}
			starts = append(starts, w.StartMinutes())
		}
		if _, dup := seenEnd[w.EndMinutes()]; !dup {
			seenEnd[w.EndMinutes()] = struct{}{}
			ends = append(ends, w.EndMinutes())
		}
	}
	if len(starts) == 0 {
		return nil
	}
	sort.Ints(starts)
	sort.Ints(ends)

	used := make([]bool, len(ends))
	pairs := make([]boundaryPair, 0, len(starts))
	for i, s := range starts {
		bound := 24*60 + 1
		if i+1 < len(starts) {
			bound = starts[i+1]
		}

		match := -1
		for j, e := range ends {
			if used[j] {
				continue
			}
			if e > s && e <= bound {
				match = j
				break
			}
		}
		if match == -1 {
			// No end between this start and the next: the window runs past
			// midnight and terminates at the earliest unclaimed end.
			for j := range ends {
				if !used[j] {
					match = j
					break
				}
			}
		}
		if match == -1 {
			continue
		}
		used[match] = true
		pairs = append(pairs, boundaryPair{Start: s, End: ends[match]})
	}

	return pairs
}

// IsWithinScheduledTime reports whether the instant falls inside any
// configured window. It is pure: all inputs are parameters and the result
// depends on nothing else.
//
// A pair with End > Start matches when Start <= now <= End on its own
// weekday. A pair with End <= Start crosses midnight: it matches from Start
// onward on its own weekday and up to End on the following weekday.
//
// Returns false when no window contributes a start boundary to the relevant
// days, and always false when the scheduled flag is disabled.
func IsWithinScheduledTime(now time.Time, windows []types.ScheduleWindow, scheduledEnabled bool) bool {
	if !scheduledEnabled || len(windows) == 0 {
		return false
	}

	now = now.UTC()
	day := int(now.Weekday())
	minutes := now.Hour()*60 + now.Minute()

	for _, p := range pairsForDay(windows, day) {
		if p.End > p.Start {
			if p.Start <= minutes && minutes <= p.End {
				return true
			}
		} else if minutes >= p.Start {
			return true
		}
	}

	// The morning tail of a midnight-crossing window installed on the
	// previous weekday.
	prev := (day + 6) % 7
	for _, p := range pairsForDay(windows, prev) {
		if p.End <= p.Start && minutes <= p.End {
			return true
		}
	}

	return false
}
