// Package types defines the shared domain model for the capacity lifecycle
// controller: the capacity descriptor and state enum, schedule window rows,
// and the settings flags owned by the administration surface.
package types

import "time"

// CapacityKind identifies the provider API family a capacity belongs to.
// The two families expose the same resume/suspend semantics but live under
// different control-plane resource paths.
type CapacityKind string

const (
	// KindDedicated is the classic dedicated-capacity resource family.
	KindDedicated CapacityKind = "dedicated"
	// KindFabric is the newer fabric-capacity resource family.
	KindFabric CapacityKind = "fabric"
)

// Valid reports whether the kind is one of the two known provider families.
func (k CapacityKind) Valid() bool {
	return k == KindDedicated || k == KindFabric
}

// CapacityDescriptor identifies the remote capacity resource under the
// provider control plane. It is owned by the administration surface and is
// read-only here. An incomplete descriptor makes the controller inert: every
// operation short-circuits to StateUnavailable without a remote call.
type CapacityDescriptor struct {
	Name           string       `json:"name"`
	Kind           CapacityKind `json:"kind"`
	ResourceGroup  string       `json:"resource_group"`
	SubscriptionID string       `json:"subscription_id"`
}

// Complete reports whether every field required to address the remote
// resource is present and the kind is recognized.
func (d CapacityDescriptor) Complete() bool {
	return d.Name != "" && d.ResourceGroup != "" && d.SubscriptionID != "" && d.Kind.Valid()
}

// CapacityState is the five-state view of the remote capacity. It is a
// snapshot fetched from the provider on demand, never cached beyond a single
// decision cycle, and never owned by this service.
type CapacityState string

const (
	StateOn          CapacityState = "on"
	StateResuming    CapacityState = "resuming"
	StateOff         CapacityState = "off"
	StatePausing     CapacityState = "pausing"
	StateUnavailable CapacityState = "unavailable"
)

// InFlight reports whether the capacity is mid-transition. Mutating calls
// must not be issued while a transition is in flight.
func (s CapacityState) InFlight() bool {
	return s == StateResuming || s == StatePausing
}

// MapProviderStatus translates the raw status string reported by the provider
// into the CapacityState enum. Both "Active" and "Resumed" mean the capacity
// is usable. Unrecognized or missing statuses map to StateUnavailable.
func MapProviderStatus(raw string) CapacityState {
	switch raw {
	case "Active", "Resumed":
		return StateOn
	case "Resuming":
		return StateResuming
	case "Paused":
		return StateOff
	case "Pausing":
		return StatePausing
	default:
		return StateUnavailable
	}
}

// CapacityAction is a manual administrator action against the capacity.
type CapacityAction string

const (
	ActionResume  CapacityAction = "resume"
	ActionSuspend CapacityAction = "suspend"
)

// ActionResult reports the outcome of a resume or suspend request.
// IssuedCall distinguishes an actual provider call from a no-op: callers must
// inspect it before assuming a transition was started.
type ActionResult struct {
	State      CapacityState `json:"state"`
	IssuedCall bool          `json:"issued_call"`
}

// ScheduleWindow is a recurring weekly UTC interval during which the capacity
// must be kept on. Rows are created by the administration surface; this
// service only reads them. Windows where End <= Start cross midnight into the
// following day.
type ScheduleWindow struct {
	DayOfWeek   int `json:"day_of_week"` // 0 = Sunday .. 6 = Saturday
	StartHour   int `json:"start_hour"`
	StartMinute int `json:"start_minute"`
	EndHour     int `json:"end_hour"`
	EndMinute   int `json:"end_minute"`
}

// Valid reports whether the window's fields are in range and the window is
// non-degenerate. Malformed rows are skipped during reconciliation rather
// than wrapped or repaired.
func (w ScheduleWindow) Valid() bool {
	if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
		return false
	}
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
		return false
	}
	if w.StartMinute < 0 || w.StartMinute > 59 || w.EndMinute < 0 || w.EndMinute > 59 {
		return false
	}
	// start == end is rejected upstream; treat it as no window here.
	return w.StartHour != w.EndHour || w.StartMinute != w.EndMinute
}

// StartMinutes returns the window start as minutes since midnight.
func (w ScheduleWindow) StartMinutes() int { return w.StartHour*60 + w.StartMinute }

// EndMinutes returns the window end as minutes since midnight.
func (w ScheduleWindow) EndMinutes() int { return w.EndHour*60 + w.EndMinute }

// CapacitySettings is the configuration row owned by the administration
// surface: the capacity descriptor plus the flags gating the control loop.
// ScheduledEnabled is only meaningful when AutoManaged is true.
type CapacitySettings struct {
	Descriptor       CapacityDescriptor `json:"descriptor"`
	AutoManaged      bool               `json:"auto_managed"`
	ScheduledEnabled bool               `json:"scheduled_enabled"`
}

// Heartbeat is a single activity sample written by a client session while a
// user's tab is open and focused. Consumed only in aggregate.
type Heartbeat struct {
	UserID string    `json:"user_id"`
	SeenAt time.Time `json:"seen_at"`
}
