package core

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"capacityd/internal/types"
)

// stateGaugeValues maps each capacity state to a stable numeric encoding for
// the state gauge. Dashboards alert on 0 (off) vs 2 (on) vs -1 (unavailable).
var stateGaugeValues = map[types.CapacityState]float64{
	types.StateUnavailable: -1,
	types.StateOff:         0,
	types.StatePausing:     0.5,
	types.StateResuming:    1.5,
	types.StateOn:          2,
}

// Metrics records control-loop and HTTP observations into a dedicated
// Prometheus registry. It satisfies the orchestrator's Metrics interface.
type Metrics struct {
	registry *prometheus.Registry

	transitionsIssued *prometheus.CounterVec
	cyclesSkipped     *prometheus.CounterVec
	rebuilds          prometheus.Counter
	activeUsers       prometheus.Gauge
	capacityState     prometheus.Gauge
}

// NewMetrics creates a Metrics with all collectors registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		transitionsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capacityd_transitions_issued_total",
			Help: "Resume/suspend calls actually issued to the provider.",
		}, []string{"action"}),
		cyclesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capacityd_cycles_skipped_total",
			Help: "Decision cycles skipped, by reason.",
		}, []string{"reason"}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capacityd_schedule_rebuilds_total",
			Help: "Schedule trigger set rebuilds performed by reconciliation.",
		}),
		activeUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "capacityd_active_users",
			Help: "Distinct users with a heartbeat in the trailing window, as of the last decision cycle.",
		}),
		capacityState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "capacityd_capacity_state",
			Help: "Last observed capacity state (-1 unavailable, 0 off, 0.5 pausing, 1.5 resuming, 2 on).",
		}),
	}

	registry.MustRegister(
		m.transitionsIssued,
		m.cyclesSkipped,
		m.rebuilds,
		m.activeUsers,
		m.capacityState,
	)

	return m
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TransitionIssued counts an actually-issued resume or suspend call.
func (m *Metrics) TransitionIssued(action types.CapacityAction) {
	m.transitionsIssued.WithLabelValues(string(action)).Inc()
}

// CycleSkipped counts a skipped decision cycle.
func (m *Metrics) CycleSkipped(reason string) {
	m.cyclesSkipped.WithLabelValues(reason).Inc()
}

// ScheduleRebuilt counts a reconciliation rebuild.
func (m *Metrics) ScheduleRebuilt() {
	m.rebuilds.Inc()
}

// ObserveActiveUsers records the active-user aggregate.
func (m *Metrics) ObserveActiveUsers(count int) {
	m.activeUsers.Set(float64(count))
}

// ObserveState records the last observed capacity state.
func (m *Metrics) ObserveState(state types.CapacityState) {
	if v, ok := stateGaugeValues[state]; ok {
		m.capacityState.Set(v)
	}
}
