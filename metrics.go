package compensable

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors a Coordinator updates. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Transitions *prometheus.CounterVec
	Fired       *prometheus.CounterVec
	Tracked     prometheus.Gauge
	Checkpoints *prometheus.CounterVec
	Escalations prometheus.Counter
	Aborts      prometheus.Counter
}

// NewMetrics creates the collectors under namespace. They still need to be
// registered, see Register.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unit_transitions_total",
				Help:      "State transitions of compensable units.",
			},
			[]string{"event", "to"},
		),
		Fired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handles_fired_total",
				Help:      "Resumption handles signaled by the state machine.",
			},
			[]string{"trigger"},
		),
		Tracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_units",
				Help:      "Units currently held by the execution tracker.",
			},
		),
		Checkpoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_total",
				Help:      "Checkpoint requests by result.",
			},
			[]string{"result"},
		),
		Escalations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Units forced to compensate or cancel by a deadline.",
			},
		),
		Aborts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aborts_total",
				Help:      "Workflow instances terminated by an unrecoverable fault.",
			},
		),
	}
}

// Collectors returns every collector in m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Transitions, m.Fired, m.Tracked, m.Checkpoints, m.Escalations, m.Aborts}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) transition(t Transition) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(t.Event.String(), t.To.String()).Inc()
}

func (m *Metrics) fired(kind TriggerKind) {
	if m == nil {
		return
	}
	m.Fired.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) tracked(n int) {
	if m == nil {
		return
	}
	m.Tracked.Set(float64(n))
}

func (m *Metrics) checkpoint(result string) {
	if m == nil {
		return
	}
	m.Checkpoints.WithLabelValues(result).Inc()
}

func (m *Metrics) escalation() {
	if m == nil {
		return
	}
	m.Escalations.Inc()
}

func (m *Metrics) abort() {
	if m == nil {
		return
	}
	m.Aborts.Inc()
}
