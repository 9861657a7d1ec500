package authz

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts decisions and configuration problems. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	decisions         *prometheus.CounterVec
	unknownConditions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authz",
			Name:      "decisions_total",
			Help:      "Authorization decisions by action and outcome.",
		}, []string{"action", "outcome"}),
		unknownConditions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authz",
			Name:      "unknown_conditions_total",
			Help:      "Evaluations that hit a condition id missing from the registry.",
		}, []string{"condition"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.decisions, m.unknownConditions} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) decision(action string, d Decision) {
	if m == nil {
		return
	}
	outcome := "deny"
	if d.Allowed {
		outcome = "allow"
	}
	m.decisions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) unknownCondition(id string) {
	if m == nil {
		return
	}
	m.unknownConditions.WithLabelValues(id).Inc()
}
