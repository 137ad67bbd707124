package account

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts published account notifications.
type Metrics struct {
	Notifications *prometheus.CounterVec
}

// NewMetrics creates the account collectors and registers them on reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jamisync",
			Subsystem: "account",
			Name:      "notifications_total",
			Help:      "Account change notifications by stream.",
		}, []string{"stream"}),
	}
	if reg != nil {
		reg.MustRegister(m.Notifications)
	}
	return m
}

func (m *Metrics) notify(stream string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(stream).Inc()
}
