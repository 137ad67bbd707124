package bridge

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the executor.
type Metrics struct {
	Calls      *prometheus.CounterVec
	Events     *prometheus.CounterVec
	QueueDepth prometheus.Gauge
}

// NewMetrics creates the bridge collectors and registers them on reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jamisync",
			Subsystem: "bridge",
			Name:      "calls_total",
			Help:      "Native daemon calls by name and result.",
		}, []string{"call", "result"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jamisync",
			Subsystem: "bridge",
			Name:      "events_total",
			Help:      "Decoded daemon callbacks by kind.",
		}, []string{"kind"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jamisync",
			Subsystem: "bridge",
			Name:      "queue_depth",
			Help:      "Tasks waiting on the executor.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Calls, m.Events, m.QueueDepth)
	}
	return m
}

func (m *Metrics) call(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err == errSkipped:
		result = "skipped"
	case err != nil:
		result = "error"
	}
	m.Calls.WithLabelValues(name, result).Inc()
}

func (m *Metrics) event(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) depth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
