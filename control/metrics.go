// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus metric set for the messaging core.

package control

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and gauges updated by the object core.
type Metrics struct {
	MessagesPosted    prometheus.Counter
	MessagesDelivered prometheus.Counter
	SignalEmits       prometheus.Counter
	TimerFires        prometheus.Counter
	ThreadsRunning    prometheus.Gauge
}

// NewMetrics creates the metric set. Register exposes it on a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camcore",
			Subsystem: "messages",
			Name:      "posted_total",
			Help:      "Total number of messages posted to thread queues",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camcore",
			Subsystem: "messages",
			Name:      "delivered_total",
			Help:      "Total number of messages delivered by thread loops",
		}),
		SignalEmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camcore",
			Subsystem: "signals",
			Name:      "emits_total",
			Help:      "Total number of signal emissions",
		}),
		TimerFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camcore",
			Subsystem: "timers",
			Name:      "fires_total",
			Help:      "Total number of timer expirations",
		}),
		ThreadsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "camcore",
			Subsystem: "threads",
			Name:      "running",
			Help:      "Number of thread loops currently running",
		}),
	}
}

// Register registers every collector of the set with r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesPosted,
		m.MessagesDelivered,
		m.SignalEmits,
		m.TimerFires,
		m.ThreadsRunning,
	}
}
