package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports agent coordination telemetry to Prometheus.
type Metrics struct {
	TasksReceived     *prometheus.CounterVec
	TasksCompleted    *prometheus.CounterVec
	TasksReused       prometheus.Counter
	WebhookDeliveries *prometheus.CounterVec
	WebhookAttempts   prometheus.Counter
	SocketReconnects  prometheus.Counter
	ConnectionUp      prometheus.Gauge
}

// NewMetrics registers the coordination metrics against reg.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "g8agent"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TasksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_received_total",
			Help:      "Tasks accepted by the coordination facade.",
		}, []string{"origin"}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Tasks finished, by terminal status.",
		}, []string{"status"}),
		TasksReused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_reused_total",
			Help:      "Tasks served from a similar completed record.",
		}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery outcomes.",
		}, []string{"outcome"}),
		WebhookAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_attempts_total",
			Help:      "Individual webhook HTTP attempts, including retries.",
		}),
		SocketReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_reconnects_total",
			Help:      "Reconnect attempts scheduled after an unclean close.",
		}),
		ConnectionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coordinator_connection_up",
			Help:      "1 when the coordinator socket is open.",
		}),
	}
	collectors := []prometheus.Collector{
		m.TasksReceived, m.TasksCompleted, m.TasksReused,
		m.WebhookDeliveries, m.WebhookAttempts, m.SocketReconnects, m.ConnectionUp,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return nil, fmt.Errorf("register coordination metric: %w", err)
		}
	}
	return m, nil
}

// Nop returns unregistered metrics safe to use in tests.
func Nop() *Metrics {
	m, _ := NewMetrics("g8agent_test", prometheus.NewRegistry())
	return m
}
