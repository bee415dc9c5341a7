package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Bridge mirrors registry activity into prometheus collectors so the HTTP
// /metrics endpoint can serve them.
type Bridge struct {
	executions           *prometheus.CounterVec
	blocked              prometheus.Counter
	truncated            prometheus.Counter
	timeouts             prometheus.Counter
	confirmationRequired prometheus.Counter
	duration             prometheus.Histogram
}

// NewBridge registers the collectors on reg and returns the bridge.
func NewBridge(reg prometheus.Registerer) *Bridge {
	b := &Bridge{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psgate",
			Name:      "executions_total",
			Help:      "Executions and attempts by classification level.",
		}, []string{"level"}),
		blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "psgate",
			Name:      "blocked_total",
			Help:      "Commands denied by policy.",
		}),
		truncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "psgate",
			Name:      "truncated_total",
			Help:      "Executions whose output was truncated.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "psgate",
			Name:      "timeouts_total",
			Help:      "Executions terminated by timeout.",
		}),
		confirmationRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "psgate",
			Name:      "confirmation_required_total",
			Help:      "Attempts rejected pending confirmation.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "psgate",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock execution duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
	reg.MustRegister(b.executions, b.blocked, b.truncated, b.timeouts, b.confirmationRequired, b.duration)
	return b
}

func (b *Bridge) observe(rec Record) {
	b.executions.WithLabelValues(string(rec.Level)).Inc()
	if rec.Blocked {
		b.blocked.Inc()
	}
	if rec.Truncated {
		b.truncated.Inc()
	}
	if rec.TimedOut {
		b.timeouts.Inc()
	}
	if rec.DurationMs > 0 {
		b.duration.Observe(float64(rec.DurationMs) / 1000.0)
	}
}
