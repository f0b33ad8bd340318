package chatIO

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatio",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Logical calls per strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)
	fallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatio",
			Subsystem: "client",
			Name:      "fallbacks_total",
			Help:      "CORS to JSONP downgrades.",
		},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatio",
			Subsystem: "websocket",
			Name:      "reconnects_total",
			Help:      "Scheduled websocket reconnect attempts.",
		},
	)
	queuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatio",
			Subsystem: "websocket",
			Name:      "queued_messages_total",
			Help:      "Messages queued while the websocket was not open.",
		},
	)
)

// RegisterMetrics registers the client collectors with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(requestsTotal, fallbacksTotal, reconnectsTotal, queuedTotal)
	})
}

func recordRequest(strategy ApiStrategy, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	requestsTotal.WithLabelValues(strategy.String(), outcome).Inc()
}
