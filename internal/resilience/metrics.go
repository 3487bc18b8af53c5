package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "bookshop"

var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "upstream_breaker_state",
		Help:      "Breaker state per upstream: 0 closed, 1 open, 2 half-open.",
	}, []string{"target"})
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "upstream_breaker_transitions_total",
		Help:      "Breaker state changes per upstream.",
	}, []string{"target", "from", "to"})
	BreakerOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "upstream_breaker_opened_total",
		Help:      "Times a breaker opened.",
	}, []string{"target"})
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "upstream_retries_total",
		Help:      "Retries sent to upstream HTTP dependencies.",
	}, []string{"target"})
)
