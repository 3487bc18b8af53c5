package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutQuotesTotal counts quote computations by outcome.
	CheckoutQuotesTotal *prometheus.CounterVec
	// CheckoutOrdersTotal counts order placements by outcome.
	CheckoutOrdersTotal *prometheus.CounterVec
	// CheckoutOrderValue records the final amount of submitted orders in minor units.
	CheckoutOrderValue prometheus.Histogram
	// CartCorrectionsTotal counts cart fields defaulted during normalization.
	CartCorrectionsTotal *prometheus.CounterVec
	// UpstreamRequestsTotal counts calls to the bookshop backend.
	UpstreamRequestsTotal *prometheus.CounterVec
	// NotificationsTotal counts order confirmation deliveries.
	NotificationsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutQuotesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_quotes_total",
			Help:      "Count of checkout quote computations by outcome.",
		}, []string{"result"})
		CheckoutOrdersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_orders_total",
			Help:      "Count of order placements by outcome.",
		}, []string{"result"})
		CheckoutOrderValue = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_order_value_cents",
			Help:      "Final amount of submitted orders in minor units.",
			Buckets:   prometheus.ExponentialBuckets(10_000, 2.5, 8),
		})
		CartCorrectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_cart_corrections_total",
			Help:      "Cart fields defaulted while normalizing upstream records.",
		}, []string{"field"})
		UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookshop_upstream_requests_total",
			Help:      "Calls to the bookshop backend by endpoint and outcome.",
		}, []string{"endpoint", "outcome"})
		NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_notifications_total",
			Help:      "Order confirmation notifications by outcome.",
		}, []string{"result"})

		mustRegisterCollector(reg, CheckoutQuotesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutQuotesTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutOrdersTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutOrdersTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutOrderValue, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				CheckoutOrderValue = v
			}
		})
		mustRegisterCollector(reg, CartCorrectionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartCorrectionsTotal = v
			}
		})
		mustRegisterCollector(reg, UpstreamRequestsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				UpstreamRequestsTotal = v
			}
		})
		mustRegisterCollector(reg, NotificationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				NotificationsTotal = v
			}
		})
	})
}

// IncQuote records a quote outcome.
func IncQuote(result string) {
	if CheckoutQuotesTotal != nil {
		CheckoutQuotesTotal.WithLabelValues(result).Inc()
	}
}

// IncOrder records an order placement outcome.
func IncOrder(result string) {
	if CheckoutOrdersTotal != nil {
		CheckoutOrdersTotal.WithLabelValues(result).Inc()
	}
}

// ObserveOrderValue records the final amount of a submitted order.
func ObserveOrderValue(cents int64) {
	if CheckoutOrderValue != nil {
		CheckoutOrderValue.Observe(float64(cents))
	}
}

// IncCartCorrection records one defaulted cart field.
func IncCartCorrection(field string) {
	if CartCorrectionsTotal != nil {
		CartCorrectionsTotal.WithLabelValues(field).Inc()
	}
}

// IncUpstream records one bookshop backend call.
func IncUpstream(endpoint, outcome string) {
	if UpstreamRequestsTotal != nil {
		UpstreamRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	}
}

// IncNotification records one confirmation delivery outcome.
func IncNotification(result string) {
	if NotificationsTotal != nil {
		NotificationsTotal.WithLabelValues(result).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
