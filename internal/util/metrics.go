package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_orders_failed_total",
		Help: "Total number of rejected checkouts",
	}, []string{"reason"})

	OrdersPaidTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_orders_paid_total",
		Help: "Total number of orders marked paid",
	}, []string{"source"})

	OrdersDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_orders_delivered_total",
		Help: "Total number of orders marked delivered",
	})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_checkout_latency_seconds",
		Help:    "Latency of the checkout transaction",
		Buckets: prometheus.DefBuckets,
	})

	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cart_mutations_total",
		Help: "Total number of cart mutations",
	}, []string{"op"})

	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_auth_failures_total",
		Help: "Total number of rejected authentication attempts",
	}, []string{"reason"})

	PaymentIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_payment_intents_total",
		Help: "Total number of payment intent requests",
	}, []string{"outcome"})

	PaymentIntentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_payment_intent_latency_seconds",
		Help:    "Latency of payment intent creation at the processor",
		Buckets: prometheus.DefBuckets,
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_webhook_events_total",
		Help: "Total number of payment webhook deliveries",
	}, []string{"type", "outcome"})

	PaymentRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_payment_retries_total",
		Help: "Total number of payment confirmation retries",
	}, []string{"outcome"})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	}, []string{"path"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
