package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	CommissionCredits      *prometheus.CounterVec
	CommissionWalkDepth    prometheus.Histogram
	WithdrawalRequests     *prometheus.CounterVec
	WithdrawalDeduction    prometheus.Histogram
	PurchaseTransitions    *prometheus.CounterVec
	PurchasesExpired       prometheus.Counter
	HTTPRequests           *prometheus.CounterVec
	HTTPLatency            *prometheus.HistogramVec
	NotificationsDelivered *prometheus.CounterVec
	Errors                 *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			CommissionCredits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commission_credits_total",
				Help:      "Commission credits applied, by currency and policy.",
			}, []string{"currency", "policy"}),
			CommissionWalkDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "commission_walk_depth",
				Help:      "Number of ancestors credited per activation.",
				Buckets:   []float64{0, 1, 2, 3, 5, 7, 10, 20},
			}),
			WithdrawalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "withdrawal_requests_total",
				Help:      "Withdrawal requests by outcome.",
			}, []string{"status"}),
			WithdrawalDeduction: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "withdrawal_deduction_percent",
				Help:      "Deduction percent applied to accepted withdrawals.",
				Buckets:   []float64{0, 50, 60, 70, 80, 90, 100},
			}),
			PurchaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchase_transitions_total",
				Help:      "Purchase status transitions by source and target status.",
			}, []string{"from", "to"}),
			PurchasesExpired: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchases_expired_total",
				Help:      "Purchases expired by the sweeper.",
			}),
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route pattern, method and status code.",
			}, []string{"route", "method", "code"}),
			HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Latency distribution for HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			NotificationsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_notifications_total",
				Help:      "WhatsApp admin notifications by type and outcome.",
			}, []string{"type", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.CommissionCredits,
			metricsInstance.CommissionWalkDepth,
			metricsInstance.WithdrawalRequests,
			metricsInstance.WithdrawalDeduction,
			metricsInstance.PurchaseTransitions,
			metricsInstance.PurchasesExpired,
			metricsInstance.HTTPRequests,
			metricsInstance.HTTPLatency,
			metricsInstance.NotificationsDelivered,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
