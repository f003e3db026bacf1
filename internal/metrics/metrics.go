package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	WebhookEvents      *prometheus.CounterVec
	IncomingMessages   *prometheus.CounterVec
	OutgoingMessages   *prometheus.CounterVec
	Intents            *prometheus.CounterVec
	GenerationRequests *prometheus.CounterVec
	GenerationLatency  *prometheus.HistogramVec
	ChatModelRequests  *prometheus.CounterVec
	ChatModelLatency   *prometheus.HistogramVec
	CreditDebits       *prometheus.CounterVec
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Total webhook events received by kind.",
			}, []string{"kind"}),
			IncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "incoming_messages_total",
				Help:      "Total inbound messages processed by type.",
			}, []string{"type"}),
			OutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outgoing_messages_total",
				Help:      "Total outbound messages sent by type.",
			}, []string{"type"}),
			Intents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intents_total",
				Help:      "Total classified intents by kind.",
			}, []string{"intent"}),
			GenerationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_requests_total",
				Help:      "Total image generation provider requests by outcome.",
			}, []string{"status"}),
			GenerationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_request_duration_seconds",
				Help:      "Latency distribution for image generation provider calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			ChatModelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_model_requests_total",
				Help:      "Total chat model requests by operation and outcome.",
			}, []string{"operation", "status"}),
			ChatModelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chat_model_request_duration_seconds",
				Help:      "Latency distribution for chat model calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation", "status"}),
			CreditDebits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credit_debits_total",
				Help:      "Total credit debit attempts by outcome.",
			}, []string{"outcome"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.WebhookEvents,
			metricsInstance.IncomingMessages,
			metricsInstance.OutgoingMessages,
			metricsInstance.Intents,
			metricsInstance.GenerationRequests,
			metricsInstance.GenerationLatency,
			metricsInstance.ChatModelRequests,
			metricsInstance.ChatModelLatency,
			metricsInstance.CreditDebits,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
