// Package metrics exports chat engine metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter records chat turn outcomes and serves them over HTTP.
type Exporter struct {
	registry *prometheus.Registry

	chatRequests  *prometheus.CounterVec
	chatErrors    *prometheus.CounterVec
	streamLatency *prometheus.HistogramVec
	firstDelta    *prometheus.HistogramVec
	tokensUsed    *prometheus.CounterVec
	memoriesUsed  prometheus.Counter
	titlesCreated prometheus.Counter
}

// NewExporter creates an Exporter backed by its own registry.
func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()

	e := &Exporter{registry: registry}

	e.chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memochat",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Chat turns started, by model",
		},
		[]string{"model"},
	)

	e.chatErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memochat",
			Subsystem: "chat",
			Name:      "errors_total",
			Help:      "Chat turns ended in an error, by kind",
		},
		[]string{"kind"},
	)

	e.streamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memochat",
			Subsystem: "chat",
			Name:      "stream_duration_seconds",
			Help:      "Wall-clock duration of a full stream",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model"},
	)

	e.firstDelta = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memochat",
			Subsystem: "chat",
			Name:      "first_delta_seconds",
			Help:      "Time from request start to first streamed delta",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model"},
	)

	e.tokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memochat",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed, by model and direction",
		},
		[]string{"model", "direction"},
	)

	e.memoriesUsed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memochat",
			Subsystem: "memory",
			Name:      "injections_total",
			Help:      "Memories injected into composed requests",
		},
	)

	e.titlesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memochat",
			Subsystem: "chat",
			Name:      "titles_generated_total",
			Help:      "Session titles generated in the background",
		},
	)

	registry.MustRegister(
		e.chatRequests,
		e.chatErrors,
		e.streamLatency,
		e.firstDelta,
		e.tokensUsed,
		e.memoriesUsed,
		e.titlesCreated,
	)

	return e
}

// RecordTurnStart counts a chat turn entering the send path.
func (e *Exporter) RecordTurnStart(model string) {
	if e == nil {
		return
	}
	e.chatRequests.WithLabelValues(model).Inc()
}

// RecordTurnComplete records a finished stream.
func (e *Exporter) RecordTurnComplete(model string, total time.Duration, firstDelta time.Duration, promptTokens, completionTokens int) {
	if e == nil {
		return
	}
	e.streamLatency.WithLabelValues(model).Observe(total.Seconds())
	if firstDelta > 0 {
		e.firstDelta.WithLabelValues(model).Observe(firstDelta.Seconds())
	}
	if promptTokens > 0 {
		e.tokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		e.tokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// RecordTurnError counts a failed turn by error kind.
func (e *Exporter) RecordTurnError(kind string) {
	if e == nil {
		return
	}
	e.chatErrors.WithLabelValues(kind).Inc()
}

// RecordMemoriesInjected counts memories spliced into a request.
func (e *Exporter) RecordMemoriesInjected(count int) {
	if e == nil || count <= 0 {
		return
	}
	e.memoriesUsed.Add(float64(count))
}

// RecordTitleGenerated counts a successful background title generation.
func (e *Exporter) RecordTitleGenerated() {
	if e == nil {
		return
	}
	e.titlesCreated.Inc()
}

// Handler serves the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
