package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarrel_chat_requests_total",
		Help: "Chat submissions by endpoint",
	}, []string{"profile", "endpoint"})

	CompletionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quarrel_chat_completion_duration_seconds",
		Help:    "Duration of chat-completion calls to the engine",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"backend"})

	CompletionTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarrel_chat_completion_tokens_total",
		Help: "Tokens reported by the engine, by kind (prompt, completion)",
	}, []string{"kind"})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarrel_chat_errors_total",
		Help: "Errors by type",
	}, []string{"type"})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quarrel_chat_ws_connections_active",
		Help: "Number of open WebSocket connections",
	})

	HistoryTurns = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quarrel_chat_history_turns",
		Help:    "Prior turns submitted with each message",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})

	QueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quarrel_chat_queue_wait_seconds",
		Help:    "Time spent waiting for an engine slot",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	EngineUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quarrel_chat_engine_up",
		Help: "1 when the inference engine reported healthy on the last check",
	})
)

func RecordRequest(profile, endpoint string) {
	RequestsTotal.WithLabelValues(profile, endpoint).Inc()
}

func RecordCompletion(backend string, duration time.Duration, promptTokens, completionTokens int) {
	CompletionDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if promptTokens > 0 {
		CompletionTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		CompletionTokens.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

func RecordError(errType string) {
	ErrorsTotal.WithLabelValues(errType).Inc()
}

func RecordHistory(turns int) {
	HistoryTurns.Observe(float64(turns))
}

func RecordQueueWait(d time.Duration) {
	QueueWait.Observe(d.Seconds())
}

func SetEngineUp(up bool) {
	if up {
		EngineUp.Set(1)
		return
	}
	EngineUp.Set(0)
}
