package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	chatRunsTotal    *prometheus.CounterVec
	chatRunDuration  prometheus.Histogram
	chatIterations   prometheus.Histogram
	modelCallsTotal  *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
	evictedSessions  prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			chatRunsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_runs_total",
					Help: "Total orchestration runs by outcome.",
				},
				[]string{"outcome"},
			),
			chatRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "chat_run_duration_seconds",
					Help:    "Orchestration run duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			chatIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "chat_run_iterations",
					Help:    "Model calls used per orchestration run.",
					Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
				},
			),
			modelCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_calls_total",
					Help: "Total language model calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			toolCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_calls_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_call_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active session count.",
				},
			),
			evictedSessions: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "evicted_sessions_total",
					Help: "Sessions removed by idle-timeout eviction.",
				},
			),
		}

		prometheus.MustRegister(
			m.chatRunsTotal,
			m.chatRunDuration,
			m.chatIterations,
			m.modelCallsTotal,
			m.toolCallsTotal,
			m.toolCallDuration,
			m.activeSessions,
			m.evictedSessions,
		)

		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered forces metric registration. Safe to call multiple times.
func EnsureRegistered() {
	getMetrics()
}

// MetricsHandler returns the HTTP handler serving Prometheus metrics.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordChatRun records a completed orchestration run.
func RecordChatRun(outcome string, iterations int, duration time.Duration) {
	m := getMetrics()
	m.chatRunsTotal.WithLabelValues(outcome).Inc()
	m.chatRunDuration.Observe(duration.Seconds())
	m.chatIterations.Observe(float64(iterations))
}

// RecordModelCall records a language model call.
func RecordModelCall(provider string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	getMetrics().modelCallsTotal.WithLabelValues(provider, status).Inc()
}

// RecordToolCall records a tool execution.
func RecordToolCall(tool, status string, duration time.Duration) {
	m := getMetrics()
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// SetActiveSessions updates the active session gauge.
func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

// RecordSessionEvicted counts an idle-timeout eviction.
func RecordSessionEvicted() {
	getMetrics().evictedSessions.Inc()
}
