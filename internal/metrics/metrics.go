// Package metrics exposes Prometheus counters for turns, tool calls, and
// model retries. It observes the session event stream rather than hooking
// into the orchestrator directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrel-agent/kestrel/pkg/turn"
)

// Metrics holds all Prometheus metrics for the runtime
type Metrics struct {
	registry *prometheus.Registry

	// Turn metrics
	TasksStartedTotal   *prometheus.CounterVec
	TasksCompletedTotal *prometheus.CounterVec
	TasksAbortedTotal   *prometheus.CounterVec
	TaskErrorsTotal     *prometheus.CounterVec

	// Tool metrics
	ToolCallsTotal        *prometheus.CounterVec
	ToolCallFailuresTotal *prometheus.CounterVec

	// Model metrics
	RetriesTotal prometheus.Counter
	TokensTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		TasksStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_tasks_started_total",
			Help: "Total number of tasks spawned",
		}, []string{"kind"}),
		TasksCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_tasks_completed_total",
			Help: "Total number of tasks that ran to completion",
		}, []string{"kind"}),
		TasksAbortedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_tasks_aborted_total",
			Help: "Total number of turns torn down before completion",
		}, []string{"reason"}),
		TaskErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_task_errors_total",
			Help: "Total number of tasks that failed",
		}, []string{"kind"}),

		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_tool_calls_total",
			Help: "Total number of tool invocations dispatched",
		}, []string{"tool"}),
		ToolCallFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_tool_call_failures_total",
			Help: "Total number of tool invocations that returned a failure",
		}, []string{"tool"}),

		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_model_retries_total",
			Help: "Total number of model request retries scheduled",
		}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_model_tokens_total",
			Help: "Total tokens consumed by model requests",
		}, []string{"direction"}),
	}

	registry.MustRegister(
		m.TasksStartedTotal,
		m.TasksCompletedTotal,
		m.TasksAbortedTotal,
		m.TaskErrorsTotal,
		m.ToolCallsTotal,
		m.ToolCallFailuresTotal,
		m.RetriesTotal,
		m.TokensTotal,
	)

	return m
}

// Handler returns the HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Sink returns an event sink that updates metrics from session events
func (m *Metrics) Sink() turn.EventSink {
	return &eventSink{metrics: m}
}

type eventSink struct {
	metrics *Metrics
}

func (s *eventSink) Emit(event turn.Event) {
	m := s.metrics

	switch event.Kind {
	case turn.EventTaskStarted:
		m.TasksStartedTotal.WithLabelValues(string(event.TaskKind)).Inc()
	case turn.EventTaskComplete:
		m.TasksCompletedTotal.WithLabelValues(string(event.TaskKind)).Inc()
	case turn.EventTurnAborted:
		m.TasksAbortedTotal.WithLabelValues(string(event.Reason)).Inc()
	case turn.EventTaskError:
		m.TaskErrorsTotal.WithLabelValues(string(event.TaskKind)).Inc()
	case turn.EventToolCallBegin:
		if event.Call != nil {
			m.ToolCallsTotal.WithLabelValues(event.Call.Name).Inc()
		}
	case turn.EventToolCallEnd:
		if event.Call != nil && event.Output != nil && !event.Output.Success {
			m.ToolCallFailuresTotal.WithLabelValues(event.Call.Name).Inc()
		}
	case turn.EventRetryStatus:
		m.RetriesTotal.Inc()
	case turn.EventTokenUsage:
		if event.Usage != nil {
			m.TokensTotal.WithLabelValues("input").Add(float64(event.Usage.InputTokens))
			m.TokensTotal.WithLabelValues("output").Add(float64(event.Usage.OutputTokens))
		}
	}
}
