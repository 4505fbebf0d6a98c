package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kestrel-agent/kestrel/pkg/model"
	"github.com/kestrel-agent/kestrel/pkg/turn"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.registry == nil {
		t.Error("Registry is nil")
	}
	if m.TasksStartedTotal == nil {
		t.Error("TasksStartedTotal is nil")
	}
	if m.ToolCallsTotal == nil {
		t.Error("ToolCallsTotal is nil")
	}
	if m.RetriesTotal == nil {
		t.Error("RetriesTotal is nil")
	}
}

func TestSink_CountsTaskLifecycle(t *testing.T) {
	m := NewMetrics()
	sink := m.Sink()

	sink.Emit(turn.Event{Kind: turn.EventTaskStarted, TaskKind: turn.TaskKindRegular})
	sink.Emit(turn.Event{Kind: turn.EventTaskComplete, TaskKind: turn.TaskKindRegular})
	sink.Emit(turn.Event{Kind: turn.EventTaskStarted, TaskKind: turn.TaskKindRegular})
	sink.Emit(turn.Event{Kind: turn.EventTurnAborted, Reason: turn.AbortReasonReplaced})

	body := scrape(t, m)
	assertContains(t, body, `kestrel_tasks_started_total{kind="regular"} 2`)
	assertContains(t, body, `kestrel_tasks_completed_total{kind="regular"} 1`)
	assertContains(t, body, `kestrel_tasks_aborted_total{reason="replaced"} 1`)
}

func TestSink_CountsToolCallsAndFailures(t *testing.T) {
	m := NewMetrics()
	sink := m.Sink()

	call := &model.FunctionCall{CallID: "call_1", Name: "shell"}
	sink.Emit(turn.Event{Kind: turn.EventToolCallBegin, Call: call})
	sink.Emit(turn.Event{Kind: turn.EventToolCallEnd, Call: call, Output: &model.FunctionCallOutput{CallID: "call_1", Success: true}})
	sink.Emit(turn.Event{Kind: turn.EventToolCallBegin, Call: call})
	sink.Emit(turn.Event{Kind: turn.EventToolCallEnd, Call: call, Output: &model.FunctionCallOutput{CallID: "call_2", Success: false}})

	body := scrape(t, m)
	assertContains(t, body, `kestrel_tool_calls_total{tool="shell"} 2`)
	assertContains(t, body, `kestrel_tool_call_failures_total{tool="shell"} 1`)
}

func TestSink_CountsRetriesAndTokens(t *testing.T) {
	m := NewMetrics()
	sink := m.Sink()

	sink.Emit(turn.Event{Kind: turn.EventRetryStatus})
	sink.Emit(turn.Event{Kind: turn.EventRetryStatus})
	sink.Emit(turn.Event{Kind: turn.EventTokenUsage, Usage: &model.TokenUsage{InputTokens: 100, OutputTokens: 40}})

	body := scrape(t, m)
	assertContains(t, body, `kestrel_model_retries_total 2`)
	assertContains(t, body, `kestrel_model_tokens_total{direction="input"} 100`)
	assertContains(t, body, `kestrel_model_tokens_total{direction="output"} 40`)
}

func TestHandler_ServesPrometheusFormat(t *testing.T) {
	m := NewMetrics()
	m.Sink().Emit(turn.Event{Kind: turn.EventTaskStarted, TaskKind: turn.TaskKindCompact})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	assertContains(t, rec.Body.String(), "kestrel_tasks_started_total")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	return rec.Body.String()
}

func assertContains(t *testing.T, body, want string) {
	t.Helper()
	if !strings.Contains(body, want) {
		t.Errorf("metrics output missing %q", want)
	}
}
