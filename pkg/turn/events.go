package turn

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/kestrel-agent/kestrel/pkg/model"
	"github.com/kestrel-agent/kestrel/pkg/retry"
)

// EventKind discriminates session events
type EventKind string

const (
	// EventTaskStarted marks a task registered in the active turn slot
	EventTaskStarted EventKind = "task_started"

	// EventTaskComplete is the terminal event of a task that ran to the end
	EventTaskComplete EventKind = "task_complete"

	// EventTurnAborted is the terminal event of a task torn down early
	EventTurnAborted EventKind = "turn_aborted"

	// EventTaskError is the terminal event of a task that failed
	EventTaskError EventKind = "task_error"

	// EventAgentMessage carries assistant text produced mid-turn
	EventAgentMessage EventKind = "agent_message"

	// EventToolCallBegin marks a tool invocation dispatched
	EventToolCallBegin EventKind = "tool_call_begin"

	// EventToolCallEnd marks a tool invocation resolved
	EventToolCallEnd EventKind = "tool_call_end"

	// EventTokenUsage reports token consumption after a model request
	EventTokenUsage EventKind = "token_usage"

	// EventRetryStatus reports a scheduled retry before its sleep
	EventRetryStatus EventKind = "retry_status"
)

// AbortReason explains why a turn was torn down
type AbortReason string

const (
	// AbortReasonReplaced means a newer task took the slot
	AbortReasonReplaced AbortReason = "replaced"

	// AbortReasonInterrupted means the user interrupted the turn
	AbortReasonInterrupted AbortReason = "interrupted"

	// AbortReasonError means a fatal error forced the turn down. Tasks that
	// fail on their own goroutine report EventTaskError instead; this reason
	// covers teardown initiated from outside the task.
	AbortReasonError AbortReason = "error"

	// AbortReasonShutdown means the session is closing
	AbortReasonShutdown AbortReason = "shutdown"
)

// Event is one session event delivered to the sink
type Event struct {
	ID           string       `json:"id"`
	Kind         EventKind    `json:"kind"`
	SessionID    string       `json:"session_id"`
	SubmissionID string       `json:"submission_id"`
	TaskKind     TaskKind     `json:"task_kind,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	Message      string       `json:"message,omitempty"`
	Reason       AbortReason  `json:"reason,omitempty"`
	Err          string       `json:"error,omitempty"`

	Call   *model.FunctionCall       `json:"call,omitempty"`
	Output *model.FunctionCallOutput `json:"output,omitempty"`
	Usage  *model.TokenUsage         `json:"usage,omitempty"`
	Retry  *retry.Status             `json:"retry,omitempty"`
}

// EventSink receives session events. Implementations must tolerate
// concurrent emission.
type EventSink interface {
	Emit(event Event)
}

// FanoutSink delivers every event to each wrapped sink in order
type FanoutSink struct {
	sinks []EventSink
}

// NewFanoutSink combines sinks; nil entries are skipped
func NewFanoutSink(sinks ...EventSink) *FanoutSink {
	f := &FanoutSink{}
	for _, sink := range sinks {
		if sink != nil {
			f.sinks = append(f.sinks, sink)
		}
	}
	return f
}

// Emit forwards the event to every sink
func (f *FanoutSink) Emit(event Event) {
	for _, sink := range f.sinks {
		sink.Emit(event)
	}
}

// NewEventID generates an event identifier
func NewEventID() string {
	return "evt_" + gonanoid.Must(12)
}

func newEvent(kind EventKind, sessionID, submissionID string) Event {
	return Event{
		ID:           NewEventID(),
		Kind:         kind,
		SessionID:    sessionID,
		SubmissionID: submissionID,
		Timestamp:    time.Now(),
	}
}
