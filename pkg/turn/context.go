package turn

import (
	"context"

	"github.com/kestrel-agent/kestrel/pkg/model"
	"github.com/kestrel-agent/kestrel/pkg/retry"
	"github.com/kestrel-agent/kestrel/pkg/toolcall"
)

// Recorder persists resolved conversation batches. Implementations receive a
// batch only after every tool output in it is final.
type Recorder interface {
	Record(ctx context.Context, sessionID string, items []model.ResponseItem) error
}

// TurnContext carries everything one task execution needs. It is immutable
// for the lifetime of the task.
type TurnContext struct {
	SessionID    string
	SubmissionID string

	Client       model.Client
	Router       *toolcall.Router
	Recorder     Recorder
	Sink         EventSink
	Instructions string
	Cwd          string

	RetryOptions retry.Options
}

func (tc *TurnContext) emit(event Event) {
	if tc.Sink != nil {
		tc.Sink.Emit(event)
	}
}

func (tc *TurnContext) record(ctx context.Context, items []model.ResponseItem) error {
	if tc.Recorder == nil || len(items) == 0 {
		return nil
	}
	return tc.Recorder.Record(ctx, tc.SessionID, items)
}
