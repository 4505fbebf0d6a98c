package turn

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/kestrel-agent/kestrel/pkg/model"
	"github.com/kestrel-agent/kestrel/pkg/retry"
	"github.com/kestrel-agent/kestrel/pkg/toolcall"
)

// RegularTask is the standard model loop: send the transcript, execute the
// returned tool batch, feed the results back, and stop when a response
// carries no tool calls.
type RegularTask struct {
	runtime atomic.Pointer[toolcall.Runtime]
}

// NewRegularTask creates a regular turn task
func NewRegularTask() *RegularTask {
	return &RegularTask{}
}

// Kind returns TaskKindRegular
func (t *RegularTask) Kind() TaskKind { return TaskKindRegular }

// Abort cancels any in-flight tool calls. It runs on the teardown goroutine
// while the task goroutine may still be detaching.
func (t *RegularTask) Abort(reason AbortReason) {
	if rt := t.runtime.Load(); rt != nil {
		rt.AbortAll()
	}
}

// turnOutput bundles one successful model request
type turnOutput struct {
	items []model.ResponseItem
	usage model.TokenUsage
}

// Run drives the model loop until a response without tool calls. The input
// transcript is the caller's to persist; only items this turn produces are
// recorded.
func (t *RegularTask) Run(ctx context.Context, tc *TurnContext, input []model.ResponseItem) (string, error) {
	transcript := reconcileMissingOutputs(input)

	lastAgentMessage := ""
	for {
		if ctx.Err() != nil {
			return "", retry.ErrAborted
		}

		output, err := t.requestWithRetry(ctx, tc, transcript)
		if err != nil {
			return "", err
		}

		usage := output.usage
		usageEvent := newEvent(EventTokenUsage, tc.SessionID, tc.SubmissionID)
		usageEvent.Usage = &usage
		tc.emit(usageEvent)

		var calls []model.FunctionCall
		for _, item := range output.items {
			switch item.Kind {
			case model.ItemMessage:
				if item.Role == model.RoleAssistant {
					lastAgentMessage = item.Content
					msgEvent := newEvent(EventAgentMessage, tc.SessionID, tc.SubmissionID)
					msgEvent.Message = item.Content
					tc.emit(msgEvent)
				}
			case model.ItemFunctionCall:
				calls = append(calls, *item.Call)
			}
		}

		if len(calls) == 0 {
			if err := tc.record(ctx, output.items); err != nil {
				return "", err
			}
			return lastAgentMessage, nil
		}

		outputs, err := t.runToolBatch(ctx, tc, calls)
		if err != nil {
			return "", err
		}

		batch := append(output.items, outputs...)
		// Batches are recorded only once every output in them is final
		if err := tc.record(ctx, batch); err != nil {
			return "", err
		}
		transcript = append(transcript, batch...)
	}
}

// requestWithRetry sends one model request inside the retry loop
func (t *RegularTask) requestWithRetry(ctx context.Context, tc *TurnContext, transcript []model.ResponseItem) (turnOutput, error) {
	prompt := model.Prompt{
		Instructions: tc.Instructions,
		Input:        transcript,
		Tools:        tc.Router.Specs(),
	}

	return retry.Do(ctx, func(ctx context.Context) (turnOutput, error) {
		stream, err := tc.Client.Stream(ctx, prompt)
		if err != nil {
			return turnOutput{}, err
		}
		items, usage, err := model.Collect(ctx, stream)
		if err != nil {
			return turnOutput{}, err
		}
		return turnOutput{items: items, usage: usage}, nil
	}, model.ClassifyForRetry, tc.RetryOptions, func(status retry.Status) {
		s := status
		event := newEvent(EventRetryStatus, tc.SessionID, tc.SubmissionID)
		event.Retry = &s
		event.Message = status.Reason
		tc.emit(event)
	})
}

// runToolBatch executes one response's tool calls and returns the output
// items in call order. Slots left unwritten by an aborted batch are recorded
// as aborted outputs.
func (t *RegularTask) runToolBatch(ctx context.Context, tc *TurnContext, calls []model.FunctionCall) ([]model.ResponseItem, error) {
	outputs := make([]model.ResponseItem, len(calls))
	runtime := toolcall.NewRuntime(tc.Router, &sinkNotifier{tc: tc})
	t.runtime.Store(runtime)
	defer t.runtime.Store(nil)

	for i, call := range calls {
		if err := runtime.HandleToolCall(ctx, call, i, outputs); err != nil {
			runtime.AbortAll()
			return nil, err
		}
	}

	if err := runtime.ResolvePending(ctx, outputs); err != nil {
		if ctx.Err() != nil {
			return nil, retry.ErrAborted
		}
		return nil, err
	}

	for i, call := range calls {
		if outputs[i].Output == nil {
			outputs[i] = model.AbortedFunctionCallOutput(call.CallID)
		}
	}

	return outputs, nil
}

// reconcileMissingOutputs inserts a synthetic aborted output directly after
// any tool call in the input that never got a recorded result, so the
// provider sees a well-formed transcript after an interrupted turn.
func reconcileMissingOutputs(input []model.ResponseItem) []model.ResponseItem {
	resolved := make(map[string]bool)
	for _, item := range input {
		if item.Kind == model.ItemFunctionCallOutput {
			resolved[item.Output.CallID] = true
		}
	}

	missing := 0
	for _, item := range input {
		if item.Kind == model.ItemFunctionCall && !resolved[item.Call.CallID] {
			missing++
		}
	}
	if missing == 0 {
		return input
	}

	log.Debug().
		Int("missing_outputs", missing).
		Msg("Reconciling interrupted tool calls with aborted outputs")

	reconciled := make([]model.ResponseItem, 0, len(input)+missing)
	for _, item := range input {
		reconciled = append(reconciled, item)
		if item.Kind == model.ItemFunctionCall && !resolved[item.Call.CallID] {
			reconciled = append(reconciled, model.AbortedFunctionCallOutput(item.Call.CallID))
		}
	}
	return reconciled
}

// sinkNotifier forwards tool call lifecycle to the session event sink
type sinkNotifier struct {
	tc *TurnContext
}

func (n *sinkNotifier) OnToolCallBegin(call model.FunctionCall) {
	c := call
	event := newEvent(EventToolCallBegin, n.tc.SessionID, n.tc.SubmissionID)
	event.Call = &c
	n.tc.emit(event)
}

func (n *sinkNotifier) OnToolCallEnd(call model.FunctionCall, output model.FunctionCallOutput) {
	c := call
	o := output
	event := newEvent(EventToolCallEnd, n.tc.SessionID, n.tc.SubmissionID)
	event.Call = &c
	event.Output = &o
	n.tc.emit(event)
}
