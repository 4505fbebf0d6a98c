package toolcall

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kestrel-agent/kestrel/pkg/model"
)

// Notifier observes per-call lifecycle events. Implementations must not
// block; the runtime calls them from the dispatching goroutine.
type Notifier interface {
	OnToolCallBegin(call model.FunctionCall)
	OnToolCallEnd(call model.FunctionCall, output model.FunctionCallOutput)
}

// pendingResult is the outcome of one in-flight parallel call
type pendingResult struct {
	output model.FunctionCallOutput
	err    error
}

// pendingCall tracks one spawned parallel call and its reserved output slot
type pendingCall struct {
	call        model.FunctionCall
	outputIndex int
	result      chan pendingResult
	cancel      context.CancelFunc
}

// Runtime executes the tool calls of one model response batch. Parallel
// calls run concurrently; each call's output lands in the slot reserved for
// it, so the recorded batch preserves response order regardless of
// completion order.
type Runtime struct {
	router   *Router
	notifier Notifier

	mu      sync.Mutex
	pending []*pendingCall
}

// NewRuntime creates a runtime over a router. notifier may be nil.
func NewRuntime(router *Router, notifier Notifier) *Runtime {
	return &Runtime{router: router, notifier: notifier}
}

// HandleToolCall dispatches one call from a response batch. outputs is the
// batch's output slots; outputIndex is the slot reserved for this call.
//
// Parallel-capable calls are spawned and tracked as pending. Serial calls
// first resolve every pending parallel call, then run inline. The returned
// error is fatal for the whole batch.
func (r *Runtime) HandleToolCall(ctx context.Context, call model.FunctionCall, outputIndex int, outputs []model.ResponseItem) error {
	if outputIndex < 0 || outputIndex >= len(outputs) {
		r.AbortAll()
		return fmt.Errorf("output index %d out of range for batch of %d", outputIndex, len(outputs))
	}

	if r.router.ParallelCapable(call.Name) {
		r.spawn(ctx, call, outputIndex)
		return nil
	}

	// Serial tools observe every earlier effect: drain the parallel set
	// before running.
	if err := r.ResolvePending(ctx, outputs); err != nil {
		return err
	}

	r.notifyBegin(call)

	output, err := r.router.Dispatch(ctx, call)
	if err != nil {
		r.AbortAll()
		return err
	}

	outputs[outputIndex] = model.ResponseItem{Kind: model.ItemFunctionCallOutput, Output: &output}
	r.notifyEnd(call, output)

	return nil
}

// ResolvePending awaits every outstanding parallel call in spawn order and
// writes each result into its reserved slot. A fatal dispatch error cancels
// the remaining calls and propagates. Cancellation of ctx cancels the
// remaining calls and returns ctx.Err().
func (r *Runtime) ResolvePending(ctx context.Context, outputs []model.ResponseItem) error {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for i, p := range pending {
		select {
		case <-ctx.Done():
			cancelAll(pending[i:])
			return ctx.Err()
		case result := <-p.result:
			if result.err != nil {
				log.Error().
					Str("tool", p.call.Name).
					Str("call_id", p.call.CallID).
					Err(result.err).
					Msg("Aborting remaining tool calls after fatal failure")
				cancelAll(pending[i+1:])
				return result.err
			}
			outputs[p.outputIndex] = model.ResponseItem{Kind: model.ItemFunctionCallOutput, Output: &result.output}
			r.notifyEnd(p.call, result.output)
		}
	}

	return nil
}

// AbortAll cancels every outstanding parallel call and drops the pending set
func (r *Runtime) AbortAll() {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	cancelAll(pending)
}

// PendingCount reports the number of unresolved parallel calls
func (r *Runtime) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Runtime) spawn(ctx context.Context, call model.FunctionCall, outputIndex int) {
	callCtx, cancel := context.WithCancel(ctx)
	p := &pendingCall{
		call:        call,
		outputIndex: outputIndex,
		result:      make(chan pendingResult, 1),
		cancel:      cancel,
	}

	r.mu.Lock()
	r.pending = append(r.pending, p)
	r.mu.Unlock()

	r.notifyBegin(call)

	go func() {
		defer cancel()
		output, err := r.router.Dispatch(callCtx, call)
		p.result <- pendingResult{output: output, err: err}
	}()
}

func (r *Runtime) notifyBegin(call model.FunctionCall) {
	if r.notifier != nil {
		r.notifier.OnToolCallBegin(call)
	}
}

func (r *Runtime) notifyEnd(call model.FunctionCall, output model.FunctionCallOutput) {
	if r.notifier != nil {
		r.notifier.OnToolCallEnd(call, output)
	}
}

func cancelAll(pending []*pendingCall) {
	for _, p := range pending {
		p.cancel()
	}
}
