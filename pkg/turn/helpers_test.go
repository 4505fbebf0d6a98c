package turn

import (
	"context"
	"sync"
	"time"

	"github.com/kestrel-agent/kestrel/pkg/model"
	"github.com/kestrel-agent/kestrel/pkg/retry"
	"github.com/kestrel-agent/kestrel/pkg/toolcall"
)

// scriptedResponse is one canned model reply
type scriptedResponse struct {
	items []model.ResponseItem
	usage model.TokenUsage
	err   error
}

// scriptedClient replays canned responses in order and records the prompts
// it was sent.
type scriptedClient struct {
	mu        sync.Mutex
	responses []scriptedResponse
	prompts   []model.Prompt
}

func (c *scriptedClient) Provider() string { return "scripted" }

func (c *scriptedClient) Stream(ctx context.Context, prompt model.Prompt) (*model.Stream, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	if len(c.responses) == 0 {
		c.mu.Unlock()
		return nil, model.ErrIncompleteStream
	}
	response := c.responses[0]
	c.responses = c.responses[1:]
	c.mu.Unlock()

	if response.err != nil {
		return nil, response.err
	}

	stream := model.NewStream(len(response.items) + 1)
	for i := range response.items {
		item := response.items[i]
		stream.Push(model.StreamEvent{Kind: model.EventItemDone, Item: &item})
	}
	usage := response.usage
	stream.Push(model.StreamEvent{Kind: model.EventCompleted, Usage: &usage})
	stream.Close()
	return stream, nil
}

func (c *scriptedClient) promptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

func (c *scriptedClient) prompt(i int) model.Prompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompts[i]
}

// collectSink accumulates emitted events
type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectSink) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *collectSink) byKind(kind EventKind) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []Event
	for _, event := range s.events {
		if event.Kind == kind {
			matched = append(matched, event)
		}
	}
	return matched
}

func (s *collectSink) countKind(kind EventKind) int {
	return len(s.byKind(kind))
}

// memRecorder stores recorded batches in order
type memRecorder struct {
	mu      sync.Mutex
	batches [][]model.ResponseItem
}

func (r *memRecorder) Record(ctx context.Context, sessionID string, items []model.ResponseItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch := make([]model.ResponseItem, len(items))
	copy(batch, items)
	r.batches = append(r.batches, batch)
	return nil
}

func (r *memRecorder) all() []model.ResponseItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []model.ResponseItem
	for _, batch := range r.batches {
		items = append(items, batch...)
	}
	return items
}

func fastRetryOptions() retry.Options {
	return retry.Options{
		BaseDelay:  time.Millisecond,
		Factor:     2.0,
		MaxDelay:   10 * time.Millisecond,
		MaxElapsed: 2 * time.Second,
		JitterSeed: 7,
	}
}

func newTestContext(client model.Client, router *toolcall.Router, recorder Recorder, sink EventSink) *TurnContext {
	return &TurnContext{
		SessionID:    "sess_test",
		SubmissionID: "sub_1",
		Client:       client,
		Router:       router,
		Recorder:     recorder,
		Sink:         sink,
		Instructions: "be helpful",
		RetryOptions: fastRetryOptions(),
	}
}

// blockingTask parks until its context is cancelled
type blockingTask struct {
	started   chan struct{}
	startOnce sync.Once
	abortedMu sync.Mutex
	aborted   []AbortReason
}

func newBlockingTask() *blockingTask {
	return &blockingTask{started: make(chan struct{})}
}

func (t *blockingTask) Kind() TaskKind { return TaskKindRegular }

func (t *blockingTask) Run(ctx context.Context, tc *TurnContext, input []model.ResponseItem) (string, error) {
	t.startOnce.Do(func() { close(t.started) })
	<-ctx.Done()
	return "", retry.ErrAborted
}

func (t *blockingTask) Abort(reason AbortReason) {
	t.abortedMu.Lock()
	defer t.abortedMu.Unlock()
	t.aborted = append(t.aborted, reason)
}

func (t *blockingTask) abortReasons() []AbortReason {
	t.abortedMu.Lock()
	defer t.abortedMu.Unlock()
	return append([]AbortReason(nil), t.aborted...)
}

// stubbornTask ignores cancellation for a while, forcing a detach
type stubbornTask struct {
	blockingTask
	holdFor time.Duration
}

func newStubbornTask(holdFor time.Duration) *stubbornTask {
	return &stubbornTask{blockingTask: blockingTask{started: make(chan struct{})}, holdFor: holdFor}
}

func (t *stubbornTask) Run(ctx context.Context, tc *TurnContext, input []model.ResponseItem) (string, error) {
	t.startOnce.Do(func() { close(t.started) })
	time.Sleep(t.holdFor)
	return "late", nil
}

// quickTask completes immediately with a fixed message
type quickTask struct {
	message string
	err     error
}

func (t *quickTask) Kind() TaskKind { return TaskKindRegular }

func (t *quickTask) Run(ctx context.Context, tc *TurnContext, input []model.ResponseItem) (string, error) {
	return t.message, t.err
}

func (t *quickTask) Abort(reason AbortReason) {}
