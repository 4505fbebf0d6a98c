package turn

import (
	"context"

	"github.com/kestrel-agent/kestrel/pkg/model"
)

const reviewInstructions = `You are reviewing the work done in this conversation. Inspect the changes
with the available tools, then reply with your findings: defects first, each
with its location and severity, followed by style concerns. Finish with a
one-line verdict.`

// ReviewTask runs the regular model loop with review instructions. Its last
// agent message is the review findings.
type ReviewTask struct {
	inner *RegularTask
}

// NewReviewTask creates a review task
func NewReviewTask() *ReviewTask {
	return &ReviewTask{inner: NewRegularTask()}
}

// Kind returns TaskKindReview
func (t *ReviewTask) Kind() TaskKind { return TaskKindReview }

// Abort cancels any in-flight tool calls
func (t *ReviewTask) Abort(reason AbortReason) {
	t.inner.Abort(reason)
}

// Run executes the review loop
func (t *ReviewTask) Run(ctx context.Context, tc *TurnContext, input []model.ResponseItem) (string, error) {
	reviewCtx := *tc
	reviewCtx.Instructions = reviewInstructions
	return t.inner.Run(ctx, &reviewCtx, input)
}
