package turn

import (
	"context"
	"fmt"

	"github.com/kestrel-agent/kestrel/pkg/model"
	"github.com/kestrel-agent/kestrel/pkg/retry"
)

const compactInstructions = `You are compacting a conversation. Produce a concise summary that preserves:
- what the user asked for and what was decided
- files, commands, and tools that were touched, with outcomes
- unresolved problems and agreed next steps
Reply with the summary only.`

// CompactTask replaces a long transcript with a model-produced summary
type CompactTask struct{}

// NewCompactTask creates a compaction task
func NewCompactTask() *CompactTask {
	return &CompactTask{}
}

// Kind returns TaskKindCompact
func (t *CompactTask) Kind() TaskKind { return TaskKindCompact }

// Abort is a no-op; compaction holds no external resources
func (t *CompactTask) Abort(reason AbortReason) {}

// Run asks the model for a summary of the input transcript
func (t *CompactTask) Run(ctx context.Context, tc *TurnContext, input []model.ResponseItem) (string, error) {
	transcript := reconcileMissingOutputs(input)
	prompt := model.Prompt{
		Instructions: compactInstructions,
		Input:        append(transcript, model.UserMessage("Summarize the conversation so far.")),
	}

	output, err := retry.Do(ctx, func(ctx context.Context) (turnOutput, error) {
		stream, err := tc.Client.Stream(ctx, prompt)
		if err != nil {
			return turnOutput{}, err
		}
		items, usage, err := model.Collect(ctx, stream)
		if err != nil {
			return turnOutput{}, err
		}
		return turnOutput{items: items, usage: usage}, nil
	}, model.ClassifyForRetry, tc.RetryOptions, nil)
	if err != nil {
		return "", err
	}

	summary := ""
	for _, item := range output.items {
		if item.Kind == model.ItemMessage && item.Role == model.RoleAssistant {
			summary = item.Content
		}
	}
	if summary == "" {
		return "", fmt.Errorf("compaction produced no summary")
	}

	usage := output.usage
	usageEvent := newEvent(EventTokenUsage, tc.SessionID, tc.SubmissionID)
	usageEvent.Usage = &usage
	tc.emit(usageEvent)

	if err := tc.record(ctx, []model.ResponseItem{model.AssistantMessage(summary)}); err != nil {
		return "", err
	}

	return summary, nil
}
