package turn

import (
	"context"
	"fmt"

	"github.com/kestrel-agent/kestrel/pkg/model"
)

// Restorer rolls the workspace back to its most recent snapshot
type Restorer interface {
	RestoreLatest(ctx context.Context) (string, error)
}

// UndoTask restores the workspace from the latest ghost snapshot
type UndoTask struct {
	restorer Restorer
}

// NewUndoTask creates an undo task
func NewUndoTask(restorer Restorer) *UndoTask {
	return &UndoTask{restorer: restorer}
}

// Kind returns TaskKindUndo
func (t *UndoTask) Kind() TaskKind { return TaskKindUndo }

// Abort is a no-op; restore is a single blocking operation
func (t *UndoTask) Abort(reason AbortReason) {}

// Run restores the latest snapshot and reports which one
func (t *UndoTask) Run(ctx context.Context, tc *TurnContext, input []model.ResponseItem) (string, error) {
	snapshotID, err := t.restorer.RestoreLatest(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to restore snapshot: %w", err)
	}

	message := fmt.Sprintf("Workspace restored to snapshot %s", snapshotID)
	if err := tc.record(ctx, []model.ResponseItem{model.AssistantMessage(message)}); err != nil {
		return "", err
	}
	return message, nil
}
