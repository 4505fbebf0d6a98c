package turn

import (
	"context"
	"fmt"

	"github.com/kestrel-agent/kestrel/pkg/model"
)

// Snapshotter captures the current workspace state
type Snapshotter interface {
	Capture(ctx context.Context) (string, error)
}

// GhostSnapshotTask records a workspace snapshot without touching the
// conversation.
type GhostSnapshotTask struct {
	snapshotter Snapshotter
}

// NewGhostSnapshotTask creates a snapshot task
func NewGhostSnapshotTask(snapshotter Snapshotter) *GhostSnapshotTask {
	return &GhostSnapshotTask{snapshotter: snapshotter}
}

// Kind returns TaskKindGhostSnapshot
func (t *GhostSnapshotTask) Kind() TaskKind { return TaskKindGhostSnapshot }

// Abort is a no-op; capture is a single blocking operation
func (t *GhostSnapshotTask) Abort(reason AbortReason) {}

// Run captures a snapshot and reports its id
func (t *GhostSnapshotTask) Run(ctx context.Context, tc *TurnContext, input []model.ResponseItem) (string, error) {
	snapshotID, err := t.snapshotter.Capture(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to capture snapshot: %w", err)
	}
	return fmt.Sprintf("Workspace snapshot %s recorded", snapshotID), nil
}
