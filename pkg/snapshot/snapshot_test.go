package snapshot

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-agent/kestrel/pkg/sandbox"
)

func newSnapshotter(t *testing.T) (*GitSnapshotter, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	workspace := t.TempDir()
	gitDir := filepath.Join(t.TempDir(), "ghost.git")

	hostExec, err := sandbox.NewHostExecutor(sandbox.Config{DefaultTimeout: 10 * time.Second})
	require.NoError(t, err)

	return NewGitSnapshotter(hostExec, gitDir, workspace), workspace
}

func TestGitSnapshotter_CaptureAndRestore(t *testing.T) {
	snapshotter, workspace := newSnapshotter(t)
	ctx := context.Background()

	target := filepath.Join(workspace, "main.go")
	require.NoError(t, os.WriteFile(target, []byte("package main\n"), 0644))

	id, err := snapshotter.Capture(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Damage the workspace, then roll back
	require.NoError(t, os.WriteFile(target, []byte("garbage"), 0644))

	restoredID, err := snapshotter.RestoreLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, restoredID)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(content))
}

func TestGitSnapshotter_SuccessiveCapturesAdvance(t *testing.T) {
	snapshotter, workspace := newSnapshotter(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(workspace, "a.txt"), []byte("one"), 0644))
	first, err := snapshotter.Capture(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(workspace, "a.txt"), []byte("two"), 0644))
	second, err := snapshotter.Capture(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	// Restore brings back the newest state
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "a.txt"), []byte("three"), 0644))
	restoredID, err := snapshotter.RestoreLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, restoredID)

	content, err := os.ReadFile(filepath.Join(workspace, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(content))
}

func TestGitSnapshotter_RestoreWithoutSnapshotsFails(t *testing.T) {
	snapshotter, _ := newSnapshotter(t)

	_, err := snapshotter.RestoreLatest(context.Background())
	assert.Error(t, err)
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	_, err := NewScheduler("not a schedule", func() {})
	assert.Error(t, err)
}

func TestScheduler_FiresTrigger(t *testing.T) {
	var fired atomic.Int32
	scheduler, err := NewScheduler("@every 100ms", func() {
		fired.Add(1)
	})
	require.NoError(t, err)

	require.NoError(t, scheduler.Start())
	defer scheduler.Stop()

	require.Eventually(t, func() bool {
		return fired.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond)
}
