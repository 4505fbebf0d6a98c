// Package snapshot records and restores workspace ghost snapshots using a
// git repository kept outside the workspace tree.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kestrel-agent/kestrel/pkg/sandbox"
)

// GitSnapshotter captures workspace state as commits in a bare repository.
// The workspace itself needs no .git directory and is never modified by a
// capture.
type GitSnapshotter struct {
	exec      sandbox.Executor
	gitDir    string
	workspace string
}

// NewGitSnapshotter creates a snapshotter for one workspace
func NewGitSnapshotter(exec sandbox.Executor, gitDir, workspace string) *GitSnapshotter {
	return &GitSnapshotter{exec: exec, gitDir: gitDir, workspace: workspace}
}

// Capture commits the current workspace state and returns the snapshot id
func (g *GitSnapshotter) Capture(ctx context.Context) (string, error) {
	if err := g.ensureRepo(ctx); err != nil {
		return "", err
	}

	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return "", fmt.Errorf("failed to stage workspace: %w", err)
	}

	message := fmt.Sprintf("ghost snapshot %s", time.Now().Format(time.RFC3339))
	if _, err := g.run(ctx,
		"-c", "user.name=kestrel",
		"-c", "user.email=kestrel@localhost",
		"commit", "--allow-empty", "-m", message); err != nil {
		return "", fmt.Errorf("failed to commit snapshot: %w", err)
	}

	id, err := g.run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve snapshot id: %w", err)
	}

	log.Info().
		Str("snapshot_id", id).
		Str("workspace", g.workspace).
		Msg("Ghost snapshot captured")

	return id, nil
}

// RestoreLatest checks the newest snapshot out over the workspace and
// returns its id.
func (g *GitSnapshotter) RestoreLatest(ctx context.Context) (string, error) {
	id, err := g.run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("no snapshot to restore: %w", err)
	}

	if _, err := g.run(ctx, "checkout", "HEAD", "--", "."); err != nil {
		return "", fmt.Errorf("failed to restore snapshot %s: %w", id, err)
	}

	log.Info().
		Str("snapshot_id", id).
		Str("workspace", g.workspace).
		Msg("Workspace restored from snapshot")

	return id, nil
}

// ensureRepo initializes the bare snapshot repository on first use
func (g *GitSnapshotter) ensureRepo(ctx context.Context) error {
	if _, err := os.Stat(g.gitDir); err == nil {
		return nil
	}

	result, err := g.exec.Execute(ctx, sandbox.CommandSpec{
		Program: "git",
		Args:    []string{"init", "--bare", g.gitDir},
	})
	if err != nil {
		return fmt.Errorf("failed to init snapshot repository: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("failed to init snapshot repository: %s", strings.TrimSpace(string(result.Stderr)))
	}
	return nil
}

// run executes git against the snapshot repository with the workspace as
// the work tree.
func (g *GitSnapshotter) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"--git-dir", g.gitDir, "--work-tree", g.workspace}, args...)

	result, err := g.exec.Execute(ctx, sandbox.CommandSpec{
		Program: "git",
		Args:    full,
		Cwd:     g.workspace,
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("git %s: %s", args[0], strings.TrimSpace(string(result.Stderr)))
	}

	return strings.TrimSpace(string(result.Stdout)), nil
}
