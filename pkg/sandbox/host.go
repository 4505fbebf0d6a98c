package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// HostExecutor runs commands directly on the host with path and timeout checks
type HostExecutor struct {
	config Config
}

// NewHostExecutor creates a new host-based executor
func NewHostExecutor(config Config) (*HostExecutor, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = 30 * time.Second
	}

	return &HostExecutor{config: config}, nil
}

// Execute runs a command spec and captures its output. A non-zero exit code
// is a result, not an error; only dispatch-level failures return an error.
func (h *HostExecutor) Execute(ctx context.Context, spec CommandSpec) (Result, error) {
	if spec.Program == "" {
		return Result{}, ErrEmptyProgram
	}
	if err := h.checkFilesystemAccess(spec.Cwd); err != nil {
		return Result{}, err
	}

	timeout := spec.Timeout
	if timeout == 0 {
		timeout = h.config.DefaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, spec.Program, spec.Args...)
	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}
	cmd.Env = h.buildEnvironment(spec.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(spec.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		return Result{
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			ExitCode: -1,
			Duration: duration,
		}, ErrExecutionTimeout
	}

	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return Result{}, fmt.Errorf("failed to run %s: %w", spec.Program, err)
		}
		exitCode = exitErr.ExitCode()
	}

	log.Debug().
		Str("program", spec.Program).
		Strs("args", spec.Args).
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("Command executed")

	return Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// checkFilesystemAccess checks whether a working directory is allowed
func (h *HostExecutor) checkFilesystemAccess(path string) error {
	if path == "" {
		return nil
	}

	cleanPath := filepath.Clean(path)

	for _, denied := range h.config.DeniedPaths {
		if pathWithin(cleanPath, denied) {
			return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, path)
		}
	}

	if len(h.config.AllowedPaths) == 0 {
		return nil
	}

	for _, allowed := range h.config.AllowedPaths {
		if pathWithin(cleanPath, allowed) {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, path)
}

// pathWithin reports whether path is root or lies under it. The comparison
// stops at separator boundaries so /tmp/ws-evil is not within /tmp/ws.
func pathWithin(path, root string) bool {
	root = filepath.Clean(root)
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// buildEnvironment builds a minimal environment plus requested variables
func (h *HostExecutor) buildEnvironment(env map[string]string) []string {
	result := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=/tmp",
	}

	for key, value := range env {
		result = append(result, fmt.Sprintf("%s=%s", key, value))
	}

	return result
}
