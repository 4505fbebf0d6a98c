// Package sandbox executes fully-resolved command specifications under
// filesystem and timeout constraints. Policy construction lives elsewhere;
// this package only enforces the execution contract.
package sandbox

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidTimeout is returned when the timeout is invalid
	ErrInvalidTimeout = errors.New("invalid timeout (must be >= 0)")

	// ErrExecutionTimeout is returned when execution times out
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrFilesystemAccessDenied is returned when filesystem access is denied
	ErrFilesystemAccessDenied = errors.New("filesystem access denied")

	// ErrEmptyProgram is returned when the command spec has no program
	ErrEmptyProgram = errors.New("command program cannot be empty")
)

// Config defines the executor's filesystem and timing constraints
type Config struct {
	// AllowedPaths lists working directories commands may use; empty allows all
	AllowedPaths []string `json:"allowed_paths"`

	// DeniedPaths lists working directories commands may never use
	DeniedPaths []string `json:"denied_paths"`

	// DefaultTimeout applies when a command spec carries no timeout
	DefaultTimeout time.Duration `json:"default_timeout"`
}

// CommandSpec is a fully-resolved command: no shell interpretation happens here
type CommandSpec struct {
	// Program is the executable to run
	Program string `json:"program"`

	// Args are the program arguments
	Args []string `json:"args"`

	// Env are environment variables added to the minimal base environment
	Env map[string]string `json:"env"`

	// Cwd is the working directory
	Cwd string `json:"cwd"`

	// Stdin is the standard input
	Stdin []byte `json:"stdin"`

	// Timeout is the execution timeout; zero uses the executor default
	Timeout time.Duration `json:"timeout"`
}

// Result captures one command execution
type Result struct {
	// Stdout is the captured standard output
	Stdout []byte `json:"stdout"`

	// Stderr is the captured standard error
	Stderr []byte `json:"stderr"`

	// ExitCode is the process exit code; -1 on timeout
	ExitCode int `json:"exit_code"`

	// Duration is the wall-clock execution time
	Duration time.Duration `json:"duration"`
}

// Executor runs command specs under the sandbox contract
type Executor interface {
	Execute(ctx context.Context, spec CommandSpec) (Result, error)
}

// DefaultConfig returns a permissive default configuration
func DefaultConfig() Config {
	return Config{
		DeniedPaths:    []string{"/etc", "/sys", "/proc"},
		DefaultTimeout: 30 * time.Second,
	}
}

// ValidateConfig validates an executor configuration
func ValidateConfig(cfg Config) error {
	if cfg.DefaultTimeout < 0 {
		return ErrInvalidTimeout
	}
	return nil
}
