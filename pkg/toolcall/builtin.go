package toolcall

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kestrel-agent/kestrel/pkg/sandbox"
)

const maxFileReadBytes = 64 * 1024

// RegisterBuiltins registers the built-in tool set. Commands run through the
// sandbox executor; file tools are confined to workDir.
func RegisterBuiltins(router *Router, exec sandbox.Executor, workDir string) error {
	builtins := []Definition{
		{
			Name:        "shell",
			Description: "Run a program with arguments in the workspace and return its output",
			Parameters: []Parameter{
				{Name: "command", Type: "array", Description: "Program followed by its arguments", Required: true},
				{Name: "timeout_ms", Type: "integer", Description: "Timeout in milliseconds", Required: false},
			},
			Parallel: false,
			Handler:  shellHandler(exec, workDir),
		},
		{
			Name:        "read_file",
			Description: "Read a file from the workspace",
			Parameters: []Parameter{
				{Name: "path", Type: "string", Description: "Path relative to the workspace root", Required: true},
			},
			Parallel: true,
			Handler:  readFileHandler(workDir),
		},
		{
			Name:        "write_file",
			Description: "Write a file in the workspace, replacing any existing content",
			Parameters: []Parameter{
				{Name: "path", Type: "string", Description: "Path relative to the workspace root", Required: true},
				{Name: "content", Type: "string", Description: "Full file content", Required: true},
			},
			Parallel: false,
			Handler:  writeFileHandler(workDir),
		},
		{
			Name:        "edit_file",
			Description: "Replace text in a workspace file",
			Parameters: []Parameter{
				{Name: "path", Type: "string", Description: "Path relative to the workspace root", Required: true},
				{Name: "search", Type: "string", Description: "Exact text to find", Required: true},
				{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
				{Name: "replace_all", Type: "boolean", Description: "Replace every occurrence instead of requiring a unique match", Required: false},
			},
			Parallel: false,
			Handler:  editFileHandler(workDir),
		},
		{
			Name:        "apply_patch",
			Description: "Apply a unified diff to files in the workspace",
			Parameters: []Parameter{
				{Name: "patch", Type: "string", Description: "Unified diff text", Required: true},
			},
			Parallel: false,
			Handler:  applyPatchHandler(workDir),
		},
	}

	for _, def := range builtins {
		if err := router.Register(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}

	return nil
}

func shellHandler(exec sandbox.Executor, workDir string) Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		command, err := stringSlice(args["command"])
		if err != nil {
			return "", fmt.Errorf("command: %w", err)
		}
		if len(command) == 0 {
			return "", fmt.Errorf("command cannot be empty")
		}

		spec := sandbox.CommandSpec{
			Program: command[0],
			Args:    command[1:],
			Cwd:     workDir,
		}
		if ms, ok := args["timeout_ms"].(float64); ok && ms > 0 {
			spec.Timeout = time.Duration(ms) * time.Millisecond
		}

		result, err := exec.Execute(ctx, spec)
		if err != nil {
			return "", err
		}

		return formatExecResult(result), nil
	}
}

func readFileHandler(workDir string) Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		path, err := resolveWorkspacePath(workDir, args["path"])
		if err != nil {
			return "", err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}

		if len(data) > maxFileReadBytes {
			return string(data[:maxFileReadBytes]) + "\n... [file truncated]", nil
		}
		return string(data), nil
	}
}

func writeFileHandler(workDir string) Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		path, err := resolveWorkspacePath(workDir, args["path"])
		if err != nil {
			return "", err
		}
		content, _ := args["content"].(string)

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", fmt.Errorf("failed to create parent directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return "", fmt.Errorf("failed to write file: %w", err)
		}

		return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
	}
}

// resolveWorkspacePath joins a relative path onto workDir and rejects
// escapes above the workspace root.
func resolveWorkspacePath(workDir string, raw interface{}) (string, error) {
	rel, ok := raw.(string)
	if !ok || rel == "" {
		return "", fmt.Errorf("path must be a non-empty string")
	}

	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}
	path = filepath.Clean(path)

	if workDir != "" {
		// Boundary-aware containment: /tmp/ws-evil is not inside /tmp/ws
		root := filepath.Clean(workDir)
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			return "", fmt.Errorf("path escapes workspace: %s", rel)
		}
	}

	return path, nil
}

func stringSlice(raw interface{}) ([]string, error) {
	values, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an array of strings")
	}

	result := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected an array of strings")
		}
		result = append(result, s)
	}
	return result, nil
}

func formatExecResult(result sandbox.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d\n", result.ExitCode)
	if len(result.Stdout) > 0 {
		fmt.Fprintf(&b, "stdout:\n%s", result.Stdout)
		if result.Stdout[len(result.Stdout)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	if len(result.Stderr) > 0 {
		fmt.Fprintf(&b, "stderr:\n%s", result.Stderr)
	}
	return b.String()
}
