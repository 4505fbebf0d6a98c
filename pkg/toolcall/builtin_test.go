package toolcall

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-agent/kestrel/pkg/model"
	"github.com/kestrel-agent/kestrel/pkg/sandbox"
)

func builtinRouter(t *testing.T) (*Router, string) {
	t.Helper()
	workDir := t.TempDir()
	exec, err := sandbox.NewHostExecutor(sandbox.Config{
		AllowedPaths:   []string{workDir},
		DefaultTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	router := NewRouter()
	require.NoError(t, RegisterBuiltins(router, exec, workDir))
	return router, workDir
}

func TestBuiltins_ShellCapturesOutput(t *testing.T) {
	router, _ := builtinRouter(t)

	output, err := router.Dispatch(context.Background(), model.FunctionCall{
		CallID:    "call_1",
		Name:      "shell",
		Arguments: `{"command":["echo","hi"]}`,
	})

	require.NoError(t, err)
	assert.True(t, output.Success)
	assert.Contains(t, output.Content, "exit code: 0")
	assert.Contains(t, output.Content, "hi")
}

func TestBuiltins_ReadFileConfinedToWorkspace(t *testing.T) {
	router, workDir := builtinRouter(t)
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "notes.txt"), []byte("remember"), 0644))

	output, err := router.Dispatch(context.Background(), model.FunctionCall{
		CallID:    "call_1",
		Name:      "read_file",
		Arguments: `{"path":"notes.txt"}`,
	})
	require.NoError(t, err)
	assert.True(t, output.Success)
	assert.Equal(t, "remember", output.Content)

	escape, err := router.Dispatch(context.Background(), model.FunctionCall{
		CallID:    "call_2",
		Name:      "read_file",
		Arguments: `{"path":"../../etc/passwd"}`,
	})
	require.NoError(t, err)
	assert.False(t, escape.Success)
	assert.Contains(t, escape.Content, "escapes workspace")
}

func TestBuiltins_RejectsSiblingDirectoryWithWorkspacePrefix(t *testing.T) {
	router, workDir := builtinRouter(t)

	// A sibling whose name extends the workspace root is outside it
	sibling := workDir + "-evil"
	require.NoError(t, os.MkdirAll(sibling, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sibling, "secret.txt"), []byte("hands off"), 0644))

	output, err := router.Dispatch(context.Background(), model.FunctionCall{
		CallID:    "call_1",
		Name:      "read_file",
		Arguments: `{"path":"` + filepath.Join(sibling, "secret.txt") + `"}`,
	})
	require.NoError(t, err)
	assert.False(t, output.Success)
	assert.Contains(t, output.Content, "escapes workspace")

	// The workspace root itself stays reachable
	resolved, err := resolveWorkspacePath(workDir, workDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(workDir), resolved)
}

func TestBuiltins_WriteFileRoundTrip(t *testing.T) {
	router, workDir := builtinRouter(t)

	output, err := router.Dispatch(context.Background(), model.FunctionCall{
		CallID:    "call_1",
		Name:      "write_file",
		Arguments: `{"path":"sub/dir/out.txt","content":"written"}`,
	})
	require.NoError(t, err)
	assert.True(t, output.Success)

	data, err := os.ReadFile(filepath.Join(workDir, "sub", "dir", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "written", string(data))
}

func TestBuiltins_ConcurrencyClasses(t *testing.T) {
	router, _ := builtinRouter(t)

	assert.True(t, router.ParallelCapable("read_file"))
	assert.False(t, router.ParallelCapable("shell"))
	assert.False(t, router.ParallelCapable("write_file"))
	assert.False(t, router.ParallelCapable("edit_file"))
	assert.False(t, router.ParallelCapable("apply_patch"))
}
