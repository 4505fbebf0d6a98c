package toolcall

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkspaceFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestEditFile_ReplacesUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkspaceFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")

	handler := editFileHandler(dir)
	out, err := handler(context.Background(), map[string]interface{}{
		"path":    "main.go",
		"search":  "func main() {}",
		"replace": "func main() { run() }",
	})

	require.NoError(t, err)
	assert.Contains(t, out, "1 occurrence(s)")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() { run() }\n", string(content))
}

func TestEditFile_AmbiguousMatchFailsWithoutReplaceAll(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "notes.txt", "foo\nfoo\n")

	handler := editFileHandler(dir)
	_, err := handler(context.Background(), map[string]interface{}{
		"path":    "notes.txt",
		"search":  "foo",
		"replace": "bar",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 locations")
}

func TestEditFile_ReplaceAll(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkspaceFile(t, dir, "notes.txt", "foo\nfoo\n")

	handler := editFileHandler(dir)
	out, err := handler(context.Background(), map[string]interface{}{
		"path":        "notes.txt",
		"search":      "foo",
		"replace":     "bar",
		"replace_all": true,
	})

	require.NoError(t, err)
	assert.Contains(t, out, "2 occurrence(s)")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bar\nbar\n", string(content))
}

func TestEditFile_MissingSearchTextFails(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "notes.txt", "hello\n")

	handler := editFileHandler(dir)
	_, err := handler(context.Background(), map[string]interface{}{
		"path":    "notes.txt",
		"search":  "absent",
		"replace": "x",
	})

	assert.Error(t, err)
}

func TestApplyPatch_ModifiesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkspaceFile(t, dir, "greet.txt", "hello\nworld\nbye\n")

	patch := `--- a/greet.txt
+++ b/greet.txt
@@ -1,3 +1,3 @@
 hello
-world
+there
 bye
`

	handler := applyPatchHandler(dir)
	out, err := handler(context.Background(), map[string]interface{}{"patch": patch})

	require.NoError(t, err)
	assert.Contains(t, out, "greet.txt: 1 hunk(s) applied")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\nthere\nbye\n", string(content))
}

func TestApplyPatch_CreatesNewFile(t *testing.T) {
	dir := t.TempDir()

	patch := `--- /dev/null
+++ b/pkg/util/new.go
@@ -0,0 +1,2 @@
+package util
+
`

	handler := applyPatchHandler(dir)
	_, err := handler(context.Background(), map[string]interface{}{"patch": patch})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "pkg", "util", "new.go"))
	require.NoError(t, err)
	assert.Equal(t, "package util\n\n", string(content))
}

func TestApplyPatch_ContextMismatchFails(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "greet.txt", "something else entirely\n")

	patch := `--- a/greet.txt
+++ b/greet.txt
@@ -1,1 +1,1 @@
-hello
+goodbye
`

	handler := applyPatchHandler(dir)
	_, err := handler(context.Background(), map[string]interface{}{"patch": patch})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestApplyPatch_MultipleFiles(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "a.txt", "one\n")
	writeWorkspaceFile(t, dir, "b.txt", "two\n")

	patch := `--- a/a.txt
+++ b/a.txt
@@ -1,1 +1,1 @@
-one
+uno
--- a/b.txt
+++ b/b.txt
@@ -1,1 +1,1 @@
-two
+dos
`

	handler := applyPatchHandler(dir)
	out, err := handler(context.Background(), map[string]interface{}{"patch": patch})
	require.NoError(t, err)
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "b.txt")

	a, _ := os.ReadFile(filepath.Join(dir, "a.txt"))
	b, _ := os.ReadFile(filepath.Join(dir, "b.txt"))
	assert.Equal(t, "uno\n", string(a))
	assert.Equal(t, "dos\n", string(b))
}

func TestApplyPatch_RejectsEscapingPaths(t *testing.T) {
	dir := t.TempDir()

	patch := `--- a/../outside.txt
+++ b/../outside.txt
@@ -0,0 +1,1 @@
+pwned
`

	handler := applyPatchHandler(dir)
	_, err := handler(context.Background(), map[string]interface{}{"patch": patch})
	assert.Error(t, err)
}

func TestApplyPatch_EmptyPatchFails(t *testing.T) {
	handler := applyPatchHandler(t.TempDir())
	_, err := handler(context.Background(), map[string]interface{}{"patch": "  \n"})
	assert.Error(t, err)
}
