package toolcall

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type hunkLine struct {
	kind byte
	text string
}

type hunk struct {
	start int
	lines []hunkLine
}

type filePatch struct {
	path  string
	hunks []hunk
}

func editFileHandler(workDir string) Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		path, err := resolveWorkspacePath(workDir, args["path"])
		if err != nil {
			return "", err
		}
		search, _ := args["search"].(string)
		replace, _ := args["replace"].(string)
		replaceAll, _ := args["replace_all"].(bool)
		if search == "" {
			return "", fmt.Errorf("search cannot be empty")
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
		content := string(data)

		occurrences := strings.Count(content, search)
		if occurrences == 0 {
			return "", fmt.Errorf("search text not found in %s", args["path"])
		}
		if !replaceAll {
			if occurrences > 1 {
				return "", fmt.Errorf("search text matches %d locations, pass replace_all or disambiguate", occurrences)
			}
			occurrences = 1
		}

		var updated string
		if replaceAll {
			updated = strings.ReplaceAll(content, search, replace)
		} else {
			idx := strings.Index(content, search)
			updated = content[:idx] + replace + content[idx+len(search):]
		}

		if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
			return "", fmt.Errorf("failed to write file: %w", err)
		}

		return fmt.Sprintf("replaced %d occurrence(s) in %s", occurrences, args["path"]), nil
	}
}

func applyPatchHandler(workDir string) Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		patchText, _ := args["patch"].(string)
		if strings.TrimSpace(patchText) == "" {
			return "", fmt.Errorf("patch cannot be empty")
		}

		patches, err := parseUnifiedPatch(patchText)
		if err != nil {
			return "", err
		}
		if len(patches) == 0 {
			return "", fmt.Errorf("patch names no files")
		}

		var b strings.Builder
		for _, patch := range patches {
			target, err := resolveWorkspacePath(workDir, patch.path)
			if err != nil {
				return "", err
			}

			orig, err := os.ReadFile(target)
			if err != nil && !os.IsNotExist(err) {
				return "", fmt.Errorf("failed to read %s: %w", patch.path, err)
			}

			updated, applied, err := applyHunks(splitLines(string(orig)), patch.hunks)
			if err != nil {
				return "", fmt.Errorf("%s: %w", patch.path, err)
			}

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", fmt.Errorf("failed to create parent directory: %w", err)
			}
			if err := os.WriteFile(target, []byte(strings.Join(updated, "\n")+"\n"), 0644); err != nil {
				return "", fmt.Errorf("failed to write %s: %w", patch.path, err)
			}

			fmt.Fprintf(&b, "%s: %d hunk(s) applied\n", patch.path, applied)
		}

		return b.String(), nil
	}
}

// parseUnifiedPatch splits a unified diff into per-file hunk lists. File
// identity comes from the +++ header; a/ and b/ prefixes are stripped.
func parseUnifiedPatch(patchText string) ([]filePatch, error) {
	var patches []filePatch
	var current *filePatch
	var currentHunk *hunk

	for _, raw := range strings.Split(patchText, "\n") {
		line := strings.TrimRight(raw, "\r")

		switch {
		case strings.HasPrefix(line, "--- "):
			continue
		case strings.HasPrefix(line, "+++ "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
			path = strings.TrimPrefix(path, "a/")
			path = strings.TrimPrefix(path, "b/")
			if path == "" || path == "/dev/null" {
				current = nil
				continue
			}
			patches = append(patches, filePatch{path: path})
			current = &patches[len(patches)-1]
			currentHunk = nil
		case strings.HasPrefix(line, "@@"):
			if current == nil {
				return nil, fmt.Errorf("hunk header before any file header: %s", line)
			}
			start, err := parseHunkHeader(line)
			if err != nil {
				return nil, err
			}
			current.hunks = append(current.hunks, hunk{start: start})
			currentHunk = &current.hunks[len(current.hunks)-1]
		default:
			if currentHunk == nil || len(line) == 0 {
				continue
			}
			switch line[0] {
			case ' ', '+', '-':
				currentHunk.lines = append(currentHunk.lines, hunkLine{kind: line[0], text: line[1:]})
			}
		}
	}

	return patches, nil
}

// parseHunkHeader extracts the old-file start line from "@@ -l,c +l,c @@"
func parseHunkHeader(line string) (int, error) {
	parts := strings.Split(line, " ")
	if len(parts) < 3 {
		return 0, fmt.Errorf("invalid hunk header: %s", line)
	}

	left := strings.TrimPrefix(parts[1], "-")
	start := strings.Split(left, ",")[0]

	var startLine int
	if _, err := fmt.Sscanf(start, "%d", &startLine); err != nil {
		return 0, fmt.Errorf("invalid hunk header: %s", line)
	}
	if startLine < 1 {
		startLine = 1
	}
	return startLine, nil
}

// applyHunks applies hunks in order against the original lines. Context and
// deletion lines must match the original exactly.
func applyHunks(orig []string, hunks []hunk) ([]string, int, error) {
	out := make([]string, 0, len(orig))
	idx := 0
	applied := 0

	for _, h := range hunks {
		target := h.start - 1
		if target < idx {
			return nil, applied, fmt.Errorf("hunks out of order at line %d", h.start)
		}
		if target > len(orig) {
			target = len(orig)
		}
		out = append(out, orig[idx:target]...)
		idx = target

		for _, ln := range h.lines {
			switch ln.kind {
			case ' ':
				if idx >= len(orig) || orig[idx] != ln.text {
					return nil, applied, fmt.Errorf("context mismatch at line %d", idx+1)
				}
				out = append(out, orig[idx])
				idx++
			case '-':
				if idx >= len(orig) || orig[idx] != ln.text {
					return nil, applied, fmt.Errorf("delete mismatch at line %d", idx+1)
				}
				idx++
			case '+':
				out = append(out, ln.text)
			}
		}
		applied++
	}

	out = append(out, orig[idx:]...)
	return out, applied, nil
}

func splitLines(content string) []string {
	if content == "" {
		return []string{}
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}
