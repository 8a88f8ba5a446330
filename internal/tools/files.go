package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/batalabs/qoze/internal/provider"
)

const maxFileToolOutput = 50 * 1024

// ---------------------------------------------------------------------------
// file_read
// ---------------------------------------------------------------------------

func fileReadTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "file_read",
			Description: "Read a file's contents with line numbers. Use offset and limit for large files. Read before editing to get exact text.",
			Properties: map[string]provider.ToolProp{
				"path":   {Type: "string", Description: "Absolute or relative file path to read"},
				"offset": {Type: "integer", Description: "Line number to start reading from (1-based, default: 1)"},
				"limit":  {Type: "integer", Description: "Maximum number of lines to read (default: all)"},
			},
			Required: []string{"path"},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			path, ok := input["path"].(string)
			if !ok || path == "" {
				return "", fmt.Errorf("path is required")
			}

			if IsDeniedConfigFile(path) {
				return "", fmt.Errorf("access denied: %s contains secrets and cannot be read by the agent", filepath.Base(path))
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("reading %s: %w", path, err)
			}
			if IsBinary(data) {
				return "", fmt.Errorf("%s looks like a binary file", path)
			}

			text := strings.ReplaceAll(string(data), "\r\n", "\n")
			lines := strings.Split(text, "\n")

			offset := 1
			if v, ok := input["offset"].(float64); ok && v > 0 {
				offset = int(v)
			}

			limit := len(lines)
			if v, ok := input["limit"].(float64); ok && v > 0 {
				limit = int(v)
			}

			start := offset - 1
			if start < 0 {
				start = 0
			}
			if start > len(lines) {
				start = len(lines)
			}
			end := start + limit
			if end > len(lines) {
				end = len(lines)
			}

			var b strings.Builder
			for i := start; i < end; i++ {
				fmt.Fprintf(&b, "%4d │ %s\n", i+1, lines[i])
			}

			result := b.String()
			if len(result) > maxFileToolOutput {
				result = result[:maxFileToolOutput] + "\n... (truncated at 50KB)"
			}
			return result, nil
		},
	}
}

// ---------------------------------------------------------------------------
// file_write
// ---------------------------------------------------------------------------

func fileWriteTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "file_write",
			Description: "Create or overwrite a file. Parent directories are created automatically. Prefer file_edit for modifying existing files.",
			Properties: map[string]provider.ToolProp{
				"path":    {Type: "string", Description: "File path to write to"},
				"content": {Type: "string", Description: "Content to write to the file"},
			},
			Required: []string{"path", "content"},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			path, ok := input["path"].(string)
			if !ok || path == "" {
				return "", fmt.Errorf("path is required")
			}
			content, _ := input["content"].(string)

			old := ""
			if data, err := os.ReadFile(path); err == nil {
				old = string(data)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", fmt.Errorf("creating directories: %w", err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("writing %s: %w", path, err)
			}

			if old == "" {
				lines := strings.Count(content, "\n") + 1
				return fmt.Sprintf("Wrote %d bytes (%d lines) to %s", len(content), lines, path), nil
			}
			return fmt.Sprintf("Overwrote %s: %s", path, diffSummary(old, content)), nil
		},
	}
}

// ---------------------------------------------------------------------------
// file_edit
// ---------------------------------------------------------------------------

func fileEditTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "file_edit",
			Description: "Replace exact text in a file. old_string must match exactly once (or use replace_all for bulk changes). Always read the file first to get the exact text to match.",
			Properties: map[string]provider.ToolProp{
				"path":        {Type: "string", Description: "File path"},
				"old_string":  {Type: "string", Description: "Exact text to find"},
				"new_string":  {Type: "string", Description: "Text to replace it with"},
				"replace_all": {Type: "boolean", Description: "Replace all occurrences instead of requiring exactly one (default: false)"},
			},
			Required: []string{"path", "old_string", "new_string"},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			path, ok := input["path"].(string)
			if !ok || path == "" {
				return "", fmt.Errorf("path is required")
			}
			oldStr, ok := input["old_string"].(string)
			if !ok || oldStr == "" {
				return "", fmt.Errorf("old_string is required")
			}
			newStr, _ := input["new_string"].(string)

			replaceAll := false
			if v, ok := input["replace_all"].(bool); ok {
				replaceAll = v
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("reading %s: %w", path, err)
			}

			content := string(data)
			count := strings.Count(content, oldStr)
			if count == 0 {
				return "", fmt.Errorf("old_string not found in %s", path)
			}

			var newContent string
			if replaceAll {
				newContent = strings.ReplaceAll(content, oldStr, newStr)
			} else {
				if count > 1 {
					return "", fmt.Errorf("old_string found %d times in %s (must match exactly once, or set replace_all)", count, path)
				}
				newContent = strings.Replace(content, oldStr, newStr, 1)
			}

			if err := os.WriteFile(path, []byte(newContent), 0o644); err != nil {
				return "", fmt.Errorf("writing %s: %w", path, err)
			}

			return fmt.Sprintf("Edited %s: %s", path, diffSummary(content, newContent)), nil
		},
	}
}

// diffSummary compares two versions of a file and returns a compact
// line-level change summary with a short preview of the changed lines.
func diffSummary(oldText, newText string) string {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	added, removed := 0, 0
	var preview []string
	const maxPreview = 8

	for _, d := range diffs {
		lines := strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n")
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(lines)
			for _, l := range lines {
				if len(preview) < maxPreview {
					preview = append(preview, "+ "+truncate(l, 120))
				}
			}
		case diffmatchpatch.DiffDelete:
			removed += len(lines)
			for _, l := range lines {
				if len(preview) < maxPreview {
					preview = append(preview, "- "+truncate(l, 120))
				}
			}
		}
	}

	summary := fmt.Sprintf("+%d -%d lines", added, removed)
	if len(preview) > 0 {
		summary += "\n" + strings.Join(preview, "\n")
		if added+removed > maxPreview {
			summary += "\n..."
		}
	}
	return summary
}
