package tools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileReadTool(t *testing.T) {
	tool := fileReadTool()

	t.Run("reads file with line numbers", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "hello.txt")
		os.WriteFile(path, []byte("line1\nline2\nline3\n"), 0o644)

		result, err := tool.Execute(map[string]any{"path": path}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(result, "line1") {
			t.Errorf("expected line1 in result, got: %s", result)
		}
		if !strings.Contains(result, "1 │") {
			t.Errorf("expected line number prefix, got: %s", result)
		}
	})

	t.Run("offset and limit", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "nums.txt")
		os.WriteFile(path, []byte("a\nb\nc\nd\ne\n"), 0o644)

		result, err := tool.Execute(map[string]any{
			"path":   path,
			"offset": float64(2),
			"limit":  float64(2),
		}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(result, "b") {
			t.Errorf("expected line b (offset=2), got: %s", result)
		}
		if strings.Contains(result, "   1 │") {
			t.Errorf("should not contain line 1, got: %s", result)
		}
		lines := strings.Split(strings.TrimRight(result, "\n"), "\n")
		if len(lines) != 2 {
			t.Errorf("expected 2 lines, got %d: %v", len(lines), lines)
		}
	})

	t.Run("missing file returns error", func(t *testing.T) {
		_, err := tool.Execute(map[string]any{"path": "/nonexistent/file.txt"}, nil)
		if err == nil {
			t.Fatal("expected error for missing file")
		}
	})

	t.Run("empty path returns error", func(t *testing.T) {
		_, err := tool.Execute(map[string]any{"path": ""}, nil)
		if err == nil {
			t.Fatal("expected error for empty path")
		}
	})

	t.Run("binary file returns error", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bin.dat")
		os.WriteFile(path, []byte{0x00, 0x01, 0x02, 'x'}, 0o644)

		_, err := tool.Execute(map[string]any{"path": path}, nil)
		if err == nil {
			t.Fatal("expected error for binary file")
		}
	})

	t.Run("denies config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.json")
		os.WriteFile(path, []byte(`{"anthropic_api_key":"sk-secret"}`), 0o600)

		origGetwd := Getwd
		Getwd = func() (string, error) { return dir, nil }
		defer func() { Getwd = origGetwd }()

		_, err := tool.Execute(map[string]any{"path": path}, nil)
		if err == nil || !strings.Contains(err.Error(), "access denied") {
			t.Errorf("expected access denied, got %v", err)
		}
	})
}

func TestFileWriteTool(t *testing.T) {
	tool := fileWriteTool()

	t.Run("creates new file with parent dirs", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "a", "b", "new.txt")

		result, err := tool.Execute(map[string]any{
			"path":    path,
			"content": "hello\nworld\n",
		}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(result, "Wrote") {
			t.Errorf("expected write summary, got: %s", result)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("file not written: %v", err)
		}
		if string(data) != "hello\nworld\n" {
			t.Errorf("wrong content: %q", data)
		}
	})

	t.Run("overwrite reports line diff", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "f.txt")
		os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644)

		result, err := tool.Execute(map[string]any{
			"path":    path,
			"content": "one\nTWO\nthree\nfour\n",
		}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(result, "Overwrote") {
			t.Errorf("expected overwrite summary, got: %s", result)
		}
		if !strings.Contains(result, "+") || !strings.Contains(result, "-") {
			t.Errorf("expected diff stats, got: %s", result)
		}
	})

	t.Run("empty path returns error", func(t *testing.T) {
		_, err := tool.Execute(map[string]any{"content": "x"}, nil)
		if err == nil {
			t.Fatal("expected error for missing path")
		}
	})
}

func TestFileEditTool(t *testing.T) {
	tool := fileEditTool()

	t.Run("replaces single occurrence", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "f.go")
		os.WriteFile(path, []byte("func old() {}\n"), 0o644)

		result, err := tool.Execute(map[string]any{
			"path":       path,
			"old_string": "func old()",
			"new_string": "func renamed()",
		}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(result, "Edited") {
			t.Errorf("expected edit summary, got: %s", result)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "func renamed() {}\n" {
			t.Errorf("wrong content after edit: %q", data)
		}
	})

	t.Run("ambiguous match returns error", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "f.txt")
		os.WriteFile(path, []byte("dup\ndup\n"), 0o644)

		_, err := tool.Execute(map[string]any{
			"path":       path,
			"old_string": "dup",
			"new_string": "x",
		}, nil)
		if err == nil || !strings.Contains(err.Error(), "2 times") {
			t.Errorf("expected ambiguity error, got %v", err)
		}
	})

	t.Run("replace_all replaces every occurrence", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "f.txt")
		os.WriteFile(path, []byte("dup\ndup\n"), 0o644)

		_, err := tool.Execute(map[string]any{
			"path":        path,
			"old_string":  "dup",
			"new_string":  "x",
			"replace_all": true,
		}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "x\nx\n" {
			t.Errorf("replace_all failed: %q", data)
		}
	})

	t.Run("not found returns error", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "f.txt")
		os.WriteFile(path, []byte("content\n"), 0o644)

		_, err := tool.Execute(map[string]any{
			"path":       path,
			"old_string": "missing",
			"new_string": "x",
		}, nil)
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Errorf("expected not-found error, got %v", err)
		}
	})
}

func TestDiffSummary(t *testing.T) {
	summary := diffSummary("a\nb\nc\n", "a\nB\nc\nd\n")
	if !strings.Contains(summary, "+2 -1 lines") {
		t.Errorf("unexpected stats: %s", summary)
	}
	if !strings.Contains(summary, "+ B") || !strings.Contains(summary, "- b") {
		t.Errorf("expected preview lines, got: %s", summary)
	}
	if !strings.Contains(summary, "+ d") {
		t.Errorf("expected added line d, got: %s", summary)
	}
}
