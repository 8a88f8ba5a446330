package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSkill(t *testing.T, root, dir, content string) {
	t.Helper()
	path := filepath.Join(root, dir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const reviewSkill = `---
name: code-review
description: Review diffs for bugs and style issues
---

When reviewing, check error paths first.
`

func TestManagerDiscovery(t *testing.T) {
	t.Run("loads front matter", func(t *testing.T) {
		userDir := t.TempDir()
		writeSkill(t, userDir, "code-review", reviewSkill)

		m := NewManager(userDir, "", nil)
		s, ok := m.Get("code-review")
		if !ok {
			t.Fatal("skill not discovered")
		}
		if s.Description != "Review diffs for bugs and style issues" {
			t.Errorf("wrong description: %q", s.Description)
		}
		if !strings.Contains(s.Content, "check error paths first") {
			t.Errorf("wrong content: %q", s.Content)
		}
		if strings.Contains(s.Content, "---") {
			t.Errorf("front matter leaked into content: %q", s.Content)
		}
		if s.Tier != TierUser {
			t.Errorf("wrong tier: %q", s.Tier)
		}
	})

	t.Run("missing front matter falls back to directory name", func(t *testing.T) {
		userDir := t.TempDir()
		writeSkill(t, userDir, "raw-notes", "Just instructions, no front matter.\n")

		m := NewManager(userDir, "", nil)
		s, ok := m.Get("raw-notes")
		if !ok {
			t.Fatal("skill not discovered")
		}
		if s.Name != "raw-notes" {
			t.Errorf("expected directory name fallback, got %q", s.Name)
		}
		if !strings.Contains(s.Content, "Just instructions") {
			t.Errorf("content lost: %q", s.Content)
		}
	})

	t.Run("broken front matter falls back", func(t *testing.T) {
		userDir := t.TempDir()
		writeSkill(t, userDir, "broken", "---\nname: [unclosed\n---\nbody\n")

		m := NewManager(userDir, "", nil)
		if _, ok := m.Get("broken"); !ok {
			t.Fatal("broken skill should still be discovered under directory name")
		}
	})

	t.Run("project tier shadows user tier", func(t *testing.T) {
		userDir := t.TempDir()
		projectDir := t.TempDir()
		writeSkill(t, userDir, "code-review", reviewSkill)
		writeSkill(t, projectDir, "code-review", `---
name: code-review
description: Project-specific review rules
---

Follow the project checklist.
`)

		m := NewManager(userDir, projectDir, nil)
		s, _ := m.Get("code-review")
		if s.Tier != TierProject {
			t.Errorf("expected project tier to win, got %q", s.Tier)
		}
		if !strings.Contains(s.Content, "project checklist") {
			t.Errorf("project content should win: %q", s.Content)
		}
	})

	t.Run("missing directories are fine", func(t *testing.T) {
		m := NewManager("/nonexistent/a", "/nonexistent/b", nil)
		if len(m.List()) != 0 {
			t.Errorf("expected no skills, got %v", m.List())
		}
	})

	t.Run("list is sorted", func(t *testing.T) {
		userDir := t.TempDir()
		writeSkill(t, userDir, "zeta", "z\n")
		writeSkill(t, userDir, "alpha", "a\n")

		m := NewManager(userDir, "", nil)
		list := m.List()
		if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "zeta" {
			t.Errorf("unexpected order: %v", list)
		}
	})
}

func TestManagerActivation(t *testing.T) {
	newTestManager := func(t *testing.T) *Manager {
		userDir := t.TempDir()
		writeSkill(t, userDir, "code-review", reviewSkill)
		writeSkill(t, userDir, "sql-tuning", `---
name: sql-tuning
description: Optimize slow queries
---

Always EXPLAIN before rewriting.
`)
		return NewManager(userDir, "", nil)
	}

	t.Run("activate returns content", func(t *testing.T) {
		m := newTestManager(t)
		content, ok := m.Activate("code-review")
		if !ok {
			t.Fatal("activation failed")
		}
		if !strings.Contains(content, "check error paths first") {
			t.Errorf("wrong content: %q", content)
		}
		if got := m.Active(); len(got) != 1 || got[0] != "code-review" {
			t.Errorf("unexpected active set: %v", got)
		}
	})

	t.Run("double activation is a no-op", func(t *testing.T) {
		m := newTestManager(t)
		m.Activate("code-review")
		m.Activate("code-review")
		if got := m.Active(); len(got) != 1 {
			t.Errorf("expected one active entry, got %v", got)
		}
	})

	t.Run("unknown skill", func(t *testing.T) {
		m := newTestManager(t)
		if _, ok := m.Activate("nope"); ok {
			t.Error("unknown skill should not activate")
		}
	})

	t.Run("active content preserves activation order", func(t *testing.T) {
		m := newTestManager(t)
		m.Activate("sql-tuning")
		m.Activate("code-review")

		content := m.ActiveContent()
		sqlIdx := strings.Index(content, "## Active Skill: sql-tuning")
		reviewIdx := strings.Index(content, "## Active Skill: code-review")
		if sqlIdx < 0 || reviewIdx < 0 {
			t.Fatalf("missing sections: %q", content)
		}
		if sqlIdx > reviewIdx {
			t.Error("activation order not preserved")
		}
	})

	t.Run("deactivate", func(t *testing.T) {
		m := newTestManager(t)
		m.Activate("code-review")
		if !m.Deactivate("code-review") {
			t.Error("deactivation failed")
		}
		if m.Deactivate("code-review") {
			t.Error("second deactivation should report false")
		}
		if m.ActiveContent() != "" {
			t.Errorf("expected empty active content, got %q", m.ActiveContent())
		}
	})

	t.Run("describe marks active skills", func(t *testing.T) {
		m := newTestManager(t)
		m.Activate("sql-tuning")
		briefs := m.Describe()
		if len(briefs) != 2 {
			t.Fatalf("expected 2 briefs, got %d", len(briefs))
		}
		for _, b := range briefs {
			if b.Name == "sql-tuning" && !b.Active {
				t.Error("sql-tuning should be active")
			}
			if b.Name == "code-review" && b.Active {
				t.Error("code-review should not be active")
			}
		}
	})

	t.Run("refresh deactivates removed skills", func(t *testing.T) {
		userDir := t.TempDir()
		writeSkill(t, userDir, "temp", "temporary\n")
		m := NewManager(userDir, "", nil)
		m.Activate("temp")

		os.RemoveAll(filepath.Join(userDir, "temp"))
		m.Refresh()

		if len(m.Active()) != 0 {
			t.Errorf("removed skill still active: %v", m.Active())
		}
	})
}

func TestManagerWatch(t *testing.T) {
	userDir := t.TempDir()
	writeSkill(t, userDir, "first", "one\n")

	m := NewManager(userDir, "", nil)
	if err := m.Watch(); err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	defer m.Close()

	writeSkill(t, userDir, "second", "two\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := m.Get("second"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("new skill not picked up by watcher")
}
