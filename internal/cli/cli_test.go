package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/batalabs/qoze/internal/stream"
	"github.com/batalabs/qoze/internal/tools"
)

type staticSkills struct{ briefs []tools.SkillBrief }

func (s *staticSkills) Describe() []tools.SkillBrief   { return s.briefs }
func (s *staticSkills) Activate(string) (string, bool) { return "", false }
func (s *staticSkills) Deactivate(string) bool         { return false }

func TestPlainSinkWriteLine(t *testing.T) {
	var buf bytes.Buffer
	s := newPlainSink(&buf, 80, false)

	s.WriteLine("plain text", stream.StylePlain)
	if !strings.Contains(buf.String(), "plain text") {
		t.Fatalf("output = %q", buf.String())
	}

	buf.Reset()
	s.WriteLine("some *markdown* answer", stream.StyleAnswer)
	if !strings.Contains(buf.String(), "markdown") {
		t.Fatalf("answer lost: %q", buf.String())
	}

	buf.Reset()
	s.WriteLine("quiet thought", stream.StyleReasoning)
	if !strings.Contains(buf.String(), "quiet thought") {
		t.Fatalf("reasoning lost: %q", buf.String())
	}

	buf.Reset()
	s.WriteLine("Error: boom", stream.StyleError)
	if !strings.Contains(buf.String(), "boom") {
		t.Fatalf("error lost: %q", buf.String())
	}
}

func TestPlainSinkStatusSuppressedWhenNotTTY(t *testing.T) {
	var buf bytes.Buffer
	s := newPlainSink(&buf, 80, false)

	s.ShowLive()
	s.UpdateLive("r", "a")
	s.UpdateToolStatus("Running grep...")
	s.HideLive()
	s.HideToolStatus()

	if buf.Len() != 0 {
		t.Fatalf("status should be silent without a tty, got %q", buf.String())
	}
}

func TestTruncateToWidth(t *testing.T) {
	if got := truncateToWidth("short", 20); got != "short" {
		t.Fatalf("got %q", got)
	}

	wide := strings.Repeat("⏳", 60)
	got := truncateToWidth(wide, 20)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune: %q", got)
	}
	if lipgloss.Width(got) > 20 {
		t.Fatalf("width %d > 20: %q", lipgloss.Width(got), got)
	}
	if got == "" {
		t.Fatal("everything truncated away")
	}
}

func TestPlainSinkStatusTruncatesGlyphsSafely(t *testing.T) {
	var buf bytes.Buffer
	s := newPlainSink(&buf, 80, true)
	s.width = 40

	s.UpdateToolStatus("⏳ " + strings.Repeat("❌", 80))
	if !utf8.ValidString(buf.String()) {
		t.Fatalf("status output is not valid UTF-8: %q", buf.String())
	}
}

func TestPlainSinkStatusRewritesInPlace(t *testing.T) {
	var buf bytes.Buffer
	s := newPlainSink(&buf, 80, true)

	s.UpdateToolStatus("working")
	if !strings.Contains(buf.String(), "\r") || !strings.Contains(buf.String(), "working") {
		t.Fatalf("output = %q", buf.String())
	}

	s.WriteLine("done", stream.StylePlain)
	out := buf.String()
	if !strings.HasSuffix(out, "done\n") {
		t.Fatalf("status not cleared before line: %q", out)
	}
}

func TestREPLQuit(t *testing.T) {
	in := strings.NewReader("/quit\n")
	var out bytes.Buffer
	r := New(Options{Version: "test", ModelID: "m", In: in, Out: &out})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "qoze test") {
		t.Fatalf("missing banner: %q", out.String())
	}
}

func TestREPLExitsOnEOF(t *testing.T) {
	in := strings.NewReader("")
	var out bytes.Buffer
	r := New(Options{In: in, Out: &out})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestREPLHelpAndUnknown(t *testing.T) {
	in := strings.NewReader("/help\n/bogus\n/quit\n")
	var out bytes.Buffer
	r := New(Options{In: in, Out: &out})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "/model <provider/model>") {
		t.Fatalf("missing help: %q", got)
	}
	if !strings.Contains(got, "Unknown command /bogus") {
		t.Fatalf("missing unknown notice: %q", got)
	}
}

func TestREPLSkillsListing(t *testing.T) {
	skills := &staticSkills{briefs: []tools.SkillBrief{
		{Name: "review", Description: "code review checklist", Active: true},
		{Name: "docs", Description: "writing guide"},
	}}
	in := strings.NewReader("/skills\n/quit\n")
	var out bytes.Buffer
	r := New(Options{In: in, Out: &out, Skills: skills})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "* review") {
		t.Fatalf("active marker missing: %q", got)
	}
	if !strings.Contains(got, "docs") {
		t.Fatalf("skill missing: %q", got)
	}
}

func TestAskUserPrompt(t *testing.T) {
	in := strings.NewReader("sure thing\n")
	var out bytes.Buffer
	ask := AskUserPrompt(in, &out)
	got, err := ask("Delete the file?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if got != "sure thing" {
		t.Fatalf("answer = %q", got)
	}
	if !strings.Contains(out.String(), "Delete the file?") {
		t.Fatalf("question not printed: %q", out.String())
	}
}
