package stream

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestLedger_resolveByID(t *testing.T) {
	var l Ledger
	l.Announce(ToolCall{ID: "a", Name: "file_read"})
	l.Announce(ToolCall{ID: "b", Name: "grep"})

	l.Resolve("a", "contents")

	entries := l.Entries()
	if entries[0].State != ToolDone {
		t.Errorf("entry a state = %v, want done", entries[0].State)
	}
	if entries[1].State != ToolRunning {
		t.Errorf("entry b state = %v, want running", entries[1].State)
	}
}

func TestLedger_singleCandidateFallback(t *testing.T) {
	var l Ledger
	l.Announce(ToolCall{ID: "a", Name: "file_read"})

	// Backend echoed an id we never announced.
	l.Resolve("stale-id", "ok")

	if got := l.Entries()[0].State; got != ToolDone {
		t.Fatalf("sole running entry not resolved, state = %v", got)
	}
}

func TestLedger_lastInFallback(t *testing.T) {
	var l Ledger
	l.Announce(ToolCall{ID: "a", Name: "file_read"})
	l.Announce(ToolCall{ID: "b", Name: "grep"})

	l.Resolve("", "ok")

	entries := l.Entries()
	if entries[0].State != ToolRunning {
		t.Errorf("a resolved but the later announcement should win")
	}
	if entries[1].State != ToolDone {
		t.Errorf("b state = %v, want done", entries[1].State)
	}
}

func TestLedger_resolveEmpty(t *testing.T) {
	var l Ledger
	if _, ok := l.Resolve("a", "ok"); ok {
		t.Fatal("resolve against an empty ledger reported ok")
	}
	if n := l.RunningCount(); n != 0 {
		t.Fatalf("running count = %d", n)
	}
}

func TestLedger_resolveElapsed(t *testing.T) {
	var l Ledger
	base := time.Unix(1000, 0)
	l.now = func() time.Time { return base }
	l.Announce(ToolCall{ID: "a", Name: "grep"})

	l.now = func() time.Time { return base.Add(1070 * time.Millisecond) }
	res, ok := l.Resolve("a", "2 matches")
	if !ok {
		t.Fatal("resolve failed")
	}
	if res.Name != "grep" || res.Failed {
		t.Fatalf("resolved = %+v", res)
	}
	if res.Elapsed != 1070*time.Millisecond {
		t.Fatalf("elapsed = %v", res.Elapsed)
	}
}

func TestLedger_runningSince(t *testing.T) {
	var l Ledger
	base := time.Unix(1000, 0)
	l.now = func() time.Time { return base }
	l.Announce(ToolCall{ID: "a", Name: "file_read"})
	l.now = func() time.Time { return base.Add(time.Second) }
	l.Announce(ToolCall{ID: "b", Name: "grep"})

	since, ok := l.RunningSince()
	if !ok || !since.Equal(base) {
		t.Fatalf("since = %v ok = %v, want oldest start", since, ok)
	}

	l.Resolve("a", "ok")
	since, ok = l.RunningSince()
	if !ok || !since.Equal(base.Add(time.Second)) {
		t.Fatalf("since = %v ok = %v after first resolve", since, ok)
	}

	l.Resolve("b", "ok")
	if _, ok := l.RunningSince(); ok {
		t.Fatal("RunningSince ok with nothing running")
	}
}

func TestResolvedLine(t *testing.T) {
	got := ResolvedLine(ResolvedCall{Name: "command: ls -la", Elapsed: 420 * time.Millisecond})
	if got != "✓ command: ls -la in 0.42s" {
		t.Errorf("success line = %q", got)
	}
	got = ResolvedLine(ResolvedCall{Name: "grep", Failed: true, Elapsed: 1070 * time.Millisecond})
	if got != "✗ grep in 1.07s" {
		t.Errorf("failure line = %q", got)
	}
}

func TestLedger_failureSentinels(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    ToolState
	}{
		{"run failed prefix", "[RUN_FAILED] (Exit Code: 1)\nno such file", ToolFailed},
		{"failure marker", "❌ request timed out", ToolFailed},
		{"marker mid content", "step 1 ok\n❌ step 2 failed", ToolFailed},
		{"plain success", "wrote 40 bytes", ToolDone},
		{"empty result", "", ToolDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l Ledger
			l.Announce(ToolCall{ID: "x", Name: "execute_command"})
			l.Resolve("x", tt.content)
			if got := l.Entries()[0].State; got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLedger_statusLine(t *testing.T) {
	var l Ledger
	l.Announce(ToolCall{ID: "a", Name: "file_read"})
	l.Announce(ToolCall{ID: "b", Name: "grep"})
	l.Resolve("a", "ok")
	l.Resolve("b", "[RUN_FAILED] nope")

	got := l.StatusLine()
	if !strings.Contains(got, "✅ file_read") || !strings.Contains(got, "❌ grep") {
		t.Fatalf("status line = %q", got)
	}
}

func TestDisplayName(t *testing.T) {
	long := strings.Repeat("x", 200)
	tests := []struct {
		name string
		call ToolCall
		want string
	}{
		{
			"plain tool",
			ToolCall{Name: "web_search"},
			"web_search",
		},
		{
			"command shown",
			ToolCall{Name: "execute_command", Args: map[string]any{"command": "ls -la"}},
			"command: ls -la",
		},
		{
			"command truncated",
			ToolCall{Name: "execute_command", Args: map[string]any{"command": long}},
			"command: " + long[:120] + "...",
		},
		{
			"command missing arg",
			ToolCall{Name: "execute_command", Args: map[string]any{}},
			"execute_command",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayName(tt.call); got != tt.want {
				t.Errorf("DisplayName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDisplayName_multibyteTruncation(t *testing.T) {
	cmd := strings.Repeat("é", 130)
	got := DisplayName(ToolCall{Name: "execute_command", Args: map[string]any{"command": cmd}})
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune: %q", got)
	}
	want := "command: " + strings.Repeat("é", 120) + "..."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRateLimitHint(t *testing.T) {
	if RateLimitHint("API error 429: too many requests") == "" {
		t.Error("429 not recognized")
	}
	if RateLimitHint("upstream Overloaded, retry later") == "" {
		t.Error("overloaded not recognized")
	}
	if RateLimitHint("connection refused") != "" {
		t.Error("hint on unrelated error")
	}
}
