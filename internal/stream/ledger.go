package stream

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ToolState is the lifecycle position of one ledger entry.
type ToolState int

const (
	ToolRunning ToolState = iota
	ToolDone
	ToolFailed
)

// runFailedPrefix marks shell-tool failures; the executor prepends it to the
// result content when the command exits non-zero or times out.
const runFailedPrefix = "[RUN_FAILED]"

// failureMarker is emitted by tools that surface errors as annotated output
// rather than a structured flag.
const failureMarker = "❌"

// LedgerEntry tracks one announced tool call from announcement to resolution.
type LedgerEntry struct {
	Call      ToolCall
	State     ToolState
	StartedAt time.Time
}

// ResolvedCall is what Resolve hands back for the permanent log: the display
// name, whether the result content signalled failure, and how long the call
// ran from announcement to resolution.
type ResolvedCall struct {
	Name    string
	Failed  bool
	Elapsed time.Duration
}

// Ledger is the ordered record of tool calls within a single turn. Order is
// insertion order, which the resolution fallbacks depend on. Safe for
// concurrent use: the driver mutates it while the spinner goroutine renders
// status lines from it.
type Ledger struct {
	mu      sync.Mutex
	entries []*LedgerEntry
	now     func() time.Time // test hook
}

func (l *Ledger) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

// Announce records a new tool call in the running state, stamped with the
// announcement time.
func (l *Ledger) Announce(call ToolCall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, &LedgerEntry{Call: call, StartedAt: l.clock()})
}

// Resolve marks the entry matching callID as done or failed based on the
// result content, and returns the resolved call with its elapsed time. When
// callID matches no entry (some backends echo stale or empty ids), it falls
// back to the only unresolved entry if there is exactly one, otherwise to the
// most recently announced unresolved entry. Resolving against an empty or
// fully-resolved ledger is a no-op and reports ok=false.
func (l *Ledger) Resolve(callID, content string) (ResolvedCall, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.find(callID)
	if entry == nil {
		entry = l.fallback()
	}
	if entry == nil {
		return ResolvedCall{}, false
	}
	if isFailureContent(content) {
		entry.State = ToolFailed
	} else {
		entry.State = ToolDone
	}
	return ResolvedCall{
		Name:    DisplayName(entry.Call),
		Failed:  entry.State == ToolFailed,
		Elapsed: l.clock().Sub(entry.StartedAt),
	}, true
}

func (l *Ledger) find(callID string) *LedgerEntry {
	if callID == "" {
		return nil
	}
	for _, e := range l.entries {
		if e.State == ToolRunning && e.Call.ID == callID {
			return e
		}
	}
	return nil
}

// fallback picks the unresolved entry to credit when id matching fails:
// the sole unresolved entry if unique, else the last one announced.
func (l *Ledger) fallback() *LedgerEntry {
	var last *LedgerEntry
	count := 0
	for _, e := range l.entries {
		if e.State == ToolRunning {
			last = e
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return last
}

// RunningSince returns the start time of the oldest unresolved entry, for
// the status line's elapsed clock. ok is false when nothing is running.
func (l *Ledger) RunningSince() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.State == ToolRunning {
			return e.StartedAt, true
		}
	}
	return time.Time{}, false
}

// RunningCount reports how many announced calls have no result yet.
func (l *Ledger) RunningCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.State == ToolRunning {
			n++
		}
	}
	return n
}

// Entries returns a snapshot of the ledger in announcement order.
func (l *Ledger) Entries() []LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LedgerEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

// Reset clears the ledger for the next turn.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// StatusLine renders the transient tool panel body: one line per entry with
// a state glyph and the call's display name.
func (l *Ledger) StatusLine() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range l.entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch e.State {
		case ToolRunning:
			b.WriteString("⏳ ")
		case ToolDone:
			b.WriteString("✅ ")
		case ToolFailed:
			b.WriteString("❌ ")
		}
		b.WriteString(DisplayName(e.Call))
	}
	return b.String()
}

// DisplayName renders a tool call for status lines. Shell invocations show
// the command text itself, truncated; everything else shows the tool name.
func DisplayName(call ToolCall) string {
	if call.Name == "execute_command" {
		if cmd, ok := call.Args["command"].(string); ok && cmd != "" {
			if runes := []rune(cmd); len(runes) > 120 {
				cmd = string(runes[:120]) + "..."
			}
			return "command: " + cmd
		}
	}
	return call.Name
}

// AnnounceLine renders the permanent scrollback line for a tool announcement.
func AnnounceLine(call ToolCall) string {
	return fmt.Sprintf("→ %s", DisplayName(call))
}

// ResolvedLine renders the permanent scrollback line for a resolved tool
// call: success or failure glyph, display name, elapsed seconds.
func ResolvedLine(res ResolvedCall) string {
	glyph := "✓"
	if res.Failed {
		glyph = "✗"
	}
	return fmt.Sprintf("%s %s in %.2fs", glyph, res.Name, res.Elapsed.Seconds())
}

func isFailureContent(content string) bool {
	return strings.HasPrefix(content, runFailedPrefix) || strings.Contains(content, failureMarker)
}

// RateLimitHint returns a short operator hint when the error text suggests
// provider throttling or overload, else "".
func RateLimitHint(msg string) string {
	if strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "overloaded") {
		return "rate limited by provider, retry shortly or switch models"
	}
	return ""
}
