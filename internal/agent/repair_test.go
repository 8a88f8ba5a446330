package agent

import (
	"testing"

	"github.com/batalabs/qoze/internal/domain"
)

func assistantToolUse(ids ...string) domain.TranscriptMessage {
	m := domain.TranscriptMessage{Role: "assistant"}
	for _, id := range ids {
		m.Blocks = append(m.Blocks, domain.ContentBlock{Type: "tool_use", ToolUseID: id, ToolName: "file_read"})
	}
	return m
}

func userToolResults(ids ...string) domain.TranscriptMessage {
	m := domain.TranscriptMessage{Role: "user"}
	for _, id := range ids {
		m.Blocks = append(m.Blocks, domain.ContentBlock{Type: "tool_result", ToolUseID: id, ToolResult: "ok"})
	}
	return m
}

func TestRepairDanglingToolUse(t *testing.T) {
	t.Run("clean history untouched", func(t *testing.T) {
		msgs := []domain.TranscriptMessage{
			{Role: "user", Content: "hi"},
			assistantToolUse("tu_1"),
			userToolResults("tu_1"),
			{Role: "assistant", Content: "done"},
		}
		out, changed := repairDanglingToolUse(msgs)
		if changed {
			t.Error("clean history reported as changed")
		}
		if len(out) != 4 {
			t.Errorf("got %d messages, want 4", len(out))
		}
	})

	t.Run("tool_use at end of history dropped", func(t *testing.T) {
		msgs := []domain.TranscriptMessage{
			{Role: "user", Content: "hi"},
			assistantToolUse("tu_1"),
		}
		out, changed := repairDanglingToolUse(msgs)
		if !changed {
			t.Fatal("expected change")
		}
		if len(out) != 1 || out[0].Content != "hi" {
			t.Errorf("out = %+v", out)
		}
	})

	t.Run("tool_use followed by plain text dropped", func(t *testing.T) {
		msgs := []domain.TranscriptMessage{
			assistantToolUse("tu_1"),
			{Role: "user", Content: "never mind"},
		}
		out, changed := repairDanglingToolUse(msgs)
		if !changed {
			t.Fatal("expected change")
		}
		if len(out) != 1 || out[0].Content != "never mind" {
			t.Errorf("out = %+v", out)
		}
	})

	t.Run("partial results drop both messages", func(t *testing.T) {
		msgs := []domain.TranscriptMessage{
			{Role: "user", Content: "hi"},
			assistantToolUse("tu_1", "tu_2"),
			userToolResults("tu_1"),
			{Role: "assistant", Content: "tail"},
		}
		out, changed := repairDanglingToolUse(msgs)
		if !changed {
			t.Fatal("expected change")
		}
		if len(out) != 2 || out[1].Content != "tail" {
			t.Errorf("out = %+v", out)
		}
	})

	t.Run("assistant without tool_use kept", func(t *testing.T) {
		msgs := []domain.TranscriptMessage{
			{Role: "assistant", Blocks: []domain.ContentBlock{{Type: "text", Text: "hello"}}},
		}
		out, changed := repairDanglingToolUse(msgs)
		if changed || len(out) != 1 {
			t.Errorf("changed=%v out=%+v", changed, out)
		}
	})
}
