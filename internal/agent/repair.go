package agent

import "github.com/batalabs/qoze/internal/domain"

// repairDanglingToolUse drops assistant messages whose tool_use blocks have
// no matching tool_result in the immediately following user message, along
// with any partial tool_result message paired with them. Anthropic rejects
// histories where a tool_use is not answered in the very next message, which
// happens after a cancelled or crashed turn.
func repairDanglingToolUse(msgs []domain.TranscriptMessage) ([]domain.TranscriptMessage, bool) {
	out := make([]domain.TranscriptMessage, 0, len(msgs))
	changed := false

	for i := 0; i < len(msgs); i++ {
		cur := msgs[i]
		if cur.Role != "assistant" || !cur.HasBlocks() {
			out = append(out, cur)
			continue
		}

		useIDs := toolUseIDs(cur.Blocks)
		if len(useIDs) == 0 {
			out = append(out, cur)
			continue
		}

		if i+1 >= len(msgs) {
			changed = true
			continue
		}
		next := msgs[i+1]
		if next.Role != "user" || !next.HasBlocks() {
			changed = true
			continue
		}

		resultIDs, hasResults := toolResultIDs(next.Blocks)
		matched := true
		for _, id := range useIDs {
			if !resultIDs[id] {
				matched = false
				break
			}
		}
		if !matched {
			changed = true
			if hasResults {
				// The adjacent result message is partial; drop it too.
				i++
			}
			continue
		}

		out = append(out, cur)
	}

	return out, changed
}

func toolUseIDs(blocks []domain.ContentBlock) []string {
	var ids []string
	for _, b := range blocks {
		if b.Type == "tool_use" && b.ToolUseID != "" {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}

func toolResultIDs(blocks []domain.ContentBlock) (map[string]bool, bool) {
	ids := map[string]bool{}
	hasResults := false
	for _, b := range blocks {
		if b.Type == "tool_result" {
			hasResults = true
			if b.ToolUseID != "" {
				ids[b.ToolUseID] = true
			}
		}
	}
	return ids, hasResults
}
