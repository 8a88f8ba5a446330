// Package stream implements the streaming response reconciliation core shared
// by the TUI and the plain CLI front end: it consumes the tagged event stream
// produced by the agent engine, accumulates reasoning and answer text, tracks
// in-flight tool calls, and drives throttled redraws of a display sink.
package stream

// EventKind distinguishes the top-level variants of the producer's event union.
type EventKind int

const (
	// KindAssistantDelta is an incremental fragment of assistant output. It
	// may carry plain text, typed content blocks, reasoning metadata, a
	// tool-call list, a finish reason, or any mix of those.
	KindAssistantDelta EventKind = iota
	// KindToolResult is the output of one tool invocation.
	KindToolResult
	// KindError signals that the producer failed while iterating. The stream
	// ends after this event.
	KindError
)

// Block is one typed content fragment inside an assistant delta. Vendors
// disagree on where reasoning lives: Anthropic sends "thinking" blocks,
// some OpenAI-compatible backends nest it under "reasoning_content".
type Block struct {
	Type      string // "text", "thinking", "reasoning_content"
	Text      string
	Thinking  string
	Reasoning ReasoningContent
}

// ReasoningContent is the nested payload of a "reasoning_content" block.
type ReasoningContent struct {
	Text string
}

// ToolCall is a model-declared intent to invoke a named tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Event is the tagged union consumed from the agent engine, one per channel
// receive. Producers fill only the fields that apply to the Kind; every field
// may legitimately be zero.
type Event struct {
	Kind EventKind

	// Assistant delta payload. Text and Blocks are alternatives: vendors
	// deliver either a plain string or a block list, never both.
	Text   string
	Blocks []Block
	// Extra mirrors the provider's additional-metadata mapping; the key
	// "reasoning_content" carries DeepSeek-style reasoning deltas.
	Extra map[string]string
	// ToolCalls announces tool invocations accumulated for this API call.
	ToolCalls []ToolCall
	// FinishReason is set when the provider reports why one message ended.
	FinishReason string

	// Tool result payload (KindToolResult). The result content travels in
	// Text; errors are signalled in-band by a sentinel prefix, not here.
	ToolCallID string
	ToolName   string

	// Err is the producer failure (KindError).
	Err error
}

// Classification is the set of labels extracted from one event. A single
// event may populate several fields at once: some vendors interleave
// reasoning and answer blocks in the same chunk, and the driver must apply
// both rather than branch on one.
type Classification struct {
	Reasoning  string
	Text       string
	Announce   []ToolCall
	ToolResult *ToolResultPayload
	EndOfTurn  bool
	Err        error
}

// ToolResultPayload is the extracted content of a tool-result event.
type ToolResultPayload struct {
	CallID  string
	Name    string
	Content string
}

// Classify inspects one raw event and extracts every label it carries. Pure:
// it never mutates shared state, and malformed or empty events come back as
// an all-zero Classification the driver can safely ignore.
func Classify(ev Event) Classification {
	var c Classification

	switch ev.Kind {
	case KindToolResult:
		c.ToolResult = &ToolResultPayload{
			CallID:  ev.ToolCallID,
			Name:    ev.ToolName,
			Content: ev.Text,
		}
		return c
	case KindError:
		c.Err = ev.Err
		return c
	}

	if r := ev.Extra["reasoning_content"]; r != "" {
		c.Reasoning += r
	}

	if len(ev.Blocks) > 0 {
		for _, b := range ev.Blocks {
			switch b.Type {
			case "thinking":
				c.Reasoning += b.Thinking
			case "reasoning_content":
				c.Reasoning += b.Reasoning.Text
			case "text":
				c.Text += b.Text
			}
		}
	} else {
		// Plain-string content. A nil/absent content field classifies as
		// empty text rather than failing downstream concatenation.
		c.Text += ev.Text
	}

	c.Announce = ev.ToolCalls

	if ev.FinishReason != "" {
		c.EndOfTurn = true
	}

	return c
}
