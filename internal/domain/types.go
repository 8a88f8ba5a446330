package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentBlock represents a structured content block in a message.
type ContentBlock struct {
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	ToolUseID  string         `json:"tool_use_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolResult string         `json:"tool_result,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
}

// TranscriptMessage is a message with a role and content blocks.
// Reasoning carries provider "thinking" text attached to a final assistant
// entry; it is displayed dimmed and never sent back to the model.
type TranscriptMessage struct {
	Role      string
	Content   string
	Reasoning string
	Blocks    []ContentBlock
}

// HasBlocks reports whether the message has structured content blocks.
func (m TranscriptMessage) HasBlocks() bool {
	return len(m.Blocks) > 0
}

// TextContent extracts the plain text content from a message.
func (m TranscriptMessage) TextContent() string {
	if !m.HasBlocks() {
		return m.Content
	}
	var parts []string
	for _, b := range m.Blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Conversation is the user-visible transcript for one session: an ordered,
// append-only list of entries plus a counter of model calls that produced
// content. During a streamed turn only the entry being built changes; prior
// entries are never mutated.
type Conversation struct {
	Messages []TranscriptMessage
	LLMCalls int
}

// Append adds one entry to the transcript.
func (c *Conversation) Append(m TranscriptMessage) {
	c.Messages = append(c.Messages, m)
}

// Session holds metadata about a conversation session.
type Session struct {
	ID           string    `json:"id"`
	ProjectPath  string    `json:"project_path"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewID returns a random UUID string for sessions and messages.
func NewID() string {
	return uuid.NewString()
}

// APIModelInfo holds information about an available model from a provider API.
type APIModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}
