package provider

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/batalabs/qoze/internal/domain"
)

// streamHTTPClient is shared across all streaming API calls. A single shared
// Transport reuses connections and avoids ephemeral port exhaustion.
// DisableCompression prevents gzip-over-chunked encoding failures on SSE.
var streamHTTPClient = &http.Client{
	Transport: &http.Transport{
		TLSHandshakeTimeout:   30 * time.Second,
		ResponseHeaderTimeout: 2 * time.Minute,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   4,
	},
}

// CloseIdleConnections drops all idle connections from the shared HTTP
// transport. Call before retrying after a stream error so the next attempt
// gets a fresh TCP/TLS connection instead of reusing a stale pooled one.
func CloseIdleConnections() {
	streamHTTPClient.CloseIdleConnections()
}

// AnthropicMessagesURL is the default Anthropic Messages API endpoint.
const AnthropicMessagesURL = "https://api.anthropic.com/v1/messages"

// ---------------------------------------------------------------------------
// AnthropicProvider
// ---------------------------------------------------------------------------

// AnthropicProvider implements Provider for the Anthropic Messages API.
// Override BaseURL in tests to point at a local httptest server.
type AnthropicProvider struct {
	BaseURL string
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// FetchModels retrieves the list of available models from the Anthropic API.
func (p *AnthropicProvider) FetchModels(apiKey string) ([]domain.APIModelInfo, error) {
	httpReq, err := http.NewRequest(http.MethodGet, "https://api.anthropic.com/v1/models?limit=100", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		errMsg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var errResp struct {
			Error *struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != nil {
			errMsg = fmt.Sprintf("%s: %s", errResp.Error.Type, errResp.Error.Message)
		}
		return nil, fmt.Errorf("%s", errMsg)
	}

	var listResp struct {
		Data []domain.APIModelInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return listResp.Data, nil
}

// StreamMessage sends a message to the Anthropic API with streaming.
func (p *AnthropicProvider) StreamMessage(
	apiKey, modelID string,
	history []domain.TranscriptMessage,
	tools []ToolSpec,
	system string,
	cb StreamCallbacks,
) ([]domain.ContentBlock, string, Usage, error) {
	url := p.BaseURL
	if url == "" {
		url = AnthropicMessagesURL
	}
	return anthropicStreamWithURL(url, apiKey, modelID, history, tools, system, cb)
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func newTextMessage(role, text string) anthropicMessage {
	raw, _ := json.Marshal(text)
	return anthropicMessage{Role: role, Content: raw}
}

func newBlockMessage(role string, blocks []anthropicContentBlock) anthropicMessage {
	raw, _ := json.Marshal(blocks)
	return anthropicMessage{Role: role, Content: raw}
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     *map[string]any `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   *string         `json:"content,omitempty"`
	IsError   *bool           `json:"is_error,omitempty"`
}

// anthropicCacheControl marks a block for ephemeral prompt caching.
type anthropicCacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

// anthropicSystemBlock is a content block in the system message array.
// Using an array (instead of a plain string) enables cache_control.
type anthropicSystemBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicToolItem struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	InputSchema  *anthropicToolSchema   `json:"input_schema,omitempty"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicToolSchema struct {
	Type       string                       `json:"type"`
	Properties map[string]anthropicToolProp `json:"properties"`
	Required   []string                     `json:"required"`
}

type anthropicToolProp struct {
	Type        string                       `json:"type"`
	Description string                       `json:"description,omitempty"`
	Enum        []string                     `json:"enum,omitempty"`
	Items       *anthropicToolProp           `json:"items,omitempty"`
	Properties  map[string]anthropicToolProp `json:"properties,omitempty"`
	Required    []string                     `json:"required,omitempty"`
}

type anthropicRequest struct {
	Model     string                 `json:"model"`
	MaxTokens int                    `json:"max_tokens"`
	Messages  []anthropicMessage     `json:"messages"`
	Stream    bool                   `json:"stream"`
	Tools     []anthropicToolItem    `json:"tools,omitempty"`
	System    []anthropicSystemBlock `json:"system,omitempty"`
}

// ---------------------------------------------------------------------------
// SSE event types
// ---------------------------------------------------------------------------

type sseEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
	Message *struct {
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			OutputTokens             int `json:"output_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	// Error is populated for SSE error events sent mid-stream.
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// streamBlock tracks an in-flight content block during SSE streaming.
type streamBlock struct {
	blockType string
	toolID    string
	toolName  string
	textBuf   strings.Builder
	jsonBuf   strings.Builder
}

// ---------------------------------------------------------------------------
// Tool conversion
// ---------------------------------------------------------------------------

func convertAnthropicProp(v ToolProp) anthropicToolProp {
	p := anthropicToolProp{
		Type:        v.Type,
		Description: v.Description,
		Enum:        v.Enum,
	}
	if v.Items != nil {
		converted := convertAnthropicProp(*v.Items)
		p.Items = &converted
	}
	if len(v.Properties) > 0 {
		p.Properties = make(map[string]anthropicToolProp, len(v.Properties))
		for k, nested := range v.Properties {
			p.Properties[k] = convertAnthropicProp(nested)
		}
	}
	if len(v.Required) > 0 {
		p.Required = v.Required
	}
	return p
}

// toAnthropicTools converts provider-agnostic ToolSpecs to Anthropic wire
// format, marking the last tool with cache_control so the whole tool list is
// cached as a prompt prefix.
func toAnthropicTools(specs []ToolSpec) []anthropicToolItem {
	if len(specs) == 0 {
		return nil
	}
	items := make([]anthropicToolItem, 0, len(specs))
	for _, s := range specs {
		props := make(map[string]anthropicToolProp, len(s.Properties))
		for k, v := range s.Properties {
			props[k] = convertAnthropicProp(v)
		}
		req := s.Required
		if req == nil {
			req = []string{}
		}
		items = append(items, anthropicToolItem{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: &anthropicToolSchema{
				Type:       "object",
				Properties: props,
				Required:   req,
			},
		})
	}
	items[len(items)-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
	return items
}

// ---------------------------------------------------------------------------
// Streaming implementation
// ---------------------------------------------------------------------------

func anthropicStreamWithURL(
	apiURL string,
	apiKey, modelID string,
	history []domain.TranscriptMessage,
	tools []ToolSpec,
	system string,
	cb StreamCallbacks,
) ([]domain.ContentBlock, string, Usage, error) {
	msgs := buildAnthropicMessages(history)

	var systemBlocks []anthropicSystemBlock
	if system != "" {
		systemBlocks = []anthropicSystemBlock{
			{
				Type:         "text",
				Text:         system,
				CacheControl: &anthropicCacheControl{Type: "ephemeral"},
			},
		}
	}

	reqBody := anthropicRequest{
		Model:     modelID,
		MaxTokens: 16384,
		Messages:  msgs,
		Stream:    true,
		Tools:     toAnthropicTools(tools),
		System:    systemBlocks,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, "", Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, "", Usage{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("anthropic-beta", "prompt-caching-2024-07-31")

	// Prevent proxies from injecting compression on the SSE stream.
	httpReq.Header.Set("Accept-Encoding", "identity")

	resp, err := streamHTTPClient.Do(httpReq)
	if err != nil {
		return nil, "", Usage{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		errType := ""
		errMessage := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var errResp struct {
			Error *struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != nil {
			errType = errResp.Error.Type
			errMessage = errResp.Error.Message
		}
		return nil, "", Usage{}, NewAPIError(resp.StatusCode, errType, errMessage, resp.Header)
	}

	return parseAnthropicSSE(&lenientReader{r: resp.Body}, cb)
}

// lenientReader wraps an io.Reader and absorbs transport-level errors
// (chunked encoding issues from TLS-intercepting proxies, connection resets)
// by converting them to io.EOF. This ensures the SSE parser processes all
// data that was successfully received before the error occurred.
type lenientReader struct {
	r   io.Reader
	err error // saved transport error, nil if clean
}

func (lr *lenientReader) Read(p []byte) (int, error) {
	n, err := lr.r.Read(p)
	if err != nil && err != io.EOF {
		lr.err = err
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	return n, err
}

// ---------------------------------------------------------------------------
// Message conversion
// ---------------------------------------------------------------------------

// buildAnthropicMessages converts transcript messages to Anthropic API format.
func buildAnthropicMessages(history []domain.TranscriptMessage) []anthropicMessage {
	msgs := make([]anthropicMessage, 0, len(history))
	for _, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if m.HasBlocks() {
			apiBlocks := make([]anthropicContentBlock, 0, len(m.Blocks))
			for _, b := range m.Blocks {
				switch b.Type {
				case "text":
					apiBlocks = append(apiBlocks, anthropicContentBlock{Type: "text", Text: b.Text})
				case "tool_use":
					input := b.ToolInput
					if input == nil {
						input = map[string]any{}
					}
					apiBlocks = append(apiBlocks, anthropicContentBlock{
						Type:  "tool_use",
						ID:    b.ToolUseID,
						Name:  b.ToolName,
						Input: &input,
					})
				case "tool_result":
					content := b.ToolResult
					// Truncate old tool results to reduce context size.
					const maxToolResult = 10000
					if len(content) > maxToolResult {
						content = content[:maxToolResult] + "\n... (truncated for context)"
					}
					block := anthropicContentBlock{
						Type:      "tool_result",
						ToolUseID: b.ToolUseID,
						Content:   &content,
					}
					if b.IsError {
						isErr := true
						block.IsError = &isErr
					}
					apiBlocks = append(apiBlocks, block)
				}
			}
			msgs = append(msgs, newBlockMessage(m.Role, apiBlocks))
		} else {
			msgs = append(msgs, newTextMessage(m.Role, m.Content))
		}
	}
	return msgs
}

// ---------------------------------------------------------------------------
// SSE parsing
// ---------------------------------------------------------------------------

// parseAnthropicSSE parses the Anthropic SSE stream into content blocks.
// Thinking blocks stream via cb.OnReasoning and are kept as "thinking"
// content blocks; text streams via cb.OnDelta. The body should be a
// *lenientReader so transport errors are absorbed and buffered data is
// still processed.
func parseAnthropicSSE(body io.Reader, cb StreamCallbacks) ([]domain.ContentBlock, string, Usage, error) {
	var blocks []streamBlock
	usage := Usage{}
	stopReason := ""

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line size
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event sseEvent
		if json.Unmarshal([]byte(data), &event) != nil {
			continue
		}

		switch event.Type {
		case "error":
			// Mid-stream error from the API (e.g., overloaded_error).
			errType := ""
			errMsg := "unknown API error"
			if event.Error != nil {
				errType = event.Error.Type
				errMsg = event.Error.Message
			}
			return assembleBlocks(blocks), stopReason, usage,
				&APIError{StatusCode: 0, ErrorType: errType, Message: errMsg}

		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
				usage.CacheCreationInputTokens = event.Message.Usage.CacheCreationInputTokens
				usage.CacheReadInputTokens = event.Message.Usage.CacheReadInputTokens
			}

		case "content_block_start":
			sb := streamBlock{}
			if event.ContentBlock != nil {
				sb.blockType = event.ContentBlock.Type
				sb.toolID = event.ContentBlock.ID
				sb.toolName = event.ContentBlock.Name
			}
			for len(blocks) <= event.Index {
				blocks = append(blocks, streamBlock{})
			}
			blocks[event.Index] = sb

		case "content_block_delta":
			if event.Index < len(blocks) {
				switch event.Delta.Type {
				case "text_delta":
					blocks[event.Index].textBuf.WriteString(event.Delta.Text)
					if cb.OnDelta != nil {
						cb.OnDelta(event.Delta.Text)
					}
				case "thinking_delta":
					blocks[event.Index].textBuf.WriteString(event.Delta.Thinking)
					if cb.OnReasoning != nil {
						cb.OnReasoning(event.Delta.Thinking)
					}
				case "input_json_delta":
					blocks[event.Index].jsonBuf.WriteString(event.Delta.PartialJSON)
				}
			}

		case "message_delta":
			if event.Usage.OutputTokens > 0 {
				usage.OutputTokens = event.Usage.OutputTokens
			}
			if event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
		}
	}

	// Check for transport errors saved by lenientReader. If the API already
	// sent a stop_reason, the response is complete and the error is ignored.
	var transportErr error
	if lr, ok := body.(*lenientReader); ok {
		transportErr = lr.err
	}
	if scanErr := scanner.Err(); scanErr != nil {
		transportErr = scanErr
	}

	if transportErr != nil && stopReason == "" {
		// A text-only response is salvaged as a normal end_turn. Tool-use
		// turns still fail, because partial input JSON is unsafe to execute.
		assembled := assembleBlocks(blocks)
		if len(assembled) > 0 && !hasToolUseBlock(assembled) {
			return assembled, "end_turn", usage, nil
		}
		return nil, "", usage, fmt.Errorf("reading stream: %w", transportErr)
	}

	return assembleBlocks(blocks), stopReason, usage, nil
}

func hasToolUseBlock(blocks []domain.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == "tool_use" {
			return true
		}
	}
	return false
}

// assembleBlocks converts streamBlocks into domain.ContentBlocks.
func assembleBlocks(blocks []streamBlock) []domain.ContentBlock {
	var contentBlocks []domain.ContentBlock
	for _, sb := range blocks {
		switch sb.blockType {
		case "text":
			contentBlocks = append(contentBlocks, domain.ContentBlock{
				Type: "text",
				Text: sb.textBuf.String(),
			})
		case "thinking":
			contentBlocks = append(contentBlocks, domain.ContentBlock{
				Type: "thinking",
				Text: sb.textBuf.String(),
			})
		case "tool_use":
			input := map[string]any{}
			if jsonStr := sb.jsonBuf.String(); jsonStr != "" {
				if err := json.Unmarshal([]byte(jsonStr), &input); err != nil {
					fmt.Fprintf(os.Stderr, "anthropic: unmarshal tool input: %v\n", err)
				}
			}
			contentBlocks = append(contentBlocks, domain.ContentBlock{
				Type:      "tool_use",
				ToolUseID: sb.toolID,
				ToolName:  sb.toolName,
				ToolInput: input,
			})
		}
	}
	return contentBlocks
}
