package provider

import (
	"fmt"
	"strings"

	"github.com/batalabs/qoze/internal/domain"
)

// ---------------------------------------------------------------------------
// Provider-agnostic tool types
// ---------------------------------------------------------------------------

// ToolSpec is a provider-agnostic tool definition. Each provider converts
// these to its own wire format.
type ToolSpec struct {
	Name        string
	Description string
	Properties  map[string]ToolProp
	Required    []string
}

// ToolProp describes a single tool input property.
type ToolProp struct {
	Type        string
	Description string
	Enum        []string
	// Items describes the element schema when Type is "array".
	Items *ToolProp
	// Properties describes nested object properties.
	Properties map[string]ToolProp
	// Required lists required fields when this prop describes an object.
	Required []string
}

// Usage contains token accounting for a streamed model call.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
}

// ---------------------------------------------------------------------------
// Provider interface
// ---------------------------------------------------------------------------

// StreamCallbacks receives incremental output while a response streams.
// Either callback may be nil. onReasoning carries thinking text, which some
// backends deliver as typed blocks and others as a side-channel delta field.
type StreamCallbacks struct {
	OnDelta     func(string)
	OnReasoning func(string)
}

// Provider is the interface that each LLM backend implements.
type Provider interface {
	// StreamMessage sends one request with streaming enabled.
	// Returns content blocks, stop reason, token usage, error.
	StreamMessage(
		apiKey, modelID string,
		history []domain.TranscriptMessage,
		tools []ToolSpec,
		system string,
		cb StreamCallbacks,
	) ([]domain.ContentBlock, string, Usage, error)

	// FetchModels retrieves the list of available models.
	FetchModels(apiKey string) ([]domain.APIModelInfo, error)

	// Name returns the provider name (e.g. "anthropic", "deepseek").
	Name() string
}

// ---------------------------------------------------------------------------
// Provider registry
// ---------------------------------------------------------------------------

// openaiCompatBackends maps provider names to their chat-completions
// endpoints. All of these speak the OpenAI wire protocol, with reasoning
// text arriving in the delta's reasoning_content field.
var openaiCompatBackends = map[string]string{
	"openai":   "https://api.openai.com/v1/chat/completions",
	"deepseek": "https://api.deepseek.com/chat/completions",
	"qwen":     "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions",
	"zhipu":    "https://open.bigmodel.cn/api/paas/v4/chat/completions",
}

// GetProvider returns a Provider implementation by name.
func GetProvider(name string) (Provider, error) {
	key := strings.ToLower(name)
	switch key {
	case "":
		return nil, fmt.Errorf("no provider specified; use --model <provider>/<model>")
	case "anthropic":
		return &AnthropicProvider{}, nil
	}
	if url, ok := openaiCompatBackends[key]; ok {
		return &OpenAICompatProvider{ProviderName: key, BaseURL: url}, nil
	}
	return nil, fmt.Errorf("unknown provider: %s (supported: anthropic, openai, deepseek, qwen, zhipu)", name)
}

// ---------------------------------------------------------------------------
// Model resolution
// ---------------------------------------------------------------------------

// ResolveProviderAndModel parses a model specifier like "deepseek/deepseek-chat"
// or "claude-sonnet" into a (provider, modelID) pair.
//
// Rules:
//   - "openai/gpt-4o" -> ("openai", "gpt-4o")
//   - "claude-sonnet" -> ("anthropic", resolved alias)
//   - "deepseek-reasoner" -> ("deepseek", "deepseek-reasoner")
//   - unknown bare name -> (currentProvider, name)
func ResolveProviderAndModel(spec string, currentProvider string) (string, string) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return currentProvider, ""
	}

	if idx := strings.Index(spec, "/"); idx > 0 {
		prefix := strings.ToLower(spec[:idx])
		model := spec[idx+1:]
		switch prefix {
		case "anthropic":
			return "anthropic", ResolveModel(model)
		case "zhipu", "zai", "glm":
			return "zhipu", model
		case "qwen", "dashscope", "alibaba":
			return "qwen", model
		case "openai", "deepseek":
			return prefix, model
		}
		// Unknown prefix, treat the whole spec as a model name.
	}

	lower := strings.ToLower(spec)

	if _, ok := ModelAliases[lower]; ok {
		return "anthropic", ResolveModel(spec)
	}
	if strings.HasPrefix(lower, "claude-") {
		return "anthropic", ResolveModel(spec)
	}
	if strings.HasPrefix(lower, "gpt-") || strings.HasPrefix(lower, "o1") ||
		strings.HasPrefix(lower, "o3") || strings.HasPrefix(lower, "o4") {
		return "openai", spec
	}
	if strings.HasPrefix(lower, "deepseek-") {
		return "deepseek", spec
	}
	if strings.HasPrefix(lower, "qwen") {
		return "qwen", spec
	}
	if strings.HasPrefix(lower, "glm-") {
		return "zhipu", spec
	}

	return currentProvider, spec
}
