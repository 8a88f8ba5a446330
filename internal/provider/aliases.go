package provider

import "strings"

// ModelAliases maps short Anthropic model names to full model IDs.
var ModelAliases = map[string]string{
	"claude-opus":   "claude-opus-4-6",
	"claude-sonnet": "claude-sonnet-4-5",
	"claude-haiku":  "claude-haiku-4-5",
	"opus":          "claude-opus-4-6",
	"sonnet":        "claude-sonnet-4-5",
	"haiku":         "claude-haiku-4-5",
}

// DefaultModels is the model used when a provider is selected without an
// explicit model ID.
var DefaultModels = map[string]string{
	"anthropic": "claude-sonnet-4-5",
	"openai":    "gpt-4o",
	"deepseek":  "deepseek-chat",
	"qwen":      "qwen-max",
	"zhipu":     "glm-4-plus",
}

// ResolveModel expands a short alias to a full Anthropic model ID. Unknown
// names pass through unchanged.
func ResolveModel(name string) string {
	if full, ok := ModelAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return full
	}
	return name
}
