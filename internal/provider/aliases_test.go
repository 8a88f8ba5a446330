package provider

import "testing"

func TestResolveModel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sonnet", "claude-sonnet-4-5"},
		{"Claude-Opus", "claude-opus-4-6"},
		{" haiku ", "claude-haiku-4-5"},
		{"claude-3-7-sonnet-latest", "claude-3-7-sonnet-latest"},
		{"gpt-4o", "gpt-4o"},
	}
	for _, tt := range tests {
		if got := ResolveModel(tt.in); got != tt.want {
			t.Errorf("ResolveModel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDefaultModels(t *testing.T) {
	for _, prov := range []string{"anthropic", "openai", "deepseek", "qwen", "zhipu"} {
		if DefaultModels[prov] == "" {
			t.Errorf("no default model for %s", prov)
		}
	}
}
