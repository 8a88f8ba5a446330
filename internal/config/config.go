package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// ProviderEnvVars maps provider names to their environment variable names.
var ProviderEnvVars = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
	"qwen":      "DASHSCOPE_API_KEY",
	"zhipu":     "ZHIPU_API_KEY",
}

// KnownProviders lists valid provider names for validation.
var KnownProviders = []string{"anthropic", "openai", "deepseek", "qwen", "zhipu"}

// configDirOverride is set by tests to redirect ConfigDir.
var configDirOverride string

// ConfigDir returns the config directory for qoze.
func ConfigDir() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "qoze")
}

// DataDir returns ~/.local/share/qoze, creating it if needed.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local", "share", "qoze")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// LoadDotEnv loads .env from the working directory and ~/.config/qoze/.env
// into the process environment. Existing variables are never overridden, so
// the shell always wins. Missing files are fine.
func LoadDotEnv() {
	_ = godotenv.Load()
	if dir := ConfigDir(); dir != "" {
		_ = godotenv.Load(filepath.Join(dir, ".env"))
	}
}

// LoadProviderAPIKey resolves an API key for the given provider using:
//  1. Environment variable (e.g. ANTHROPIC_API_KEY, DEEPSEEK_API_KEY)
//  2. Preferences (e.g. anthropic_api_key set via /config)
func LoadProviderAPIKey(prefs Preferences, providerName string) (string, error) {
	if envVar, ok := ProviderEnvVars[providerName]; ok {
		if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
			return key, nil
		}
	}

	if key := strings.TrimSpace(prefs.ProviderKey(providerName)); key != "" {
		return key, nil
	}

	return "", fmt.Errorf("no API key found for %s: set %s or use /config set %s.api_key <key>",
		providerName, ProviderEnvVars[providerName], providerName)
}

// ResolveAPIKeySource returns the source of the API key for display purposes.
// Returns "env", "config", or "" if not found.
func ResolveAPIKeySource(prefs Preferences, providerName string) string {
	if envVar, ok := ProviderEnvVars[providerName]; ok {
		if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
			return "env"
		}
	}
	if prefs.ProviderKey(providerName) != "" {
		return "config"
	}
	return ""
}

// LoadTavilyAPIKey resolves the web_search key: TAVILY_API_KEY first, then
// preferences.
func LoadTavilyAPIKey(prefs Preferences) string {
	if key := strings.TrimSpace(os.Getenv("TAVILY_API_KEY")); key != "" {
		return key
	}
	return strings.TrimSpace(prefs.TavilyAPIKey)
}
