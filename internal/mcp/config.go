package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/batalabs/qoze/internal/config"
)

// Config holds MCP server configuration loaded from mcp.json files.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	Type    string            `json:"type"`              // "stdio", "http", or "sse"
	Command string            `json:"command,omitempty"` // stdio: executable
	Args    []string          `json:"args,omitempty"`    // stdio: arguments
	Env     map[string]string `json:"env,omitempty"`     // stdio: env vars
	URL     string            `json:"url,omitempty"`     // http/sse: server URL
}

// userConfigPath locates the user-scope mcp.json. Override in tests.
var userConfigPath = func() string {
	return filepath.Join(config.ConfigDir(), "mcp.json")
}

// LoadConfig loads and merges MCP configuration. Project scope (.mcp.json
// in cwd) overrides user scope (~/.config/qoze/mcp.json).
func LoadConfig(cwd string) (Config, error) {
	merged := Config{MCPServers: map[string]ServerConfig{}}

	if cfg, err := loadConfigFile(userConfigPath()); err == nil {
		for name, sc := range cfg.MCPServers {
			merged.MCPServers[name] = sc
		}
	}

	if cwd != "" {
		projectPath := filepath.Join(cwd, ".mcp.json")
		if cfg, err := loadConfigFile(projectPath); err == nil {
			for name, sc := range cfg.MCPServers {
				merged.MCPServers[name] = sc
			}
		}
	}

	for name, sc := range merged.MCPServers {
		sc.Command = expandEnvVars(sc.Command)
		sc.URL = expandEnvVars(sc.URL)
		for i, arg := range sc.Args {
			sc.Args[i] = expandEnvVars(arg)
		}
		for k, v := range sc.Env {
			sc.Env[k] = expandEnvVars(v)
		}
		if err := validateServerConfig(name, sc); err != nil {
			return Config{}, err
		}
		merged.MCPServers[name] = sc
	}

	return merged, nil
}

func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]ServerConfig{}
	}
	return cfg, nil
}

func validateServerConfig(name string, sc ServerConfig) error {
	switch sc.Type {
	case "stdio", "":
		if sc.Command == "" {
			return fmt.Errorf("MCP server %q: stdio type requires 'command'", name)
		}
	case "http", "sse":
		if sc.URL == "" {
			return fmt.Errorf("MCP server %q: %s type requires 'url'", name, sc.Type)
		}
	default:
		return fmt.Errorf("MCP server %q: unknown type %q (expected 'stdio', 'http', or 'sse')", name, sc.Type)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// lookupEnvFunc returns (value, exists) for an environment variable.
// Override in tests to control the environment.
var lookupEnvFunc = os.LookupEnv

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		val, exists := lookupEnvFunc(groups[1])
		if exists {
			return val
		}
		if len(groups) >= 3 {
			return strings.TrimSpace(groups[2])
		}
		return ""
	})
}
