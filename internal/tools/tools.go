package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/batalabs/qoze/internal/config"
	"github.com/batalabs/qoze/internal/provider"
)

// MCPManager is the interface for the MCP tool invocation layer.
// Defined here to avoid circular imports between tools and mcp packages.
type MCPManager interface {
	CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (string, bool)
}

// SkillBrief is a lightweight view of a skill for the tool layer.
type SkillBrief struct {
	Name        string
	Description string
	Active      bool
}

// SkillManager is the interface to the skill system. Defined here to avoid
// circular imports between tools and skills packages.
type SkillManager interface {
	Describe() []SkillBrief
	Activate(name string) (string, bool)
	Deactivate(name string) bool
}

// ToolContext provides shared state to tool implementations.
type ToolContext struct {
	Cwd            string
	Disabled       map[string]bool
	CommandTimeout int // seconds; 0 means default
	TavilyAPIKey   string
	Skills         SkillManager
	AskUser        func(question string) (string, error)
	MCP            MCPManager
}

// ToolFunc is the signature for tool execution functions.
type ToolFunc func(input map[string]any, ctx *ToolContext) (string, error)

// ToolDef binds a provider-agnostic tool specification to its implementation.
type ToolDef struct {
	Spec    provider.ToolSpec
	Execute ToolFunc
}

// Getwd is the function used to determine the current working directory.
// Override in tests to control the working directory.
var Getwd = os.Getwd

// AllTools returns the full list of tool definitions.
func AllTools() []ToolDef {
	return []ToolDef{
		fileReadTool(),
		fileWriteTool(),
		fileEditTool(),
		executeCommandTool(),
		grepTool(),
		listFilesTool(),
		askUserTool(),
		webSearchTool(),
		fetchURLTool(),
		browserOpenTool(),
		browserExtractTool(),
		listSkillsTool(),
		activateSkillTool(),
		deactivateSkillTool(),
	}
}

// AllToolSpecs returns the provider-agnostic tool specifications.
func AllToolSpecs() []provider.ToolSpec {
	tools := AllTools()
	specs := make([]provider.ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = t.Spec
	}
	return specs
}

// EnabledToolSpecs returns the specs of tools not present in disabled.
func EnabledToolSpecs(disabled map[string]bool) []provider.ToolSpec {
	var specs []provider.ToolSpec
	for _, t := range AllTools() {
		if disabled[t.Spec.Name] {
			continue
		}
		specs = append(specs, t.Spec)
	}
	return specs
}

// FindTool looks up a tool by name.
func FindTool(name string) (ToolDef, bool) {
	for _, t := range AllTools() {
		if t.Spec.Name == name {
			return t, true
		}
	}
	return ToolDef{}, false
}

// ToolNames returns all built-in tool names, sorted alphabetically.
func ToolNames() []string {
	all := AllTools()
	names := make([]string, 0, len(all))
	for _, t := range all {
		names = append(names, t.Spec.Name)
	}
	sort.Strings(names)
	return names
}

// ExecuteToolCall runs a named tool against the given input. MCP tools
// (mcp__server__tool) are routed through the MCP manager; everything else
// goes through the built-in registry. Disabled tools return an error the
// model can see and recover from.
func ExecuteToolCall(ctx context.Context, name string, input map[string]any, tctx *ToolContext) (string, error) {
	if tctx != nil && tctx.Disabled[name] {
		return "", fmt.Errorf("tool %s is disabled", name)
	}

	if server, tool, ok := SplitMCPName(name); ok {
		if tctx == nil || tctx.MCP == nil {
			return "", fmt.Errorf("MCP tool %s called but no MCP servers are connected", name)
		}
		result, found := tctx.MCP.CallTool(ctx, server, tool, input)
		if !found {
			return "", fmt.Errorf("MCP tool %s not found", name)
		}
		return result, nil
	}

	def, ok := FindTool(name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return def.Execute(input, tctx)
}

// SplitMCPName parses an mcp__server__tool name into its parts.
func SplitMCPName(name string) (server, tool string, ok bool) {
	if !strings.HasPrefix(name, "mcp__") {
		return "", "", false
	}
	rest := strings.TrimPrefix(name, "mcp__")
	parts := strings.SplitN(rest, "__", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ToolRiskTags returns a small set of risk tags for UI display.
func ToolRiskTags(name string) []string {
	if strings.HasPrefix(name, "mcp__") {
		return []string{"mcp"}
	}
	switch name {
	case "execute_command":
		return []string{"shell", "write"}
	case "file_write", "file_edit":
		return []string{"write"}
	case "web_search", "fetch_url", "browser_open", "browser_extract":
		return []string{"network"}
	default:
		return nil
	}
}

// IsDeniedConfigFile checks if a path resolves to a config file that contains
// secrets (config.json) and should not be readable by the agent.
func IsDeniedConfigFile(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absPath = filepath.Clean(absPath)

	configPath := config.ConfigFilePath()
	if configPath != "" && absPath == filepath.Clean(configPath) {
		return true
	}

	cwd, _ := Getwd()
	return absPath == filepath.Clean(filepath.Join(cwd, "config.json"))
}

// IsBinary reports whether data looks like binary content.
func IsBinary(data []byte) bool {
	check := data
	if len(check) > 512 {
		check = check[:512]
	}
	for _, b := range check {
		if b == 0 {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// ask_user
// ---------------------------------------------------------------------------

func askUserTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "ask_user",
			Description: "Ask the user a question and wait for their response. Use when you need clarification, a decision, or confirmation before proceeding. The agent loop will pause until the user replies.",
			Properties: map[string]provider.ToolProp{
				"question": {Type: "string", Description: "The question to ask the user"},
			},
			Required: []string{"question"},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			question, ok := input["question"].(string)
			if !ok || question == "" {
				return "", fmt.Errorf("question is required")
			}
			if ctx == nil || ctx.AskUser == nil {
				return "", fmt.Errorf("ask_user is not available in this session")
			}
			return ctx.AskUser(question)
		},
	}
}

// truncate returns s trimmed to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
