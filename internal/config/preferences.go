package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Preferences holds user-configurable display and behavior settings.
// Persisted to ~/.config/qoze/config.json.
type Preferences struct {
	FooterModel   bool   `json:"footer_model"`
	FooterTokens  bool   `json:"footer_tokens"`
	FooterCwd     bool   `json:"footer_cwd"`
	FooterSession bool   `json:"footer_session"`
	Model         string `json:"model"`

	// Provider and API keys
	Provider        string `json:"provider,omitempty"`
	AnthropicAPIKey string `json:"anthropic_api_key,omitempty"`
	OpenAIAPIKey    string `json:"openai_api_key,omitempty"`
	DeepSeekAPIKey  string `json:"deepseek_api_key,omitempty"`
	QwenAPIKey      string `json:"qwen_api_key,omitempty"`
	ZhipuAPIKey     string `json:"zhipu_api_key,omitempty"`
	TavilyAPIKey    string `json:"tavily_api_key,omitempty"`

	// Tool behavior
	ToolsDisabled  string `json:"tools_disabled,omitempty"`
	CommandTimeout int    `json:"command_timeout,omitempty"` // seconds, 0 = default

	// Skills
	SkillsDisabled bool `json:"skills_disabled,omitempty"`
}

// PrefEntry holds a single key-value preference entry for display.
type PrefEntry struct {
	Key   string
	Value string
}

// ConfigGroup holds a named group of preference entries for display.
type ConfigGroup struct {
	Name    string
	Entries []PrefEntry
}

// ConfigGroupDef defines a single group with a name and its keys.
type ConfigGroupDef struct {
	Name string
	Keys []string
}

// ConfigGroupDefs defines the preference key groupings and their display order.
var ConfigGroupDefs = []ConfigGroupDef{
	{
		Name: "models",
		Keys: []string{"model", "anthropic.api_key", "openai.api_key", "deepseek.api_key", "qwen.api_key", "zhipu.api_key"},
	},
	{
		Name: "tools",
		Keys: []string{"tavily.api_key", "tools.disabled", "command.timeout"},
	},
	{
		Name: "skills",
		Keys: []string{"skills.disabled"},
	},
	{
		Name: "theme",
		Keys: []string{"footer.model", "footer.tokens", "footer.cwd", "footer.session"},
	},
}

// ConfigGroupNames returns the list of valid group names.
func ConfigGroupNames() []string {
	names := make([]string, len(ConfigGroupDefs))
	for i, g := range ConfigGroupDefs {
		names[i] = g.Name
	}
	return names
}

// ValidConfigKeys returns all config keys accepted by Set().
func ValidConfigKeys() []string {
	var keys []string
	for _, g := range ConfigGroupDefs {
		keys = append(keys, g.Keys...)
	}
	return keys
}

// DefaultPreferences returns the default set of preferences.
func DefaultPreferences() Preferences {
	return Preferences{
		FooterModel:   true,
		FooterTokens:  true,
		FooterCwd:     true,
		FooterSession: true,
	}
}

// LoadPreferences reads preferences from ~/.config/qoze/config.json.
func LoadPreferences() Preferences {
	dir := ConfigDir()
	if dir == "" {
		return DefaultPreferences()
	}

	configPath := filepath.Join(dir, "config.json")
	p := DefaultPreferences()

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, &p); err != nil {
			fmt.Fprintf(os.Stderr, "config: parse %s: %v\n", configPath, err)
		}
		warnInsecurePermissions(configPath)
	}

	if sanitizePreferences(&p) {
		// Persist cleaned values so control characters don't accumulate
		// across restarts.
		if err := SavePreferences(p); err != nil {
			fmt.Fprintf(os.Stderr, "config: save sanitized config: %v\n", err)
		}
	}

	return p
}

// SavePreferences writes preferences to ~/.config/qoze/config.json.
func SavePreferences(p Preferences) error {
	dir := ConfigDir()
	if dir == "" {
		return fmt.Errorf("could not determine config directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0o600)
}

// warnInsecurePermissions prints a warning to stderr if the config file is
// readable by group or others. On Windows, file permission bits don't map
// to ACLs, so the check is skipped.
func warnInsecurePermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		fmt.Fprintf(os.Stderr, "WARNING: %s is readable by others (mode %o). Run: chmod 600 %s\n",
			path, info.Mode().Perm(), path)
	}
}

// ProviderKey returns the stored API key for a provider, "" if unset.
func (p Preferences) ProviderKey(providerName string) string {
	switch providerName {
	case "anthropic":
		return p.AnthropicAPIKey
	case "openai":
		return p.OpenAIAPIKey
	case "deepseek":
		return p.DeepSeekAPIKey
	case "qwen":
		return p.QwenAPIKey
	case "zhipu":
		return p.ZhipuAPIKey
	default:
		return ""
	}
}

// Grouped returns all preferences organized into named groups.
// Values are display-ready: API keys are masked, empty values annotated.
func (p Preferences) Grouped() []ConfigGroup {
	var groups []ConfigGroup
	for _, def := range ConfigGroupDefs {
		var entries []PrefEntry
		for _, key := range def.Keys {
			entries = append(entries, PrefEntry{
				Key:   key,
				Value: AnnotateValue(p.Get(key)),
			})
		}
		groups = append(groups, ConfigGroup{Name: def.Name, Entries: entries})
	}
	return groups
}

// GroupByName returns entries for a single config group, or nil if not found.
func (p Preferences) GroupByName(name string) *ConfigGroup {
	for _, g := range p.Grouped() {
		if g.Name == name {
			return &g
		}
	}
	return nil
}

// Get returns the display value for a single preference key.
func (p Preferences) Get(key string) string {
	switch key {
	case "footer.model":
		return strconv.FormatBool(p.FooterModel)
	case "footer.tokens":
		return strconv.FormatBool(p.FooterTokens)
	case "footer.cwd":
		return strconv.FormatBool(p.FooterCwd)
	case "footer.session":
		return strconv.FormatBool(p.FooterSession)
	case "model":
		return p.Model
	case "anthropic.api_key":
		return resolveKeyDisplay(p.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	case "openai.api_key":
		return resolveKeyDisplay(p.OpenAIAPIKey, "OPENAI_API_KEY")
	case "deepseek.api_key":
		return resolveKeyDisplay(p.DeepSeekAPIKey, "DEEPSEEK_API_KEY")
	case "qwen.api_key":
		return resolveKeyDisplay(p.QwenAPIKey, "DASHSCOPE_API_KEY")
	case "zhipu.api_key":
		return resolveKeyDisplay(p.ZhipuAPIKey, "ZHIPU_API_KEY")
	case "tavily.api_key":
		return resolveKeyDisplay(p.TavilyAPIKey, "TAVILY_API_KEY")
	case "tools.disabled":
		return p.ToolsDisabled
	case "command.timeout":
		if p.CommandTimeout == 0 {
			return ""
		}
		return strconv.Itoa(p.CommandTimeout)
	case "skills.disabled":
		return strconv.FormatBool(p.SkillsDisabled)
	default:
		return ""
	}
}

// Set updates a single preference key to the given value.
func (p *Preferences) Set(key, value string) error {
	value = SanitizeValue(value)
	switch key {
	case "footer.model":
		b, err := ParseBoolish(value)
		if err != nil {
			return err
		}
		p.FooterModel = b
	case "footer.tokens":
		b, err := ParseBoolish(value)
		if err != nil {
			return err
		}
		p.FooterTokens = b
	case "footer.cwd":
		b, err := ParseBoolish(value)
		if err != nil {
			return err
		}
		p.FooterCwd = b
	case "footer.session":
		b, err := ParseBoolish(value)
		if err != nil {
			return err
		}
		p.FooterSession = b
	case "model":
		p.Model = value
	case "anthropic.api_key":
		p.AnthropicAPIKey = value
	case "openai.api_key":
		p.OpenAIAPIKey = value
	case "deepseek.api_key":
		p.DeepSeekAPIKey = value
	case "qwen.api_key":
		p.QwenAPIKey = value
	case "zhipu.api_key":
		p.ZhipuAPIKey = value
	case "tavily.api_key":
		p.TavilyAPIKey = value
	case "tools.disabled":
		p.ToolsDisabled = value
	case "command.timeout":
		secs, err := strconv.Atoi(value)
		if err != nil || secs < 0 {
			return fmt.Errorf("invalid timeout: %s (use seconds)", value)
		}
		p.CommandTimeout = secs
	case "skills.disabled":
		b, err := ParseBoolish(value)
		if err != nil {
			return err
		}
		p.SkillsDisabled = b
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return nil
}

// SanitizeValue strips null bytes, ASCII control characters (< 32 except
// \n and \t), and DEL (0x7F) from a string value and trims surrounding
// whitespace. API keys should never contain control characters; these
// typically sneak in through clipboard paste artifacts.
func SanitizeValue(s string) string {
	return strings.Map(func(r rune) rune {
		if (r < 32 && r != '\n' && r != '\t') || r == 0x7F {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// sanitizePreferences strips control characters from all string fields in
// an already-loaded Preferences struct. Returns true if any field changed.
func sanitizePreferences(p *Preferences) bool {
	changed := false
	sanitize := func(s *string) {
		cleaned := SanitizeValue(*s)
		if cleaned != *s {
			*s = cleaned
			changed = true
		}
	}
	sanitize(&p.Model)
	sanitize(&p.Provider)
	sanitize(&p.AnthropicAPIKey)
	sanitize(&p.OpenAIAPIKey)
	sanitize(&p.DeepSeekAPIKey)
	sanitize(&p.QwenAPIKey)
	sanitize(&p.ZhipuAPIKey)
	sanitize(&p.TavilyAPIKey)
	sanitize(&p.ToolsDisabled)
	return changed
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// resolveKeyDisplay returns a masked key for display. If the preference is
// empty but the env var is set, shows the masked env value with "(from env)".
func resolveKeyDisplay(prefKey, envVar string) string {
	if prefKey != "" {
		return MaskKey(prefKey)
	}
	if envVal := strings.TrimSpace(os.Getenv(envVar)); envVal != "" {
		return MaskKey(envVal) + " (from env)"
	}
	return ""
}

// MaskKey masks an API key for display, showing only the last 4 characters.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// ParseBoolish parses a boolean-like string value.
func ParseBoolish(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "on", "yes", "1":
		return true, nil
	case "false", "off", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s (use true/false, on/off, yes/no)", s)
	}
}

// DisabledToolsSet parses tools.disabled into a normalized set.
// Format: comma-separated tool names (e.g. "browser,web_search").
func (p Preferences) DisabledToolsSet() map[string]bool {
	out := map[string]bool{}
	raw := strings.TrimSpace(p.ToolsDisabled)
	if raw == "" {
		return out
	}
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		out[name] = true
	}
	return out
}

// AnnotateValue returns a display string for a config value.
func AnnotateValue(value string) string {
	if value == "" {
		return "(not set)"
	}
	return value
}

// ConfigFilePath returns the absolute path to config.json.
func ConfigFilePath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.json")
}

// ---------------------------------------------------------------------------
// Config actions — front-end-agnostic business logic
// ---------------------------------------------------------------------------

// ExecuteConfigAction handles /config subcommands and returns a plain-text
// response. The caller (TUI or plain CLI) applies its own formatting.
func ExecuteConfigAction(prefs *Preferences, args []string) (string, error) {
	sub := "show"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}

	switch sub {
	case "show":
		return FormatConfigGroups(prefs.Grouped()), nil

	case "models", "tools", "skills", "theme":
		group := prefs.GroupByName(sub)
		if group == nil {
			return "", fmt.Errorf("unknown config group: %s", sub)
		}
		return FormatConfigGroups([]ConfigGroup{*group}), nil

	case "set":
		if len(args) < 3 {
			return "", fmt.Errorf("usage: /config set <key> <value>")
		}
		key := args[1]
		value := args[2]
		if err := prefs.Set(key, value); err != nil {
			return "", err
		}
		if err := SavePreferences(*prefs); err != nil {
			return "", fmt.Errorf("failed to save: %w", err)
		}
		return fmt.Sprintf("Set %s = %s", key, prefs.Get(key)), nil

	case "reset":
		*prefs = DefaultPreferences()
		if err := SavePreferences(*prefs); err != nil {
			return "", fmt.Errorf("failed to save: %w", err)
		}
		return "Preferences reset to defaults.", nil

	default:
		return "", fmt.Errorf("usage: /config [show|models|tools|skills|theme|set <key> <value>|reset]")
	}
}

// FormatConfigGroups renders config groups as plain text (no ANSI styling).
func FormatConfigGroups(groups []ConfigGroup) string {
	var lines []string
	for i, g := range groups {
		if i > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, strings.ToUpper(g.Name[:1])+g.Name[1:]+":")
		for _, e := range g.Entries {
			lines = append(lines, fmt.Sprintf("  %-24s %s", e.Key, e.Value))
		}
	}
	lines = append(lines, "")
	lines = append(lines, "  Use /config set <key> <value> to change")
	return strings.Join(lines, "\n")
}
