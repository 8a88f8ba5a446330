package tools

import (
	"fmt"
	"strings"

	"github.com/batalabs/qoze/internal/provider"
)

// ---------------------------------------------------------------------------
// skill tools — bridge to the skill manager
// ---------------------------------------------------------------------------

func listSkillsTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "list_skills",
			Description: "List the skills available in this session with their descriptions and activation state. Activate a skill when its description matches the current task.",
			Properties:  map[string]provider.ToolProp{},
			Required:    []string{},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			if ctx == nil || ctx.Skills == nil {
				return "No skills are available.", nil
			}
			briefs := ctx.Skills.Describe()
			if len(briefs) == 0 {
				return "No skills are available.", nil
			}

			var b strings.Builder
			for _, s := range briefs {
				marker := " "
				if s.Active {
					marker = "*"
				}
				fmt.Fprintf(&b, "%s %s", marker, s.Name)
				if s.Description != "" {
					fmt.Fprintf(&b, ": %s", s.Description)
				}
				b.WriteString("\n")
			}
			b.WriteString("\n(* = active)")
			return b.String(), nil
		},
	}
}

func activateSkillTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "activate_skill",
			Description: "Activate a skill by name. The skill's instructions are added to your context for the rest of the session. Use list_skills to see what is available.",
			Properties: map[string]provider.ToolProp{
				"name": {Type: "string", Description: "Skill name to activate"},
			},
			Required: []string{"name"},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			name, ok := input["name"].(string)
			if !ok || name == "" {
				return "", fmt.Errorf("name is required")
			}
			if ctx == nil || ctx.Skills == nil {
				return fmt.Sprintf("[SKILL_NOT_FOUND] %s (no skills are available)", name), nil
			}
			content, found := ctx.Skills.Activate(name)
			if !found {
				return fmt.Sprintf("[SKILL_NOT_FOUND] %s", name), nil
			}
			return fmt.Sprintf("[SKILL_ACTIVATED] %s\n\n%s", name, content), nil
		},
	}
}

func deactivateSkillTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "deactivate_skill",
			Description: "Deactivate a previously activated skill, removing its instructions from your context.",
			Properties: map[string]provider.ToolProp{
				"name": {Type: "string", Description: "Skill name to deactivate"},
			},
			Required: []string{"name"},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			name, ok := input["name"].(string)
			if !ok || name == "" {
				return "", fmt.Errorf("name is required")
			}
			if ctx == nil || ctx.Skills == nil || !ctx.Skills.Deactivate(name) {
				return fmt.Sprintf("[SKILL_NOT_FOUND] %s", name), nil
			}
			return fmt.Sprintf("Deactivated skill %s.", name), nil
		},
	}
}
