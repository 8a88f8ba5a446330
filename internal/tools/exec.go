package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/batalabs/qoze/internal/provider"
)

const (
	defaultCommandTimeout = 30
	maxCommandTimeout     = 300
	maxCommandOutput      = 50 * 1024
)

func executeCommandTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "execute_command",
			Description: "Run a shell command and return stdout+stderr. Use for git, build commands, installers, and other CLI tools. Prefer file_read/file_edit/grep for file operations. Failed commands are prefixed with [RUN_FAILED].",
			Properties: map[string]provider.ToolProp{
				"command": {Type: "string", Description: "Shell command to execute"},
				"timeout": {Type: "integer", Description: "Timeout in seconds (default: 30, max: 300)"},
			},
			Required: []string{"command"},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			command, ok := input["command"].(string)
			if !ok || command == "" {
				return "", fmt.Errorf("command is required")
			}

			timeout := defaultCommandTimeout
			if ctx != nil && ctx.CommandTimeout > 0 {
				timeout = ctx.CommandTimeout
			}
			if v, ok := input["timeout"].(float64); ok && v > 0 {
				timeout = int(v)
			}
			if timeout > maxCommandTimeout {
				timeout = maxCommandTimeout
			}

			cwd := ""
			if ctx != nil {
				cwd = ctx.Cwd
			}
			if cwd == "" {
				cwd, _ = Getwd()
			}

			return runCommand(command, cwd, timeout)
		},
	}
}

// runCommand executes a shell command with a timeout. The command runs in
// its own process group so a timeout kills the whole tree, not just the
// shell. Non-zero exits and timeouts are reported in the result string with
// the [RUN_FAILED] prefix rather than as errors, so the model sees the
// output and can recover.
func runCommand(command, cwd string, timeoutSec int) (string, error) {
	cmdCtx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	cmd := shellCommand(cmdCtx, command)
	cmd.Dir = cwd
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()

	out := buf.String()
	if len(out) > maxCommandOutput {
		out = out[:maxCommandOutput] + "\n... (truncated at 50KB)"
	}

	if cmdCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("[RUN_FAILED] (Exit Code: -1)\n%s\n(command timed out after %ds)", out, timeoutSec), nil
	}
	if err != nil {
		code := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return fmt.Sprintf("[RUN_FAILED] (Exit Code: %d)\n%s", code, out), nil
	}

	if out == "" {
		return "(no output)", nil
	}
	return out, nil
}
