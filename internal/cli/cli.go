// Package cli implements the plain, non-fullscreen chat surface. It shares
// the engine and stream driver with the bubbletea UI but writes straight to
// stdout, which keeps it usable over ssh, in pipes, and in dumb terminals.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/batalabs/qoze/internal/agent"
	"github.com/batalabs/qoze/internal/config"
	"github.com/batalabs/qoze/internal/domain"
	"github.com/batalabs/qoze/internal/provider"
	"github.com/batalabs/qoze/internal/store"
	"github.com/batalabs/qoze/internal/stream"
	"github.com/batalabs/qoze/internal/tools"
)

// Options configures the plain REPL.
type Options struct {
	Version string
	ModelID string
	Engine  *agent.Engine
	Store   *store.Store
	Session *domain.Session
	Skills  tools.SkillManager
	Prefs   config.Preferences

	In  io.Reader
	Out io.Writer
}

// REPL is the line-oriented chat loop.
type REPL struct {
	opts    Options
	engine  *agent.Engine
	conv    *domain.Conversation
	sink    *plainSink
	scanner *bufio.Scanner
	out     io.Writer
	modelID string
}

// New builds a REPL from opts, defaulting to stdin/stdout.
func New(opts Options) *REPL {
	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = isatty.IsTerminal(f.Fd())
	}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &REPL{
		opts:    opts,
		engine:  opts.Engine,
		conv:    &domain.Conversation{},
		sink:    newPlainSink(out, 100, isTTY),
		scanner: sc,
		out:     out,
		modelID: opts.ModelID,
	}
}

// Run drives the read/submit loop until EOF or /quit.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintf(r.out, "qoze %s · %s · /help for commands\n\n", r.opts.Version, r.modelID)
	for {
		fmt.Fprint(r.out, "❯ ")
		if !r.scanner.Scan() {
			fmt.Fprintln(r.out)
			return r.scanner.Err()
		}
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := r.handleCommand(line); quit {
				return nil
			}
			continue
		}
		if err := r.runTurn(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// runTurn submits one user message and streams the result to the sink.
func (r *REPL) runTurn(ctx context.Context, text string) error {
	events := r.engine.Submit(ctx, text)
	driver := stream.NewDriver(r.sink)
	err := driver.Run(ctx, events, r.conv)
	fmt.Fprintln(r.out)
	return err
}

// handleCommand processes a slash command. Returns true to exit the loop.
func (r *REPL) handleCommand(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Fprintln(r.out, strings.Join([]string{
			"Commands:",
			"  /model <provider/model>  switch model",
			"  /skills                  list available skills",
			"  /help                    show this help",
			"  /quit                    exit",
		}, "\n"))

	case "/model":
		r.switchModel(fields[1:])

	case "/skills":
		r.printSkills()

	default:
		fmt.Fprintf(r.out, "Unknown command %s. Try /help.\n", fields[0])
	}
	return false
}

func (r *REPL) switchModel(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "Current model: %s\n", r.modelID)
		return
	}
	provName, modelID := provider.ResolveProviderAndModel(args[0], r.opts.Prefs.Provider)
	prov, err := provider.GetProvider(provName)
	if err != nil {
		fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
		return
	}
	apiKey, err := config.LoadProviderAPIKey(r.opts.Prefs, provName)
	if err != nil {
		fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
		return
	}
	r.engine.SetProvider(prov, apiKey, modelID)
	r.modelID = modelID
	fmt.Fprintf(r.out, "Switched to %s/%s.\n", provName, modelID)
}

func (r *REPL) printSkills() {
	if r.opts.Skills == nil {
		fmt.Fprintln(r.out, "No skills are available.")
		return
	}
	briefs := r.opts.Skills.Describe()
	if len(briefs) == 0 {
		fmt.Fprintln(r.out, "No skills are available.")
		return
	}
	fmt.Fprintln(r.out, "Skills:")
	for _, s := range briefs {
		marker := "  "
		if s.Active {
			marker = "* "
		}
		fmt.Fprintf(r.out, "%s%s  %s\n", marker, s.Name, s.Description)
	}
}

// AskUserPrompt returns an ask_user handler that prompts on the same
// streams the REPL uses.
func AskUserPrompt(in io.Reader, out io.Writer) func(string) (string, error) {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	reader := bufio.NewReader(in)
	return func(question string) (string, error) {
		fmt.Fprintf(out, "\n? %s\n> ", question)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
}
