// qoze CLI entry point
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/batalabs/qoze/internal/agent"
	"github.com/batalabs/qoze/internal/cli"
	"github.com/batalabs/qoze/internal/config"
	"github.com/batalabs/qoze/internal/domain"
	"github.com/batalabs/qoze/internal/mcp"
	"github.com/batalabs/qoze/internal/provider"
	"github.com/batalabs/qoze/internal/skills"
	"github.com/batalabs/qoze/internal/store"
	"github.com/batalabs/qoze/internal/tui"
)

var version = "dev"

func init() {
	if version != "dev" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
}

var (
	modelFlag    string
	plainFlag    bool
	continueFlag string
	debugFlag    bool
)

func main() {
	root := &cobra.Command{
		Use:   "qoze",
		Short: "A coding assistant for your terminal",
		Long:  "qoze is a terminal coding assistant: it streams model output,\nruns tools against your working directory, and keeps sessions in a\nlocal database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().StringVarP(&modelFlag, "model", "m", "", "model name or alias (e.g. claude-sonnet, openai/gpt-4o)")
	root.Flags().BoolVar(&plainFlag, "plain", false, "plain line-oriented output instead of the full-screen UI")
	root.Flags().StringVarP(&continueFlag, "continue", "c", "", "resume a session (latest for cwd, or a session ID prefix)")
	root.Flags().Lookup("continue").NoOptDefVal = "latest"
	root.PersistentFlags().BoolVar(&debugFlag, "debug", false, "verbose logging")

	root.AddCommand(skillsCmd(), configCmd(), versionCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runChat(ctx context.Context) error {
	config.LoadDotEnv()
	prefs := config.LoadPreferences()
	logger := config.NewLogger(debugFlag)

	cwd := mustGetwd()

	// Resolve provider and model. No hardcoded default: the user picks one
	// via --model, /model, or the config file.
	modelLabel := modelFlag
	if modelLabel == "" {
		modelLabel = prefs.Model
	}
	var providerName, modelID, apiKey string
	var prov provider.Provider
	if modelLabel != "" {
		providerName, modelID = provider.ResolveProviderAndModel(modelLabel, prefs.Provider)
		if p, err := provider.GetProvider(providerName); err == nil {
			prov = p
			apiKey, _ = config.LoadProviderAPIKey(prefs, providerName)
		} else {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}

	st, err := store.OpenStore()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	session, history, resuming, err := resolveSession(st, cwd, modelID)
	if err != nil {
		return err
	}

	var skillMgr *skills.Manager
	if !prefs.SkillsDisabled {
		skillMgr = skills.NewManager(
			filepath.Join(config.ConfigDir(), "skills"),
			filepath.Join(cwd, ".qoze", "skills"),
			logger,
		)
		if err := skillMgr.Watch(); err != nil {
			logger.WithError(err).Warn("skill hot reload unavailable")
		}
		defer skillMgr.Close()
	}

	mcpMgr := mcp.NewManager(logger)
	if mcpCfg, err := mcp.LoadConfig(cwd); err != nil {
		logger.WithError(err).Warn("mcp config skipped")
	} else if len(mcpCfg.MCPServers) > 0 {
		mcpMgr.StartAll(ctx, mcpCfg)
		defer mcpMgr.StopAll()
	}

	engCfg := agent.Config{
		APIKey:         apiKey,
		ModelID:        modelID,
		Provider:       prov,
		Store:          st,
		Session:        session,
		History:        history,
		Cwd:            cwd,
		Disabled:       prefs.DisabledToolsSet(),
		CommandTimeout: prefs.CommandTimeout,
		TavilyAPIKey:   config.LoadTavilyAPIKey(prefs),
		MCP:            mcpMgr,
		Log:            logger,
	}
	if skillMgr != nil {
		engCfg.Skills = skillMgr
	}

	if plainFlag {
		engCfg.AskUser = cli.AskUserPrompt(os.Stdin, os.Stdout)
		eng := agent.NewEngine(engCfg)
		repl := cli.New(cli.Options{
			Version: version,
			ModelID: modelID,
			Engine:  eng,
			Store:   st,
			Session: session,
			Skills:  engCfg.Skills,
			Prefs:   prefs,
		})
		return repl.Run(ctx)
	}

	engCfg.AskUser = func(question string) (string, error) {
		resp := make(chan string, 1)
		tui.Prog.Send(tui.AskUserMsg{Question: question, Resp: resp})
		return <-resp, nil
	}
	eng := agent.NewEngine(engCfg)

	newEngine := func(sess *domain.Session, hist []domain.TranscriptMessage) *agent.Engine {
		cfg := engCfg
		cfg.Session = sess
		cfg.History = hist
		return agent.NewEngine(cfg)
	}

	// Start the UI on a fresh line, clear of the shell prompt.
	fmt.Println()

	return tui.Run(tui.Options{
		Version:   version,
		ModelID:   modelID,
		Engine:    eng,
		Store:     st,
		Session:   session,
		Resuming:  resuming,
		Skills:    engCfg.Skills,
		Prefs:     prefs,
		NewEngine: newEngine,
	})
}

// resolveSession creates a session, or resumes one when --continue is set.
// Resuming loads the persisted transcript so the engine picks up mid-thread.
func resolveSession(st *store.Store, cwd, modelID string) (*domain.Session, []domain.TranscriptMessage, bool, error) {
	if continueFlag == "" {
		sess, err := st.CreateSession(cwd, modelID)
		if err != nil {
			return nil, nil, false, fmt.Errorf("creating session: %w", err)
		}
		return sess, nil, false, nil
	}

	var sess *domain.Session
	var err error
	if continueFlag == "latest" {
		sess, err = st.LatestSession(cwd)
		if err == sql.ErrNoRows {
			return nil, nil, false, fmt.Errorf("no sessions found for %s", cwd)
		}
	} else {
		sess, err = st.FindSessionByPrefix(continueFlag)
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("resuming session: %w", err)
	}

	history, err := st.GetMessages(sess.ID)
	if err != nil {
		return nil, nil, false, fmt.Errorf("loading session history: %w", err)
	}
	return sess, history, true, nil
}

func skillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect available skills",
	}

	newManager := func() *skills.Manager {
		return skills.NewManager(
			filepath.Join(config.ConfigDir(), "skills"),
			filepath.Join(mustGetwd(), ".qoze", "skills"),
			config.NewLogger(debugFlag),
		)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List discovered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			all := newManager().List()
			if len(all) == 0 {
				fmt.Println("No skills found.")
				return nil
			}
			for _, s := range all {
				fmt.Printf("%-20s [%s]  %s\n", s.Name, s.Tier, s.Description)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Print a skill's full content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ok := newManager().Get(args[0])
			if !ok {
				return fmt.Errorf("skill %q not found", args[0])
			}
			fmt.Printf("%s [%s]\n%s\n\n%s\n", s.Name, s.Tier, s.Description, s.Content)
			return nil
		},
	})

	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config [group | key | key value]",
		Short: "Show or change preferences",
		Long:  "With no arguments, prints all preference groups. Pass a group or key\nto narrow, or a key and value to set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs := config.LoadPreferences()
			out, err := config.ExecuteConfigAction(&prefs, args)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("qoze %s\n", version)
		},
	}
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
