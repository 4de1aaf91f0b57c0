package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fabula/internal/cache"
	"fabula/internal/config"
	"fabula/internal/engine"
	"fabula/internal/match"
	"fabula/internal/perception"
	"fabula/internal/world"
)

var (
	// Global flags
	verbose    bool
	configPath string

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fabula",
	Short: "fabula - narrative world-model extraction engine",
	Long: `fabula keeps a structured world model in sync with a narrator's prose.

Each turn of narrative is fanned out to specialized extraction agents
(resume, stats, transactions, entities, events) whose proposals are
validated, fuzzily resolved against known entities, and applied to the
session's persistent world model.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// initCmd writes a starter config and creates the database.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file and initialize the database",
	RunE:  runInit,
}

// sessionCmd creates a new session.
var sessionCmd = &cobra.Command{
	Use:   "new-session [session-id]",
	Short: "Create a new session with its own world model",
	Args:  cobra.ExactArgs(1),
	RunE:  runNewSession,
}

// extractCmd runs one extraction turn.
var extractCmd = &cobra.Command{
	Use:   "extract [session-id]",
	Short: "Run one extraction turn over narrative text",
	Long: `Reads narrative text from --file (or stdin), fans it out to the
extraction agents, and applies the resulting operations to the session's
world model. Prints the run summary as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

// snapshotCmd prints the current world slice.
var snapshotCmd = &cobra.Command{
	Use:   "snapshot [session-id]",
	Short: "Print the session's current world snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshot,
}

// closeCycleCmd folds the day's scenes into a digest.
var closeCycleCmd = &cobra.Command{
	Use:   "close-cycle [session-id]",
	Short: "Fold the current cycle's scene resumes into a day digest",
	Args:  cobra.ExactArgs(1),
	RunE:  runCloseCycle,
}

var (
	extractCycle   int
	extractWeekday string
	extractScene   string
	extractFile    string
	closeCycleNum  int
	initCredits    int
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "fabula.yaml", "path to config file")

	extractCmd.Flags().IntVar(&extractCycle, "cycle", 0, "override the session's current cycle")
	extractCmd.Flags().StringVar(&extractWeekday, "weekday", "", "override the session's current weekday")
	extractCmd.Flags().StringVar(&extractScene, "scene", "", "scene id to attach the resume to")
	extractCmd.Flags().StringVarP(&extractFile, "file", "f", "", "read narrative from file instead of stdin")

	closeCycleCmd.Flags().IntVar(&closeCycleNum, "cycle", 0, "cycle to close (defaults to the session's current cycle)")

	sessionCmd.Flags().IntVar(&initCredits, "credits", 100, "starting credit balance")

	rootCmd.AddCommand(initCmd, sessionCmd, extractCmd, snapshotCmd, closeCycleCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		// A missing file just means defaults; FABULA_API_KEY still applies.
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
			if key := os.Getenv("FABULA_API_KEY"); key != "" {
				cfg.LLM.APIKey = key
			}
			return cfg, nil
		}
		return config.Config{}, err
	}
	return cfg, nil
}

func newClient(ctx context.Context, cfg config.Config) (perception.CompletionClient, error) {
	timeout := config.Duration(cfg.LLM.Timeout, 0)
	switch cfg.LLM.Provider {
	case "openai":
		return perception.NewOpenAIClient(perception.ClientConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: timeout,
		}), nil
	case "anthropic":
		return perception.NewAnthropicClient(perception.ClientConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: timeout,
		}), nil
	case "gemini":
		return perception.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
}

func newEngine(ctx context.Context, cfg config.Config) (*engine.Orchestrator, *world.SQLiteStore, error) {
	store, err := world.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	client, err := newClient(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	orch := engine.New(store, cache.New(config.Duration(cfg.Cache.TTL, 0)), client, engine.Options{
		Resolver:     match.NewResolver(cfg.Matching.Threshold),
		Logger:       logger,
		AgentTimeout: config.Duration(cfg.Engine.AgentTimeout, 0),
	})
	return orch, store, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config %s already exists", configPath)
	}
	if err := cfg.Write(configPath); err != nil {
		return err
	}
	store, err := world.Open(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	fmt.Printf("Wrote %s and initialized %s\n", configPath, cfg.Store.DatabasePath)
	return nil
}

func runNewSession(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := world.Open(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	sess := world.Session{ID: args[0], Cycle: 1, Weekday: "monday", Credits: initCredits}
	if err := store.CreateSession(cmd.Context(), sess); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	fmt.Printf("Created session %s (cycle 1, %d credits)\n", sess.ID, sess.Credits)
	return nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var narrative []byte
	if extractFile != "" {
		narrative, err = os.ReadFile(extractFile)
		if err != nil {
			return fmt.Errorf("failed to read narrative file: %w", err)
		}
	} else {
		narrative, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read narrative from stdin: %w", err)
		}
	}
	if len(narrative) == 0 {
		return fmt.Errorf("no narrative text provided")
	}

	orch, store, err := newEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := orch.ExtractTurn(cmd.Context(), engine.Input{
		SessionID: args[0],
		Cycle:     extractCycle,
		Weekday:   extractWeekday,
		Narrative: string(narrative),
		SceneID:   extractScene,
	})
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	orch, store, err := newEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := orch.Snapshot(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := struct {
		Snapshot *world.Snapshot  `json:"snapshot"`
		LastRun  *world.RunRecord `json:"last_run,omitempty"`
	}{Snapshot: snap}
	if run, err := store.LatestRun(cmd.Context(), args[0]); err == nil {
		out.LastRun = &run
	} else if !errors.Is(err, world.ErrNotFound) {
		return fmt.Errorf("failed to load last run: %w", err)
	}
	return printJSON(out)
}

func runCloseCycle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	orch, store, err := newEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.GetSession(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	cycle := closeCycleNum
	if cycle == 0 {
		cycle = sess.Cycle
	}
	digest, err := orch.CloseCycle(cmd.Context(), args[0], cycle, sess.Weekday)
	if err != nil {
		return err
	}
	return printJSON(digest)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
