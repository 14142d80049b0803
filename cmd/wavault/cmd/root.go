package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mpontes/wavault/internal/analyze"
	"github.com/mpontes/wavault/internal/config"
	"github.com/mpontes/wavault/internal/store"
	"github.com/mpontes/wavault/internal/watch"
)

var (
	cfgFile string
	homeDir string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wavault",
	Short: "Query and live-watch a WhatsApp bridge message archive",
	Long: `wavault is a read-only query and real-time synchronization layer over
the message archive written by a WhatsApp protocol bridge.

The bridge owns the database and keeps appending to it; wavault serves
filtered queries, paginated history, live message streams and LLM-backed
conversation analysis on top of it, over HTTP, WebSocket, MCP and this CLI.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		opts := &slog.HandlerOptions{Level: level}
		if isatty.IsTerminal(os.Stderr.Fd()) {
			logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
		} else {
			logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
		}

		// --home overrides WAVAULT_HOME, which config.Load consults for
		// both the config file location and the default data dir.
		if homeDir != "" {
			os.Setenv("WAVAULT_HOME", homeDir)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// openStore opens the bridge database read-only, failing with a hint when
// the bridge has not created it yet.
func openStore() (*store.Store, error) {
	path := cfg.DatabasePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("bridge database not found at %s\n\nPoint wavault at the bridge's database in config.toml:\n\n  [data]\n  bridge_db = \"/path/to/messages.db\"", path)
	}
	return store.Open(path)
}

// newAnalyzer builds the analyzer over the configured Ollama server. The
// server is only contacted when an analysis actually runs.
func newAnalyzer(st *store.Store) *analyze.Analyzer {
	llm := analyze.NewOllamaClient(cfg.Analyze.Server, cfg.Analyze.Model)
	return analyze.NewAnalyzer(st, llm, cfg.AnalyzeTimeout(), logger)
}

// watchConfig maps the config file's watch section onto the detector.
func watchConfig() watch.Config {
	return watch.Config{
		PollInterval: cfg.PollInterval(),
		Lateness:     cfg.Lateness(),
		BatchLimit:   cfg.Watch.BatchLimit,
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.wavault/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "home directory (overrides WAVAULT_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
