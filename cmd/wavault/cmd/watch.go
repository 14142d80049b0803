package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mpontes/wavault/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream new messages to stdout as the bridge writes them",
	Long: `Follow the archive and print each new message as it arrives.

On a terminal, messages print as readable lines; when output is piped,
each message is emitted as one JSON object per line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		detector := watch.NewDetector(s, watchConfig(), logger)
		stream := detector.Subscribe(cmd.Context())
		defer stream.Cancel()

		pretty := isatty.IsTerminal(os.Stdout.Fd())
		if pretty {
			fmt.Fprintln(os.Stderr, "Watching for new messages. Press Ctrl+C to stop.")
		}
		enc := json.NewEncoder(os.Stdout)

		for msg := range stream.C {
			if pretty {
				printMessage(msg)
				continue
			}
			if err := enc.Encode(msg); err != nil {
				return fmt.Errorf("write message: %w", err)
			}
		}

		if n := stream.Missed(); n > 0 {
			logger.Warn("rows arrived too late for in-order delivery", "count", n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
