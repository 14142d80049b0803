package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		stats, err := s.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Database: %s\n", cfg.DatabasePath())
		fmt.Printf("  Messages: %d\n", stats.MessageCount)
		fmt.Printf("  Chats:    %d\n", stats.ChatCount)
		if stats.MessageCount > 0 {
			fmt.Printf("  Earliest: %s\n", stats.Earliest.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("  Latest:   %s\n", stats.Latest.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
