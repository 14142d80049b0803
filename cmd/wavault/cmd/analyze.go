package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mpontes/wavault/internal/analyze"
	"github.com/mpontes/wavault/internal/filter"
)

var analyzeFlags struct {
	chatJID     string
	chatName    string
	after       string
	before      string
	queryType   string
	customQuery string
	maxMessages int
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Summarize and analyze conversations with the configured LLM",
	Long: `Run an LLM analysis over a filtered slice of the archive.

Query types: summarize, topics, sentiment, action_items, custom.
The custom type requires --query.

Examples:
  wavault analyze --chat-name alice
  wavault analyze --after 2025-06-01 --type topics
  wavault analyze --chat-name family --type custom --query "Who proposed the picnic?"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		result, err := newAnalyzer(s).Analyze(cmd.Context(), analyze.Request{
			Filter: filter.Spec{
				ChatJID:  analyzeFlags.chatJID,
				ChatName: analyzeFlags.chatName,
				After:    analyzeFlags.after,
				Before:   analyzeFlags.before,
			},
			QueryType:   analyze.QueryType(analyzeFlags.queryType),
			CustomQuery: analyzeFlags.customQuery,
			MaxMessages: analyzeFlags.maxMessages,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Period:   %s\n", result.Period)
		fmt.Printf("Messages: %d\n\n", result.MessageCount)
		fmt.Println(result.Analysis)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&analyzeFlags.chatJID, "chat", "", "exact chat JID")
	analyzeCmd.Flags().StringVar(&analyzeFlags.chatName, "chat-name", "", "fuzzy chat name")
	analyzeCmd.Flags().StringVar(&analyzeFlags.after, "after", "", "messages at or after this time")
	analyzeCmd.Flags().StringVar(&analyzeFlags.before, "before", "", "messages at or before this time")
	analyzeCmd.Flags().StringVar(&analyzeFlags.queryType, "type", "summarize", "analysis type")
	analyzeCmd.Flags().StringVar(&analyzeFlags.customQuery, "query", "", "question for the custom type")
	analyzeCmd.Flags().IntVar(&analyzeFlags.maxMessages, "max-messages", 0, "message budget (default 100)")
}
