package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mpontes/wavault/internal/filter"
	"github.com/mpontes/wavault/internal/query"
	"github.com/mpontes/wavault/internal/store"
)

var queryFlags struct {
	chatJID    string
	chatName   string
	sender     string
	after      string
	before     string
	keywords   []string
	matchMode  string
	mediaOnly  bool
	direction  string
	descending bool
	pageSize   int
	cursor     string
	asJSON     bool
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query archived messages",
	Long: `Query archived messages with filters and keyset pagination.

Examples:
  wavault query --chat-name alice --page-size 20
  wavault query --keyword picnic --keyword saturday --match all
  wavault query --after 2025-06-01 --before "2025-06-02 12:00:00"
  wavault query --direction outbound --media-only

When more results exist, the next page's cursor is printed; pass it back
with --cursor to continue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		spec := filter.Spec{
			ChatJID:    queryFlags.chatJID,
			ChatName:   queryFlags.chatName,
			Sender:     queryFlags.sender,
			After:      queryFlags.after,
			Before:     queryFlags.before,
			Keywords:   queryFlags.keywords,
			MatchMode:  filter.MatchMode(queryFlags.matchMode),
			MediaOnly:  queryFlags.mediaOnly,
			Direction:  filter.Direction(queryFlags.direction),
			Descending: queryFlags.descending,
			PageSize:   queryFlags.pageSize,
		}

		plan, err := filter.Compile(cmd.Context(), spec, s)
		if err != nil {
			return err
		}

		page, err := query.NewExecutor(s).Execute(cmd.Context(), plan, queryFlags.cursor)
		if err != nil {
			return err
		}

		if queryFlags.asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		}

		for _, m := range page.Items {
			printMessage(m)
		}
		if page.HasMore {
			fmt.Printf("\nMore results. Continue with:\n  --cursor %s\n", page.NextCursor)
		}
		return nil
	},
}

func printMessage(m store.Message) {
	who := m.Sender
	if m.IsFromMe {
		who = "me"
	}
	chat := m.ChatName
	if chat == "" {
		chat = m.ChatJID
	}
	content := m.Content
	if content == "" && m.MediaType != "" {
		content = "[" + m.MediaType + "]"
	}
	fmt.Printf("[%s] %s | %s: %s\n",
		m.Timestamp.Local().Format("2006-01-02 15:04:05"), chat, who, content)
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVar(&queryFlags.chatJID, "chat", "", "exact chat JID")
	queryCmd.Flags().StringVar(&queryFlags.chatName, "chat-name", "", "fuzzy chat name")
	queryCmd.Flags().StringVar(&queryFlags.sender, "sender", "", "exact sender JID")
	queryCmd.Flags().StringVar(&queryFlags.after, "after", "", "messages at or after this time")
	queryCmd.Flags().StringVar(&queryFlags.before, "before", "", "messages at or before this time")
	queryCmd.Flags().StringArrayVar(&queryFlags.keywords, "keyword", nil, "content keyword (repeatable)")
	queryCmd.Flags().StringVar(&queryFlags.matchMode, "match", "any", "keyword match mode: any or all")
	queryCmd.Flags().BoolVar(&queryFlags.mediaOnly, "media-only", false, "only messages with media")
	queryCmd.Flags().StringVar(&queryFlags.direction, "direction", "", "inbound or outbound")
	queryCmd.Flags().BoolVar(&queryFlags.descending, "desc", false, "most recent first")
	queryCmd.Flags().IntVar(&queryFlags.pageSize, "page-size", 0, "results per page (default 100)")
	queryCmd.Flags().StringVar(&queryFlags.cursor, "cursor", "", "continue from a previous page")
	queryCmd.Flags().BoolVar(&queryFlags.asJSON, "json", false, "JSON output")
}
