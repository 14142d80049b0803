package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mpontes/wavault/internal/store"
)

var chatsLimit int

var chatsCmd = &cobra.Command{
	Use:   "chats [pattern]",
	Short: "List chats, optionally filtered by name or JID",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		var chats []store.Chat
		if len(args) == 1 {
			chats, err = s.SearchChats(cmd.Context(), args[0], chatsLimit)
		} else {
			chats, err = s.ListChats(cmd.Context(), chatsLimit)
		}
		if err != nil {
			return fmt.Errorf("list chats: %w", err)
		}

		for _, c := range chats {
			kind := "direct"
			if c.IsGroup {
				kind = "group"
			}
			fmt.Printf("%-40s  %-6s  %-19s  %s\n",
				c.JID, kind,
				c.LastMessageTime.Local().Format("2006-01-02 15:04:05"),
				c.DisplayName())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chatsCmd)
	chatsCmd.Flags().IntVar(&chatsLimit, "limit", 50, "maximum chats to show")
}
