package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpontes/wavault/internal/analyze"
	mcpserver "github.com/mpontes/wavault/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run MCP server for Claude Desktop integration",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

This allows Claude Desktop (or any MCP client) to query the message archive
using tools like list_messages, get_message_context, search_chats,
analyze_messages and get_stats.

Add to Claude Desktop config:
  {
    "mcpServers": {
      "wavault": {
        "command": "wavault",
        "args": ["mcp"]
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer st.Close()

		llm := analyze.NewOllamaClient(cfg.Analyze.Server, cfg.Analyze.Model)
		pingCtx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
		if !llm.Ping(pingCtx) {
			logger.Warn("ollama server unreachable, analyze_messages will fail until it is up",
				"server", cfg.Analyze.Server)
		}
		cancel()
		analyzer := analyze.NewAnalyzer(st, llm, cfg.AnalyzeTimeout(), logger)

		return mcpserver.Serve(cmd.Context(), st, analyzer)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
