// Package mcp exposes the message archive to LLM agents over the Model
// Context Protocol (stdio transport).
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mpontes/wavault/internal/analyze"
	"github.com/mpontes/wavault/internal/query"
	"github.com/mpontes/wavault/internal/store"
)

// Tool name constants.
const (
	ToolListMessages      = "list_messages"
	ToolGetMessageContext = "get_message_context"
	ToolListChats         = "list_chats"
	ToolSearchChats       = "search_chats"
	ToolAnalyzeMessages   = "analyze_messages"
	ToolGetStats          = "get_stats"
)

// Common argument helpers for recurring tool option definitions.

func withChatFilter() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("chat_jid",
			mcp.Description("Exact chat JID (e.g. '5511999999999@s.whatsapp.net')"),
		),
		mcp.WithString("chat_name",
			mcp.Description("Chat name substring; ignored when chat_jid is set"),
		),
		mcp.WithString("sender",
			mcp.Description("Filter by sender JID"),
		),
	}
}

func withTimeRange() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("after",
			mcp.Description("Only messages at or after this time (YYYY-MM-DD or RFC 3339)"),
		),
		mcp.WithString("before",
			mcp.Description("Only messages at or before this time (YYYY-MM-DD or RFC 3339)"),
		),
	}
}

func withLimit(name, defaultDesc string) mcp.ToolOption {
	return mcp.WithNumber(name,
		mcp.Description("Maximum results to return (default "+defaultDesc+")"),
	)
}

// Serve creates an MCP server with archive tools and serves over stdio.
// It blocks until stdin is closed or the context is cancelled.
func Serve(ctx context.Context, st *store.Store, analyzer *analyze.Analyzer) error {
	s := server.NewMCPServer(
		"wavault",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	h := &handlers{store: st, executor: query.NewExecutor(st), analyzer: analyzer}

	s.AddTool(listMessagesTool(), h.listMessages)
	s.AddTool(getMessageContextTool(), h.getMessageContext)
	s.AddTool(listChatsTool(), h.listChats)
	s.AddTool(searchChatsTool(), h.searchChats)
	s.AddTool(analyzeMessagesTool(), h.analyzeMessages)
	s.AddTool(getStatsTool(), h.getStats)

	stdio := server.NewStdioServer(s)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func listMessagesTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("List archived WhatsApp messages matching a filter, oldest first, with cursor pagination."),
		mcp.WithReadOnlyHintAnnotation(true),
	}
	opts = append(opts, withChatFilter()...)
	opts = append(opts, withTimeRange()...)
	opts = append(opts,
		mcp.WithString("keywords",
			mcp.Description("Space-separated keywords matched against message content"),
		),
		mcp.WithString("match_mode",
			mcp.Description("Keyword matching: any keyword or all keywords"),
			mcp.Enum("any", "all"),
		),
		mcp.WithBoolean("media_only",
			mcp.Description("Only messages carrying media"),
		),
		mcp.WithString("direction",
			mcp.Description("Only inbound or only outbound messages"),
			mcp.Enum("inbound", "outbound"),
		),
		mcp.WithBoolean("descending",
			mcp.Description("Newest first instead of oldest first"),
		),
		withLimit("page_size", "100"),
		mcp.WithString("cursor",
			mcp.Description("Opaque cursor from a previous call to continue past its last message"),
		),
	)
	return mcp.NewTool(ToolListMessages, opts...)
}

func getMessageContextTool() mcp.Tool {
	return mcp.NewTool(ToolGetMessageContext,
		mcp.WithDescription("Get a message and the chat messages surrounding it."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("chat_jid",
			mcp.Required(),
			mcp.Description("Chat JID the message belongs to"),
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Message ID"),
		),
		mcp.WithNumber("before",
			mcp.Description("Messages to include before (default 5, max 100)"),
		),
		mcp.WithNumber("after",
			mcp.Description("Messages to include after (default 5, max 100)"),
		),
	)
}

func listChatsTool() mcp.Tool {
	return mcp.NewTool(ToolListChats,
		mcp.WithDescription("List chats ordered by most recent activity."),
		mcp.WithReadOnlyHintAnnotation(true),
		withLimit("limit", "50"),
	)
}

func searchChatsTool() mcp.Tool {
	return mcp.NewTool(ToolSearchChats,
		mcp.WithDescription("Search chats by name or JID substring."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Name or JID substring to search for"),
		),
		withLimit("limit", "50"),
	)
}

func analyzeMessagesTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Run an LLM analysis (summary, topics, sentiment, action items, or a custom question) over messages matching a filter."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("query_type",
			mcp.Description("Kind of analysis to run (default summarize)"),
			mcp.Enum("summarize", "topics", "sentiment", "action_items", "custom"),
		),
		mcp.WithString("custom_query",
			mcp.Description("The question to ask; required when query_type is custom"),
		),
	}
	opts = append(opts, withChatFilter()...)
	opts = append(opts, withTimeRange()...)
	opts = append(opts, withLimit("max_messages", "100"))
	return mcp.NewTool(ToolAnalyzeMessages, opts...)
}

func getStatsTool() mcp.Tool {
	return mcp.NewTool(ToolGetStats,
		mcp.WithDescription("Get archive overview: message count, chat count, and covered time range."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}
