package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mpontes/wavault/internal/analyze"
	"github.com/mpontes/wavault/internal/filter"
	"github.com/mpontes/wavault/internal/query"
	"github.com/mpontes/wavault/internal/store"
)

const maxLimit = 1000

type handlers struct {
	store    *store.Store
	executor *query.Executor
	analyzer *analyze.Analyzer
}

// specFromArgs builds a filter spec from the shared chat/time/keyword
// arguments. Validation happens in the compile step.
func specFromArgs(args map[string]any) filter.Spec {
	spec := filter.Spec{}
	if v, ok := args["chat_jid"].(string); ok {
		spec.ChatJID = v
	}
	if v, ok := args["chat_name"].(string); ok {
		spec.ChatName = v
	}
	if v, ok := args["sender"].(string); ok {
		spec.Sender = v
	}
	if v, ok := args["after"].(string); ok {
		spec.After = v
	}
	if v, ok := args["before"].(string); ok {
		spec.Before = v
	}
	if v, ok := args["keywords"].(string); ok {
		spec.Keywords = strings.Fields(v)
	}
	if v, ok := args["match_mode"].(string); ok {
		spec.MatchMode = filter.MatchMode(v)
	}
	if v, ok := args["media_only"].(bool); ok {
		spec.MediaOnly = v
	}
	if v, ok := args["direction"].(string); ok {
		spec.Direction = filter.Direction(v)
	}
	if v, ok := args["descending"].(bool); ok {
		spec.Descending = v
	}
	return spec
}

func (h *handlers) listMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	spec := specFromArgs(args)
	spec.PageSize = limitArg(args, "page_size", 0)

	plan, err := filter.Compile(ctx, spec, h.store)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cursor, _ := args["cursor"].(string)
	page, err := h.executor.Execute(ctx, plan, cursor)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return jsonResult(page)
}

func (h *handlers) getMessageContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	chatJID, _ := args["chat_jid"].(string)
	id, _ := args["id"].(string)
	if chatJID == "" || id == "" {
		return mcp.NewToolResultError("chat_jid and id parameters are required"), nil
	}

	before := limitArg(args, "before", 5)
	after := limitArg(args, "after", 5)
	if before > 100 {
		before = 100
	}
	if after > 100 {
		after = 100
	}

	mctx, err := h.executor.MessageContext(ctx, chatJID, id, before, after)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("context lookup failed: %v", err)), nil
	}
	if mctx == nil {
		return mcp.NewToolResultError("message not found"), nil
	}
	return jsonResult(mctx)
}

func (h *handlers) listChats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chats, err := h.store.ListChats(ctx, limitArg(req.GetArguments(), "limit", 50))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list chats failed: %v", err)), nil
	}
	return jsonResult(chats)
}

func (h *handlers) searchChats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	queryStr, _ := args["query"].(string)
	if queryStr == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	chats, err := h.store.SearchChats(ctx, queryStr, limitArg(args, "limit", 50))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search chats failed: %v", err)), nil
	}
	return jsonResult(chats)
}

func (h *handlers) analyzeMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.analyzer == nil {
		return mcp.NewToolResultError("analysis backend not configured"), nil
	}
	args := req.GetArguments()

	queryType, _ := args["query_type"].(string)
	customQuery, _ := args["custom_query"].(string)

	result, err := h.analyzer.Analyze(ctx, analyze.Request{
		Filter:      specFromArgs(args),
		QueryType:   analyze.QueryType(queryType),
		CustomQuery: customQuery,
		MaxMessages: limitArg(args, "max_messages", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}
	return jsonResult(result)
}

func (h *handlers) getStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.store.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
	}
	return jsonResult(stats)
}

// limitArg extracts a non-negative integer from a map, with a default.
// JSON numbers arrive as float64. Clamps to maxLimit to prevent excessive
// result sets.
func limitArg(args map[string]any, key string, def int) int {
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if math.IsInf(v, 1) || v > float64(maxLimit) {
		return maxLimit
	}
	return int(v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
