package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mpontes/wavault/internal/analyze"
	"github.com/mpontes/wavault/internal/digest"
	"github.com/mpontes/wavault/internal/filter"
	"github.com/mpontes/wavault/internal/store"
)

// MessageJSON is the wire shape of one message.
type MessageJSON struct {
	ID        string `json:"id"`
	ChatJID   string `json:"chat_jid"`
	ChatName  string `json:"chat_name,omitempty"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	IsFromMe  bool   `json:"is_from_me"`
	MediaType string `json:"media_type,omitempty"`
}

func toMessageJSON(m store.Message) MessageJSON {
	return MessageJSON{
		ID:        m.ID,
		ChatJID:   m.ChatJID,
		ChatName:  m.ChatName,
		Sender:    m.Sender,
		Content:   m.Content,
		Timestamp: m.Timestamp.Format("2006-01-02T15:04:05Z"),
		IsFromMe:  m.IsFromMe,
		MediaType: m.MediaType,
	}
}

func toMessageJSONs(msgs []store.Message) []MessageJSON {
	out := make([]MessageJSON, len(msgs))
	for i, m := range msgs {
		out[i] = toMessageJSON(m)
	}
	return out
}

// ChatJSON is the wire shape of one chat.
type ChatJSON struct {
	JID             string `json:"jid"`
	Name            string `json:"name"`
	IsGroup         bool   `json:"is_group"`
	LastMessageTime string `json:"last_message_time"`
}

func toChatJSON(c store.Chat) ChatJSON {
	return ChatJSON{
		JID:             c.JID,
		Name:            c.DisplayName(),
		IsGroup:         c.IsGroup,
		LastMessageTime: c.LastMessageTime.Format("2006-01-02T15:04:05Z"),
	}
}

// QueryRequest is the body of POST /messages/query.
type QueryRequest struct {
	filter.Spec
	Cursor string `json:"cursor,omitempty"`
}

// QueryResponse is one page of query results.
type QueryResponse struct {
	Messages   []MessageJSON `json:"messages"`
	HasMore    bool          `json:"has_more"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeDomainError maps domain errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, filter.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "invalid_cursor", err.Error())
	case errors.Is(err, filter.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
	case errors.Is(err, analyze.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, store.ErrUnavailable):
		s.logger.Error("archive unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Archive database not available")
	case errors.Is(err, analyze.ErrSummarizationTimeout):
		writeError(w, http.StatusGatewayTimeout, "summarization_timeout", err.Error())
	case errors.Is(err, analyze.ErrSummarizationFailed):
		s.logger.Error("summarization failed", "error", err)
		writeError(w, http.StatusBadGateway, "summarization_failed", "Analysis backend failed")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal error")
	}
}

// StatsResponse represents the archive statistics.
type StatsResponse struct {
	TotalMessages int64  `json:"total_messages"`
	TotalChats    int64  `json:"total_chats"`
	Earliest      string `json:"earliest,omitempty"`
	Latest        string `json:"latest,omitempty"`
}

// handleStats returns archive statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := StatsResponse{
		TotalMessages: stats.MessageCount,
		TotalChats:    stats.ChatCount,
	}
	if !stats.Earliest.IsZero() {
		resp.Earliest = stats.Earliest.Format("2006-01-02T15:04:05Z")
	}
	if !stats.Latest.IsZero() {
		resp.Latest = stats.Latest.Format("2006-01-02T15:04:05Z")
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleQueryMessages compiles the posted filter and returns one result page.
func (s *Server) handleQueryMessages(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be a JSON filter")
		return
	}

	plan, err := filter.Compile(r.Context(), req.Spec, s.store)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	page, err := s.executor.Execute(r.Context(), plan, req.Cursor)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Messages:   toMessageJSONs(page.Items),
		HasMore:    page.HasMore,
		NextCursor: page.NextCursor,
	})
}

// ContextResponse is a message with its chat neighbors.
type ContextResponse struct {
	Message MessageJSON   `json:"message"`
	Before  []MessageJSON `json:"before"`
	After   []MessageJSON `json:"after"`
}

// handleMessageContext returns a message and its surrounding chat messages.
func (s *Server) handleMessageContext(w http.ResponseWriter, r *http.Request) {
	chatJID := chi.URLParam(r, "chatJID")
	id := chi.URLParam(r, "id")

	before := queryInt(r, "before", 5)
	after := queryInt(r, "after", 5)
	if before < 0 || after < 0 || before > 100 || after > 100 {
		writeError(w, http.StatusBadRequest, "invalid_window", "before/after must be between 0 and 100")
		return
	}

	mctx, err := s.executor.MessageContext(r.Context(), chatJID, id, before, after)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if mctx == nil {
		writeError(w, http.StatusNotFound, "not_found", "Message not found")
		return
	}

	writeJSON(w, http.StatusOK, ContextResponse{
		Message: toMessageJSON(mctx.Message),
		Before:  toMessageJSONs(mctx.Before),
		After:   toMessageJSONs(mctx.After),
	})
}

// handleListChats returns chats ordered by recent activity.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 500 {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
		return
	}

	chats, err := s.store.ListChats(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	out := make([]ChatJSON, len(chats))
	for i, c := range chats {
		out[i] = toChatJSON(c)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chats": out})
}

// handleSearchChats searches chats by name or JID substring.
func (s *Server) handleSearchChats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 500 {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
		return
	}

	chats, err := s.store.SearchChats(r.Context(), q, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	out := make([]ChatJSON, len(chats))
	for i, c := range chats {
		out[i] = toChatJSON(c)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"query": q, "chats": out})
}

// handleGetChat returns a single chat by JID.
func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	jid := chi.URLParam(r, "jid")
	chat, err := s.store.GetChat(r.Context(), jid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if chat == nil {
		writeError(w, http.StatusNotFound, "not_found", "Chat not found")
		return
	}
	writeJSON(w, http.StatusOK, toChatJSON(*chat))
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	Filter      filter.Spec `json:"filter"`
	QueryType   string      `json:"query_type,omitempty"`
	CustomQuery string      `json:"custom_query,omitempty"`
	MaxMessages int         `json:"max_messages,omitempty"`
}

// handleAnalyze runs an LLM analysis over filtered messages.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis_unavailable", "Analysis backend not configured")
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be a JSON analysis request")
		return
	}

	result, err := s.analyzer.Analyze(r.Context(), analyze.Request{
		Filter:      req.Filter,
		QueryType:   analyze.QueryType(req.QueryType),
		CustomQuery: req.CustomQuery,
		MaxMessages: req.MaxMessages,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DailyAnalyzeRequest is the body of POST /analyze/daily. Date is optional
// and defaults to today.
type DailyAnalyzeRequest struct {
	Date string `json:"date,omitempty"` // "2006-01-02"
}

// handleAnalyzeDaily summarizes one calendar day across all chats.
func (s *Server) handleAnalyzeDaily(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis_unavailable", "Analysis backend not configured")
		return
	}

	var req DailyAnalyzeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be a JSON daily-summary request")
			return
		}
	}

	day := time.Now().UTC()
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "Date must be formatted as 2006-01-02")
			return
		}
		day = parsed
	}

	result, err := s.analyzer.DailySummary(r.Context(), day)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ContactAnalyzeRequest is the body of POST /analyze/contact.
type ContactAnalyzeRequest struct {
	ChatJID string `json:"chat_jid"`
	Days    int    `json:"days,omitempty"` // lookback, default 7
}

// handleAnalyzeContact summarizes one chat's recent history.
func (s *Server) handleAnalyzeContact(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis_unavailable", "Analysis backend not configured")
		return
	}

	var req ContactAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be a JSON contact-summary request")
		return
	}
	if req.ChatJID == "" {
		writeError(w, http.StatusBadRequest, "missing_chat_jid", "chat_jid is required")
		return
	}

	result, err := s.analyzer.ContactSummary(r.Context(), req.ChatJID, req.Days)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DigestsResponse lists scheduled digests and their latest results.
type DigestsResponse struct {
	Running bool            `json:"running"`
	Digests []digest.Status `json:"digests"`
}

// handleListDigests returns the status of all scheduled digests.
func (s *Server) handleListDigests(w http.ResponseWriter, r *http.Request) {
	if s.digests == nil {
		writeError(w, http.StatusServiceUnavailable, "digests_unavailable", "Digest scheduler not configured")
		return
	}
	writeJSON(w, http.StatusOK, DigestsResponse{
		Running: s.digests.IsRunning(),
		Digests: s.digests.StatusAll(),
	})
}

// handleGetDigest returns the latest result of one digest.
func (s *Server) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	if s.digests == nil {
		writeError(w, http.StatusServiceUnavailable, "digests_unavailable", "Digest scheduler not configured")
		return
	}
	name := chi.URLParam(r, "name")
	result, ok := s.digests.Latest(name)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "No result for digest "+name)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRunDigest triggers a digest outside its schedule.
func (s *Server) handleRunDigest(w http.ResponseWriter, r *http.Request) {
	if s.digests == nil {
		writeError(w, http.StatusServiceUnavailable, "digests_unavailable", "Digest scheduler not configured")
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.digests.Trigger(name); err != nil {
		writeError(w, http.StatusConflict, "digest_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Digest started: " + name,
	})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
