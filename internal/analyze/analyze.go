// Package analyze turns filtered slices of the archive into LLM analysis
// requests: it gathers the most recent matching messages, renders them as a
// plain-text transcript, and asks a summarization backend a typed question
// about them.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mpontes/wavault/internal/filter"
	"github.com/mpontes/wavault/internal/store"
)

// QueryType selects the built-in analysis prompt.
type QueryType string

const (
	QuerySummarize   QueryType = "summarize"
	QueryTopics      QueryType = "topics"
	QuerySentiment   QueryType = "sentiment"
	QueryActionItems QueryType = "action_items"
	QueryCustom      QueryType = "custom"
)

// DefaultMaxMessages bounds how many messages feed a single analysis when
// the request does not say.
const DefaultMaxMessages = 100

var (
	// ErrInvalidRequest marks analysis requests that cannot be executed as
	// stated (unknown query type, missing custom query, oversized budget).
	ErrInvalidRequest = errors.New("invalid analysis request")

	// ErrSummarizationTimeout is returned when the backend did not answer
	// within the analyzer's deadline.
	ErrSummarizationTimeout = errors.New("summarization timed out")

	// ErrSummarizationFailed wraps every other backend failure.
	ErrSummarizationFailed = errors.New("summarization failed")
)

// Summarizer produces a free-form completion for a prompt. Implementations
// must honor ctx cancellation.
type Summarizer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Request describes one analysis: which messages (Filter), how many at most,
// and what to ask about them.
type Request struct {
	Filter      filter.Spec
	QueryType   QueryType
	CustomQuery string
	MaxMessages int

	// Period overrides the derived time-period label when set.
	Period string
}

// Result is a completed analysis.
type Result struct {
	Analysis     string    `json:"analysis"`
	QueryType    QueryType `json:"query_type"`
	MessageCount int       `json:"message_count"`
	Period       string    `json:"period"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Analyzer gathers messages and drives the summarization backend.
type Analyzer struct {
	store   *store.Store
	llm     Summarizer
	timeout time.Duration
	logger  *slog.Logger
}

// NewAnalyzer creates an analyzer. timeout bounds each backend call; values
// at or below zero fall back to one minute.
func NewAnalyzer(s *store.Store, llm Summarizer, timeout time.Duration, logger *slog.Logger) *Analyzer {
	if timeout <= 0 {
		timeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{store: s, llm: llm, timeout: timeout, logger: logger}
}

// Prompts for the built-in query types.
const (
	summarizePrompt = `Provide a concise summary of these messages including:
- Key topics discussed
- Important decisions or agreements
- Action items (if any)
- Overall sentiment of the conversation`

	topicsPrompt = `Extract the main topics discussed in these messages.
For each topic, provide a brief description and context.
Format as a numbered list.`

	sentimentPrompt = `Analyze the overall sentiment of this conversation:
- What is the dominant emotion/tone?
- Are there any significant mood shifts?
- Any conflicts or positive interactions?
Provide a detailed but concise analysis.`

	actionItemsPrompt = `Extract any action items, tasks, or to-dos mentioned in these messages:
- What needs to be done?
- Who is responsible? (if mentioned)
- Any deadlines mentioned?
Format as a numbered checklist.`
)

func promptFor(req Request) (string, error) {
	switch req.QueryType {
	case QuerySummarize, "":
		return summarizePrompt, nil
	case QueryTopics:
		return topicsPrompt, nil
	case QuerySentiment:
		return sentimentPrompt, nil
	case QueryActionItems:
		return actionItemsPrompt, nil
	case QueryCustom:
		if req.CustomQuery == "" {
			return "", fmt.Errorf("%w: custom query type without a query", ErrInvalidRequest)
		}
		return req.CustomQuery, nil
	default:
		return "", fmt.Errorf("%w: unknown query type %q", ErrInvalidRequest, req.QueryType)
	}
}

// Analyze runs one analysis end to end. An empty gather is not an error: the
// result states that nothing matched, with a zero message count.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	question, err := promptFor(req)
	if err != nil {
		return nil, err
	}

	maxMessages := req.MaxMessages
	switch {
	case maxMessages == 0:
		maxMessages = DefaultMaxMessages
	case maxMessages < 0:
		return nil, fmt.Errorf("%w: max_messages must be positive", ErrInvalidRequest)
	case maxMessages > filter.MaxPageSize:
		return nil, fmt.Errorf("%w: max_messages above limit %d", ErrInvalidRequest, filter.MaxPageSize)
	}

	// The message budget doubles as the scan bound, so otherwise-unbounded
	// filters are acceptable here.
	spec := req.Filter
	spec.PageSize = maxMessages
	spec.Descending = true
	plan, err := filter.Compile(ctx, spec, a.store)
	if err != nil {
		return nil, err
	}

	msgs, err := gather(ctx, a.store, plan.Query, maxMessages)
	if err != nil {
		return nil, err
	}

	period := req.Period
	if period == "" {
		period = periodLabel(plan.Query.After, plan.Query.Before)
	}

	result := &Result{
		QueryType:    req.QueryType,
		MessageCount: len(msgs),
		Period:       period,
		GeneratedAt:  time.Now().UTC(),
	}
	if result.QueryType == "" {
		result.QueryType = QuerySummarize
	}
	if len(msgs) == 0 {
		result.Analysis = "No messages found for the specified criteria."
		return result, nil
	}

	prompt := fmt.Sprintf(`Analyze the following WhatsApp messages from %s:

%s

%s

Please provide a clear, concise analysis.`, period, Transcript(msgs), question)

	llmCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	analysis, err := a.llm.Complete(llmCtx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrSummarizationTimeout, a.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
	}
	a.logger.Debug("analysis complete",
		"query_type", result.QueryType,
		"messages", len(msgs),
		"elapsed", time.Since(start).Round(time.Millisecond))

	result.Analysis = analysis
	return result, nil
}

// DailySummary summarizes all messages from one calendar day (UTC).
func (a *Analyzer) DailySummary(ctx context.Context, day time.Time) (*Result, error) {
	day = day.UTC().Truncate(24 * time.Hour)
	// Timestamp bounds are inclusive, so the upper bound sits a nanosecond
	// short of midnight to keep sub-second rows at the end of the day in.
	return a.Analyze(ctx, Request{
		Filter: filter.Spec{
			After:  day.Format(time.RFC3339Nano),
			Before: day.Add(24*time.Hour - time.Nanosecond).Format(time.RFC3339Nano),
		},
		QueryType: QuerySummarize,
		Period:    day.Format("2006-01-02"),
	})
}

// ContactSummary summarizes the last days of conversation with one chat.
// days at or below zero means a week.
func (a *Analyzer) ContactSummary(ctx context.Context, chatJID string, days int) (*Result, error) {
	if days <= 0 {
		days = 7
	}

	name := chatJID
	if chat, err := a.store.GetChat(ctx, chatJID); err == nil && chat != nil {
		name = chat.DisplayName()
	}

	after := time.Now().UTC().AddDate(0, 0, -days)
	return a.Analyze(ctx, Request{
		Filter: filter.Spec{
			ChatJID: chatJID,
			After:   after.Format("2006-01-02 15:04:05"),
		},
		QueryType: QuerySummarize,
		Period:    fmt.Sprintf("%s: last %d days", name, days),
	})
}

// gather fetches the newest matching messages up to limit and returns them in
// chronological order. When more messages match than fit the budget, the
// oldest are the ones dropped.
func gather(ctx context.Context, s *store.Store, q store.MessageQuery, limit int) ([]store.Message, error) {
	msgs, err := s.MessagesMatching(ctx, q, nil, true, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func periodLabel(after, before *time.Time) string {
	if after != nil && before != nil {
		return fmt.Sprintf("%s to %s", after.Format("2006-01-02"), before.Format("2006-01-02"))
	}
	return "recent messages"
}
