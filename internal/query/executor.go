// Package query executes compiled filter plans against the message store,
// producing bounded, ordered result pages with keyset cursors.
package query

import (
	"context"
	"fmt"

	"github.com/mpontes/wavault/internal/filter"
	"github.com/mpontes/wavault/internal/store"
)

// Page is one bounded slice of a result set. NextCursor is set only when
// HasMore is true; passing it back continues strictly past the last item,
// which stays correct while the bridge appends new rows in between.
type Page struct {
	Items      []store.Message `json:"items"`
	HasMore    bool            `json:"has_more"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Context is a message surrounded by its chat neighbors, both sides in
// chronological order.
type Context struct {
	Message store.Message   `json:"message"`
	Before  []store.Message `json:"before"`
	After   []store.Message `json:"after"`
}

// Executor runs plans against a store.
type Executor struct {
	store *store.Store
}

// NewExecutor creates an executor backed by the given store.
func NewExecutor(s *store.Store) *Executor {
	return &Executor{store: s}
}

// Execute returns the page of plan results past cursorToken. HasMore is
// determined by fetching one row beyond the page size. Store failures
// surface immediately; one-shot queries are never retried here.
func (e *Executor) Execute(ctx context.Context, plan *filter.Plan, cursorToken string) (*Page, error) {
	cursor, err := filter.DecodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}

	msgs, err := e.store.MessagesMatching(ctx, plan.Query, cursor, plan.Descending, plan.PageSize+1)
	if err != nil {
		return nil, fmt.Errorf("execute plan: %w", err)
	}

	page := &Page{}
	if len(msgs) > plan.PageSize {
		page.HasMore = true
		msgs = msgs[:plan.PageSize]
	}
	page.Items = msgs
	if page.HasMore {
		page.NextCursor = filter.EncodeCursor(msgs[len(msgs)-1].Key())
	}
	return page, nil
}

// MessageContext returns the message and up to before/after neighbors from
// the same chat. A missing message yields nil, not an error.
func (e *Executor) MessageContext(ctx context.Context, chatJID, id string, before, after int) (*Context, error) {
	msg, err := e.store.GetMessage(ctx, chatJID, id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}

	preceding, following, err := e.store.MessagesAround(ctx, *msg, before, after)
	if err != nil {
		return nil, err
	}
	return &Context{Message: *msg, Before: preceding, After: following}, nil
}
