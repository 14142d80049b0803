// Package filter compiles heterogeneous, partially-specified filter requests
// into normalized query plans. Compilation is a pure function of its input
// plus one chat-name resolution against the store; it performs no other I/O.
package filter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mpontes/wavault/internal/store"
)

// MatchMode selects how a keyword set combines. The zero value is treated as
// MatchAny; call sites that rely on the default say so explicitly.
type MatchMode string

const (
	// MatchAny matches messages containing at least one keyword.
	MatchAny MatchMode = "any"
	// MatchAll matches messages containing every keyword.
	MatchAll MatchMode = "all"
)

// Direction filters by message direction.
type Direction string

const (
	DirectionAny      Direction = ""
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

const (
	// DefaultPageSize bounds plans that do not ask for a size.
	DefaultPageSize = 100
	// MaxPageSize is the hard ceiling; larger requests are rejected, not
	// clamped, so callers never silently get less than they asked for.
	MaxPageSize = 1000
)

// Spec is an ephemeral, per-request filter description. Timestamps arrive as
// strings so transport layers can hand them through untouched; Compile owns
// parsing and normalization.
type Spec struct {
	After     string    `json:"after,omitempty"`
	Before    string    `json:"before,omitempty"`
	ChatJID   string    `json:"chat_jid,omitempty"`
	ChatName  string    `json:"chat_name,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Keywords  []string  `json:"keywords,omitempty"`
	MatchMode MatchMode `json:"match_mode,omitempty"`
	MediaOnly bool      `json:"media_only,omitempty"`
	Direction Direction `json:"direction,omitempty"`

	// Descending asks for most-recent-first ordering.
	Descending bool `json:"descending,omitempty"`

	// PageSize of 0 means DefaultPageSize. Setting it explicitly also
	// satisfies the unbounded-scan check for otherwise open filters.
	PageSize int `json:"page_size,omitempty"`
}

// Plan is the validated, normalized form of a Spec.
type Plan struct {
	Query      store.MessageQuery
	PageSize   int
	Descending bool
}

// ErrInvalidFilter marks malformed or contradictory filter input.
var ErrInvalidFilter = errors.New("invalid filter")

// InvalidFilterError reports which field failed and why.
type InvalidFilterError struct {
	Field  string
	Reason string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter: %s: %s", e.Field, e.Reason)
}

// Is reports true for ErrInvalidFilter.
func (e *InvalidFilterError) Is(target error) bool { return target == ErrInvalidFilter }

func invalid(field, reason string) error {
	return &InvalidFilterError{Field: field, Reason: reason}
}

// ChatResolver resolves a fuzzy chat-name pattern to candidate chat JIDs.
// *store.Store satisfies it.
type ChatResolver interface {
	ResolveChatJIDs(ctx context.Context, namePattern string) ([]string, error)
}

// timestampLayouts are accepted on the wire, tried in order. Layouts without
// a zone are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(field, value string) (*time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			u := t.UTC()
			return &u, nil
		}
	}
	return nil, invalid(field, fmt.Sprintf("cannot parse timestamp %q", value))
}

// Compile validates and normalizes a Spec into a Plan.
//
// Chat selection: an exact JID always wins; the name pattern is only
// consulted when no JID was given. A pattern matching zero chats produces a
// plan whose result set is empty, not an error, matching the behavior for an
// explicitly nonexistent JID.
func Compile(ctx context.Context, spec Spec, chats ChatResolver) (*Plan, error) {
	plan := &Plan{
		PageSize:   DefaultPageSize,
		Descending: spec.Descending,
	}

	if spec.PageSize < 0 {
		return nil, invalid("page_size", "must be positive")
	}
	if spec.PageSize > MaxPageSize {
		return nil, invalid("page_size", fmt.Sprintf("exceeds maximum of %d", MaxPageSize))
	}
	if spec.PageSize > 0 {
		plan.PageSize = spec.PageSize
	}

	if spec.After != "" {
		t, err := parseTimestamp("after", spec.After)
		if err != nil {
			return nil, err
		}
		plan.Query.After = t
	}
	if spec.Before != "" {
		t, err := parseTimestamp("before", spec.Before)
		if err != nil {
			return nil, err
		}
		plan.Query.Before = t
	}
	if plan.Query.After != nil && plan.Query.Before != nil && plan.Query.After.After(*plan.Query.Before) {
		return nil, invalid("after", "time-after is later than time-before")
	}

	switch spec.MatchMode {
	case "", MatchAny:
		plan.Query.AllKeywords = false
	case MatchAll:
		plan.Query.AllKeywords = true
	default:
		return nil, invalid("match_mode", fmt.Sprintf("unknown mode %q", spec.MatchMode))
	}
	plan.Query.Keywords = normalizeKeywords(spec.Keywords)

	switch spec.Direction {
	case DirectionAny:
	case DirectionInbound:
		fromMe := false
		plan.Query.FromMe = &fromMe
	case DirectionOutbound:
		fromMe := true
		plan.Query.FromMe = &fromMe
	default:
		return nil, invalid("direction", fmt.Sprintf("unknown direction %q", spec.Direction))
	}

	plan.Query.Sender = spec.Sender
	plan.Query.MediaOnly = spec.MediaOnly

	switch {
	case spec.ChatJID != "":
		plan.Query.ChatJIDs = []string{spec.ChatJID}
	case spec.ChatName != "":
		jids, err := chats.ResolveChatJIDs(ctx, spec.ChatName)
		if err != nil {
			return nil, fmt.Errorf("resolve chat name: %w", err)
		}
		plan.Query.ChatJIDs = jids
	}

	if !bounded(spec) && spec.PageSize == 0 {
		return nil, invalid("filter", "unbounded filter: set a time bound, chat selector or keywords, or an explicit page_size")
	}

	return plan, nil
}

// bounded reports whether the spec narrows the scan enough to run without an
// explicit result budget.
func bounded(spec Spec) bool {
	return spec.After != "" || spec.Before != "" ||
		spec.ChatJID != "" || spec.ChatName != "" ||
		len(spec.Keywords) > 0
}

func normalizeKeywords(keywords []string) []string {
	var out []string
	for _, k := range keywords {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
