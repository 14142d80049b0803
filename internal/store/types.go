package store

import "time"

// Key is the total order over the message table: (timestamp, id) ascending,
// ties broken by id. Pagination cursors and subscriber watermarks are Keys.
type Key struct {
	Timestamp time.Time
	ID        string
}

// Before reports whether k sorts strictly before other.
func (k Key) Before(other Key) bool {
	if !k.Timestamp.Equal(other.Timestamp) {
		return k.Timestamp.Before(other.Timestamp)
	}
	return k.ID < other.ID
}

// After reports whether k sorts strictly after other.
func (k Key) After(other Key) bool {
	return other.Before(k)
}

// Message is one row of the bridge's message table. Rows are immutable once
// written; wavault never mutates them.
type Message struct {
	ID        string    `json:"id"`
	ChatJID   string    `json:"chat_jid"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsFromMe  bool      `json:"is_from_me"`
	MediaType string    `json:"media_type,omitempty"` // "", "image", "video", "audio", "document"

	// ChatName is the display name of the owning chat, resolved at read
	// time. It can change when the bridge updates contact info; the
	// message stream itself is unaffected.
	ChatName string `json:"chat_name,omitempty"`
}

// Key returns the sort key of the message.
func (m Message) Key() Key {
	return Key{Timestamp: m.Timestamp, ID: m.ID}
}

// Chat is one row of the bridge's chat table.
type Chat struct {
	JID             string    `json:"jid"`
	Name            string    `json:"name"`
	IsGroup         bool      `json:"is_group"`
	LastMessageTime time.Time `json:"last_message_time"`
}

// DisplayName falls back to the JID when the bridge has no name yet.
func (c Chat) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.JID
}

// MessageQuery describes which message rows to select. A nil ChatJIDs means
// "any chat"; an empty non-nil slice matches nothing (a fuzzy chat-name
// filter that resolved to zero chats).
type MessageQuery struct {
	ChatJIDs    []string
	Sender      string
	After       *time.Time
	Before      *time.Time
	Keywords    []string
	AllKeywords bool // false: any keyword matches; true: all must match
	MediaOnly   bool
	FromMe      *bool
}

// Stats summarizes the archive.
type Stats struct {
	MessageCount int64     `json:"message_count"`
	ChatCount    int64     `json:"chat_count"`
	Earliest     time.Time `json:"earliest"`
	Latest       time.Time `json:"latest"`
}
