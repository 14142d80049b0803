package store

import (
	"context"
	"database/sql"
	"strings"
)

const groupJIDSuffix = "@g.us"

// chatColumns selects raw columns. Wrapping them in expressions would strip
// the declared column type the sqlite driver needs to produce time.Time
// values, so NULL handling happens Go-side in finishChat.
const chatColumns = `c.jid, c.name, c.last_message_time`

// ListChats returns chats sorted by last activity, most recent first.
func (s *Store) ListChats(ctx context.Context, limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats c
		ORDER BY c.last_message_time DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("list chats", err)
	}
	return scanChats(rows)
}

// GetChat returns a single chat by JID, or nil when no row matches.
func (s *Store) GetChat(ctx context.Context, jid string) (*Chat, error) {
	var (
		c    Chat
		name sql.NullString
		last sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats c
		WHERE c.jid = ?`, jid).
		Scan(&c.JID, &name, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get chat", err)
	}
	finishChat(&c, name, last)
	return &c, nil
}

// SearchChats finds chats whose display name or JID contains the pattern,
// case-insensitively. An empty pattern lists everything up to limit.
func (s *Store) SearchChats(ctx context.Context, pattern string, limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	like := "%" + escapeLike(strings.ToLower(pattern)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats c
		WHERE LOWER(COALESCE(c.name, '')) LIKE ? ESCAPE '\' OR LOWER(c.jid) LIKE ? ESCAPE '\'
		ORDER BY c.last_message_time DESC
		LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, unavailable("search chats", err)
	}
	return scanChats(rows)
}

// ResolveChatJIDs returns the JIDs of chats whose display name contains the
// pattern, case-insensitively. Zero matches yields an empty non-nil slice so
// callers can distinguish "no filter" from "filter matched nothing".
func (s *Store) ResolveChatJIDs(ctx context.Context, namePattern string) ([]string, error) {
	like := "%" + escapeLike(strings.ToLower(namePattern)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.jid
		FROM chats c
		WHERE LOWER(COALESCE(c.name, '')) LIKE ? ESCAPE '\'`, like)
	if err != nil {
		return nil, unavailable("resolve chats", err)
	}
	defer rows.Close()

	jids := []string{}
	for rows.Next() {
		var jid string
		if err := rows.Scan(&jid); err != nil {
			return nil, unavailable("resolve chats", err)
		}
		jids = append(jids, jid)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("resolve chats", err)
	}
	return jids, nil
}

// Stats summarizes the archive for health and tooling output.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.MessageCount); err != nil {
		return nil, unavailable("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&st.ChatCount); err != nil {
		return nil, unavailable("stats", err)
	}
	if st.MessageCount > 0 {
		// MIN/MAX expressions lose the declared column type, so bound
		// timestamps come from plain column selects instead.
		err := s.db.QueryRowContext(ctx,
			`SELECT timestamp FROM messages ORDER BY timestamp ASC LIMIT 1`).Scan(&st.Earliest)
		if err != nil {
			return nil, unavailable("stats", err)
		}
		err = s.db.QueryRowContext(ctx,
			`SELECT timestamp FROM messages ORDER BY timestamp DESC LIMIT 1`).Scan(&st.Latest)
		if err != nil {
			return nil, unavailable("stats", err)
		}
		st.Earliest = st.Earliest.UTC()
		st.Latest = st.Latest.UTC()
	}
	return &st, nil
}

func scanChats(rows *sql.Rows) ([]Chat, error) {
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var (
			c    Chat
			name sql.NullString
			last sql.NullTime
		)
		if err := rows.Scan(&c.JID, &name, &last); err != nil {
			return nil, unavailable("scan chat", err)
		}
		finishChat(&c, name, last)
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate chats", err)
	}
	return chats, nil
}

func finishChat(c *Chat, name sql.NullString, last sql.NullTime) {
	c.Name = name.String
	if last.Valid {
		c.LastMessageTime = last.Time.UTC()
	}
	c.IsGroup = strings.HasSuffix(c.JID, groupJIDSuffix)
}
