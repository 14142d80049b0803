package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const messageColumns = `
	m.id, m.chat_jid, m.sender, COALESCE(m.content, ''), m.timestamp,
	m.is_from_me, COALESCE(m.media_type, ''), COALESCE(c.name, '')`

const messageFrom = `
	FROM messages m
	LEFT JOIN chats c ON c.jid = m.chat_jid`

// escapeLike escapes LIKE metacharacters so user keywords match literally.
// Queries using it must carry ESCAPE '\'.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// buildMessageConditions converts a MessageQuery into WHERE conditions and args.
func buildMessageConditions(q MessageQuery) ([]string, []any) {
	conditions := []string{"1=1"}
	var args []any

	if q.ChatJIDs != nil {
		placeholders := make([]string, len(q.ChatJIDs))
		for i, jid := range q.ChatJIDs {
			placeholders[i] = "?"
			args = append(args, jid)
		}
		conditions = append(conditions, fmt.Sprintf("m.chat_jid IN (%s)", strings.Join(placeholders, ",")))
	}

	if q.Sender != "" {
		conditions = append(conditions, "m.sender = ?")
		args = append(args, q.Sender)
	}

	// Both bounds are inclusive: after == before selects exactly that instant.
	if q.After != nil {
		conditions = append(conditions, "m.timestamp >= ?")
		args = append(args, q.After.UTC())
	}
	if q.Before != nil {
		conditions = append(conditions, "m.timestamp <= ?")
		args = append(args, q.Before.UTC())
	}

	if len(q.Keywords) > 0 {
		kw := make([]string, len(q.Keywords))
		for i, term := range q.Keywords {
			kw[i] = `LOWER(m.content) LIKE ? ESCAPE '\'`
			args = append(args, "%"+escapeLike(strings.ToLower(term))+"%")
		}
		joiner := " OR "
		if q.AllKeywords {
			joiner = " AND "
		}
		conditions = append(conditions, "("+strings.Join(kw, joiner)+")")
	}

	if q.MediaOnly {
		conditions = append(conditions, "m.media_type != ''")
	}

	if q.FromMe != nil {
		conditions = append(conditions, "m.is_from_me = ?")
		args = append(args, *q.FromMe)
	}

	return conditions, args
}

// MessagesMatching returns up to limit rows matching q, ordered by
// (timestamp, id), starting strictly past the cursor when one is given.
// Keyset pagination stays correct while the bridge appends concurrently;
// an offset would not.
func (s *Store) MessagesMatching(ctx context.Context, q MessageQuery, cursor *Key, descending bool, limit int) ([]Message, error) {
	// A chat filter that resolved to zero chats matches nothing.
	if q.ChatJIDs != nil && len(q.ChatJIDs) == 0 {
		return nil, nil
	}

	conditions, args := buildMessageConditions(q)

	if cursor != nil {
		op := ">"
		if descending {
			op = "<"
		}
		conditions = append(conditions, fmt.Sprintf("(m.timestamp %s ? OR (m.timestamp = ? AND m.id %s ?))", op, op))
		ts := cursor.Timestamp.UTC()
		args = append(args, ts, ts, cursor.ID)
	}

	order := "m.timestamp ASC, m.id ASC"
	if descending {
		order = "m.timestamp DESC, m.id DESC"
	}

	query := fmt.Sprintf(`SELECT %s %s WHERE %s ORDER BY %s LIMIT ?`,
		messageColumns, messageFrom, strings.Join(conditions, " AND "), order)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	return scanMessages(rows)
}

// MessagesNewerThan returns up to limit rows with timestamp strictly after
// since, in (timestamp, id) ascending order. The change detector polls with
// this; de-duplication against the watermark happens there.
func (s *Store) MessagesNewerThan(ctx context.Context, since time.Time, limit int) ([]Message, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE m.timestamp > ? ORDER BY m.timestamp ASC, m.id ASC LIMIT ?`,
		messageColumns, messageFrom)

	rows, err := s.db.QueryContext(ctx, query, since.UTC(), limit)
	if err != nil {
		return nil, unavailable("poll messages", err)
	}
	return scanMessages(rows)
}

// LatestMessageKey returns the key of the newest stored row, or nil when the
// archive is empty. Subscriber watermarks are primed from it.
func (s *Store) LatestMessageKey(ctx context.Context) (*Key, error) {
	var k Key
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp, id FROM messages
		ORDER BY timestamp DESC, id DESC LIMIT 1`).
		Scan(&k.Timestamp, &k.ID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("latest message", err)
	}
	k.Timestamp = k.Timestamp.UTC()
	return &k, nil
}

// GetMessage returns a single message, or nil when no row matches.
func (s *Store) GetMessage(ctx context.Context, chatJID, id string) (*Message, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE m.chat_jid = ? AND m.id = ?`, messageColumns, messageFrom)

	var m Message
	err := s.db.QueryRowContext(ctx, query, chatJID, id).Scan(
		&m.ID, &m.ChatJID, &m.Sender, &m.Content, &m.Timestamp,
		&m.IsFromMe, &m.MediaType, &m.ChatName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get message", err)
	}
	m.Timestamp = m.Timestamp.UTC()
	return &m, nil
}

// MessagesAround returns up to before rows preceding and after rows
// following the given message within its chat, both in chronological order.
func (s *Store) MessagesAround(ctx context.Context, target Message, before, after int) (preceding, following []Message, err error) {
	base := fmt.Sprintf(`SELECT %s %s WHERE m.chat_jid = ? AND (m.timestamp %%s ? OR (m.timestamp = ? AND m.id %%s ?)) ORDER BY m.timestamp %%s, m.id %%s LIMIT ?`,
		messageColumns, messageFrom)
	ts := target.Timestamp.UTC()

	if before > 0 {
		query := fmt.Sprintf(base, "<", "<", "DESC", "DESC")
		rows, qerr := s.db.QueryContext(ctx, query, target.ChatJID, ts, ts, target.ID, before)
		if qerr != nil {
			return nil, nil, unavailable("message context", qerr)
		}
		preceding, err = scanMessages(rows)
		if err != nil {
			return nil, nil, err
		}
		reverseMessages(preceding)
	}

	if after > 0 {
		query := fmt.Sprintf(base, ">", ">", "ASC", "ASC")
		rows, qerr := s.db.QueryContext(ctx, query, target.ChatJID, ts, ts, target.ID, after)
		if qerr != nil {
			return nil, nil, unavailable("message context", qerr)
		}
		following, err = scanMessages(rows)
		if err != nil {
			return nil, nil, err
		}
	}

	return preceding, following, nil
}

func reverseMessages(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.ChatJID, &m.Sender, &m.Content, &m.Timestamp,
			&m.IsFromMe, &m.MediaType, &m.ChatName,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate messages", err)
	}
	return msgs, nil
}
