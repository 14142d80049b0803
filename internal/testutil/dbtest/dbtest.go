// Package dbtest builds in-memory copies of the bridge database for tests.
// It loads the schema shipped with internal/store and offers builder helpers
// for seeding chats and messages, so test packages do not hand-write SQL.
package dbtest

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mpontes/wavault/internal/store"
)

// TestDB wraps a *sql.DB with seeding helpers.
type TestDB struct {
	DB *sql.DB
	T  testing.TB

	nextMsgSeq int
}

// New creates an in-memory SQLite database with the bridge schema loaded.
func New(t testing.TB) *TestDB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Each pooled connection would otherwise see its own empty :memory: DB.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(store.Schema()); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	return &TestDB{DB: db, T: t}
}

// AddChat inserts a chat row.
func (d *TestDB) AddChat(jid, name string, lastMessage time.Time) {
	d.T.Helper()
	_, err := d.DB.Exec(`
		INSERT INTO chats (jid, name, last_message_time) VALUES (?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET name = excluded.name,
			last_message_time = excluded.last_message_time`,
		jid, name, lastMessage.UTC())
	if err != nil {
		d.T.Fatalf("insert chat %s: %v", jid, err)
	}
}

// MsgOpt mutates a message row before insertion.
type MsgOpt func(*msgRow)

type msgRow struct {
	id        string
	sender    string
	content   string
	fromMe    bool
	mediaType string
}

// WithID overrides the generated message ID.
func WithID(id string) MsgOpt { return func(m *msgRow) { m.id = id } }

// WithSender sets the sender JID.
func WithSender(sender string) MsgOpt { return func(m *msgRow) { m.sender = sender } }

// FromMe marks the message as outbound.
func FromMe() MsgOpt { return func(m *msgRow) { m.fromMe = true } }

// WithMedia sets the media kind.
func WithMedia(kind string) MsgOpt { return func(m *msgRow) { m.mediaType = kind } }

// AddMessage inserts a message row into the given chat and returns its ID.
// IDs are generated in insertion order ("MSG0001", ...) so the (timestamp, id)
// sort matches insertion order when timestamps collide.
func (d *TestDB) AddMessage(chatJID, content string, ts time.Time, opts ...MsgOpt) string {
	d.T.Helper()

	d.nextMsgSeq++
	row := msgRow{
		id:      fmt.Sprintf("MSG%04d", d.nextMsgSeq),
		sender:  "5511000000000@s.whatsapp.net",
		content: content,
	}
	for _, opt := range opts {
		opt(&row)
	}

	_, err := d.DB.Exec(`
		INSERT INTO messages (id, chat_jid, sender, content, timestamp, is_from_me, media_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.id, chatJID, row.sender, row.content, ts.UTC(), row.fromMe, row.mediaType)
	if err != nil {
		d.T.Fatalf("insert message %s: %v", row.id, err)
	}
	return row.id
}

// MustNoErr fails the test when err is non-nil.
func MustNoErr(t testing.TB, err error, what string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", what, err)
	}
}
