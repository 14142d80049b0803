// devdata fabricates a bridge-compatible messages.db for development, so
// wavault serve and watch can be exercised without a running bridge. It can
// also keep appending messages to simulate live bridge writes.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mpontes/wavault/internal/store"
)

var (
	dbPath   = flag.String("db", "messages.db", "database file to create or append to")
	chats    = flag.Int("chats", 5, "number of chats to seed")
	messages = flag.Int("messages", 200, "number of messages to seed")
	days     = flag.Int("days", 14, "spread seeded messages over this many days")
	follow   = flag.Duration("follow", 0, "after seeding, append a message at this interval (0 disables)")
)

var sampleNames = []string{
	"Alice", "Bob", "Carol", "Dave", "Erin",
	"Family Group", "Weekend Plans", "Book Club", "Work Chat",
}

var sampleLines = []string{
	"are we still on for tomorrow?",
	"sure, noon works for me",
	"running 10 minutes late",
	"did you see the photos?",
	"happy birthday!!",
	"can you send me the address",
	"on my way",
	"let's do the picnic on saturday",
	"ok",
	"call me when you're free",
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "devdata: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	db, err := sql.Open("sqlite3", *dbPath+"?_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("open %s: %w", *dbPath, err)
	}
	defer db.Close()

	if _, err := db.Exec(store.Schema()); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	jids, err := seedChats(db)
	if err != nil {
		return err
	}
	if err := seedMessages(db, jids); err != nil {
		return err
	}
	fmt.Printf("seeded %d chats, %d messages into %s\n", len(jids), *messages, *dbPath)

	if *follow <= 0 {
		return nil
	}
	fmt.Printf("appending a message every %s, Ctrl+C to stop\n", *follow)
	for {
		time.Sleep(*follow)
		jid := jids[rand.Intn(len(jids))]
		if err := insertMessage(db, jid, time.Now().UTC()); err != nil {
			return err
		}
	}
}

func seedChats(db *sql.DB) ([]string, error) {
	n := *chats
	if n > len(sampleNames) {
		n = len(sampleNames)
	}
	jids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		jid := fmt.Sprintf("55119%07d@s.whatsapp.net", 1000000+i)
		if i%3 == 2 {
			jid = fmt.Sprintf("1203630011223%04d@g.us", i)
		}
		_, err := db.Exec(`
			INSERT INTO chats (jid, name, last_message_time) VALUES (?, ?, ?)
			ON CONFLICT(jid) DO NOTHING`,
			jid, sampleNames[i], time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("insert chat: %w", err)
		}
		jids = append(jids, jid)
	}
	return jids, nil
}

func seedMessages(db *sql.DB, jids []string) error {
	span := time.Duration(*days) * 24 * time.Hour
	start := time.Now().UTC().Add(-span)
	for i := 0; i < *messages; i++ {
		ts := start.Add(time.Duration(rand.Int63n(int64(span))))
		if err := insertMessage(db, jids[rand.Intn(len(jids))], ts); err != nil {
			return err
		}
	}
	return nil
}

func insertMessage(db *sql.DB, chatJID string, ts time.Time) error {
	fromMe := rand.Intn(2) == 0
	sender := ""
	if !fromMe {
		sender = chatJID
	}
	media := ""
	content := sampleLines[rand.Intn(len(sampleLines))]
	if rand.Intn(12) == 0 {
		media = "image"
		content = ""
	}
	_, err := db.Exec(`
		INSERT INTO messages (id, chat_jid, sender, content, timestamp, is_from_me, media_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fmt.Sprintf("DEV%016X", rand.Int63()), chatJID, sender, content, ts, fromMe, media)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	_, err = db.Exec(`UPDATE chats SET last_message_time = ? WHERE jid = ? AND last_message_time < ?`,
		ts, chatJID, ts)
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}
