package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mpontes/wavault/internal/store"
	"github.com/mpontes/wavault/internal/testutil/dbtest"
)

const (
	aliceChat = "5511999999999@s.whatsapp.net"
	groupChat = "120363001122334455@g.us"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*dbtest.TestDB, *store.Store) {
	t.Helper()
	db := dbtest.New(t)
	return db, store.New(db.DB)
}

func ids(msgs []store.Message) []string {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestMessagesMatchingFilters(t *testing.T) {
	db, st := newTestStore(t)
	ctx := context.Background()

	db.AddChat(aliceChat, "Alice", baseTime)
	db.AddChat(groupChat, "Family Group", baseTime)

	bob := "5511888888888@s.whatsapp.net"
	db.AddMessage(aliceChat, "lunch tomorrow?", baseTime)                                         // MSG0001
	db.AddMessage(aliceChat, "sure, noon works", baseTime.Add(time.Minute), dbtest.FromMe())      // MSG0002
	db.AddMessage(groupChat, "picnic on saturday", baseTime.Add(2*time.Minute), dbtest.WithSender(bob)) // MSG0003
	db.AddMessage(groupChat, "", baseTime.Add(3*time.Minute), dbtest.WithSender(bob), dbtest.WithMedia("image")) // MSG0004
	db.AddMessage(aliceChat, "100% sure", baseTime.Add(4*time.Minute))                            // MSG0005

	fromMe := true
	notFromMe := false
	after := baseTime.Add(time.Minute)
	cases := []struct {
		name  string
		query store.MessageQuery
		want  []string
	}{
		{"no filter", store.MessageQuery{}, []string{"MSG0001", "MSG0002", "MSG0003", "MSG0004", "MSG0005"}},
		{"single chat", store.MessageQuery{ChatJIDs: []string{aliceChat}}, []string{"MSG0001", "MSG0002", "MSG0005"}},
		{"resolved to nothing", store.MessageQuery{ChatJIDs: []string{}}, nil},
		{"sender", store.MessageQuery{Sender: bob}, []string{"MSG0003", "MSG0004"}},
		{"keyword any", store.MessageQuery{Keywords: []string{"lunch", "picnic"}}, []string{"MSG0001", "MSG0003"}},
		{"keyword all", store.MessageQuery{Keywords: []string{"sure", "noon"}, AllKeywords: true}, []string{"MSG0002"}},
		{"keyword case insensitive", store.MessageQuery{Keywords: []string{"PICNIC"}}, []string{"MSG0003"}},
		{"like metacharacters literal", store.MessageQuery{Keywords: []string{"100%"}}, []string{"MSG0005"}},
		{"media only", store.MessageQuery{MediaOnly: true}, []string{"MSG0004"}},
		{"outbound", store.MessageQuery{FromMe: &fromMe}, []string{"MSG0002"}},
		{"inbound", store.MessageQuery{FromMe: &notFromMe}, []string{"MSG0001", "MSG0003", "MSG0004", "MSG0005"}},
		{"after inclusive", store.MessageQuery{After: &after}, []string{"MSG0002", "MSG0003", "MSG0004", "MSG0005"}},
		{"before inclusive", store.MessageQuery{Before: &after}, []string{"MSG0001", "MSG0002"}},
		{"exact instant", store.MessageQuery{After: &after, Before: &after}, []string{"MSG0002"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgs, err := st.MessagesMatching(ctx, tc.query, nil, false, 100)
			if err != nil {
				t.Fatalf("MessagesMatching: %v", err)
			}
			if diff := cmp.Diff(tc.want, ids(msgs)); diff != "" {
				t.Fatalf("unexpected rows (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMessagesMatchingCursorSurvivesConcurrentInserts(t *testing.T) {
	db, st := newTestStore(t)
	ctx := context.Background()

	db.AddChat(aliceChat, "Alice", baseTime)
	for i := 0; i < 4; i++ {
		db.AddMessage(aliceChat, "msg", baseTime.Add(time.Duration(i)*time.Second))
	}

	first, err := st.MessagesMatching(ctx, store.MessageQuery{}, nil, false, 2)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if diff := cmp.Diff([]string{"MSG0001", "MSG0002"}, ids(first)); diff != "" {
		t.Fatalf("first page (-want +got):\n%s", diff)
	}

	// A row appended behind the cursor must not shift the next page.
	db.AddMessage(aliceChat, "late arrival", baseTime.Add(500*time.Millisecond))

	cursor := first[len(first)-1].Key()
	second, err := st.MessagesMatching(ctx, store.MessageQuery{}, &cursor, false, 10)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if diff := cmp.Diff([]string{"MSG0003", "MSG0004"}, ids(second)); diff != "" {
		t.Fatalf("second page (-want +got):\n%s", diff)
	}
}

func TestMessagesMatchingTimestampTieBreak(t *testing.T) {
	db, st := newTestStore(t)
	ctx := context.Background()

	db.AddChat(aliceChat, "Alice", baseTime)
	for i := 0; i < 3; i++ {
		db.AddMessage(aliceChat, "same instant", baseTime)
	}

	first, err := st.MessagesMatching(ctx, store.MessageQuery{}, nil, false, 2)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	cursor := first[len(first)-1].Key()
	rest, err := st.MessagesMatching(ctx, store.MessageQuery{}, &cursor, false, 10)
	if err != nil {
		t.Fatalf("rest: %v", err)
	}
	got := append(ids(first), ids(rest)...)
	if diff := cmp.Diff([]string{"MSG0001", "MSG0002", "MSG0003"}, got); diff != "" {
		t.Fatalf("tie-break walk (-want +got):\n%s", diff)
	}
}

func TestMessagesMatchingDescending(t *testing.T) {
	db, st := newTestStore(t)
	ctx := context.Background()

	db.AddChat(aliceChat, "Alice", baseTime)
	for i := 0; i < 3; i++ {
		db.AddMessage(aliceChat, "msg", baseTime.Add(time.Duration(i)*time.Second))
	}

	msgs, err := st.MessagesMatching(ctx, store.MessageQuery{}, nil, true, 2)
	if err != nil {
		t.Fatalf("MessagesMatching: %v", err)
	}
	if diff := cmp.Diff([]string{"MSG0003", "MSG0002"}, ids(msgs)); diff != "" {
		t.Fatalf("descending page (-want +got):\n%s", diff)
	}

	cursor := msgs[len(msgs)-1].Key()
	rest, err := st.MessagesMatching(ctx, store.MessageQuery{}, &cursor, true, 10)
	if err != nil {
		t.Fatalf("rest: %v", err)
	}
	if diff := cmp.Diff([]string{"MSG0001"}, ids(rest)); diff != "" {
		t.Fatalf("descending continuation (-want +got):\n%s", diff)
	}
}

func TestGetMessage(t *testing.T) {
	db, st := newTestStore(t)
	ctx := context.Background()

	db.AddChat(aliceChat, "Alice", baseTime)
	db.AddMessage(aliceChat, "hello", baseTime)

	msg, err := st.GetMessage(ctx, aliceChat, "MSG0001")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg == nil || msg.Content != "hello" || msg.ChatName != "Alice" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	missing, err := st.GetMessage(ctx, aliceChat, "NOPE")
	if err != nil {
		t.Fatalf("GetMessage missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing row, got %+v", missing)
	}
}

func TestMessagesAround(t *testing.T) {
	db, st := newTestStore(t)
	ctx := context.Background()

	db.AddChat(aliceChat, "Alice", baseTime)
	db.AddChat(groupChat, "Family Group", baseTime)
	for i := 0; i < 5; i++ {
		db.AddMessage(aliceChat, "msg", baseTime.Add(time.Duration(i)*time.Second))
	}
	// Same time range, different chat; must not leak into the window.
	db.AddMessage(groupChat, "other chat", baseTime.Add(2*time.Second))

	target, err := st.GetMessage(ctx, aliceChat, "MSG0003")
	if err != nil || target == nil {
		t.Fatalf("GetMessage: %v, %v", target, err)
	}

	preceding, following, err := st.MessagesAround(ctx, *target, 2, 2)
	if err != nil {
		t.Fatalf("MessagesAround: %v", err)
	}
	if diff := cmp.Diff([]string{"MSG0001", "MSG0002"}, ids(preceding)); diff != "" {
		t.Fatalf("preceding (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"MSG0004", "MSG0005"}, ids(following)); diff != "" {
		t.Fatalf("following (-want +got):\n%s", diff)
	}

	// Windows clamp at the edges of the chat.
	edge, err := st.GetMessage(ctx, aliceChat, "MSG0001")
	if err != nil || edge == nil {
		t.Fatalf("GetMessage: %v, %v", edge, err)
	}
	preceding, following, err = st.MessagesAround(ctx, *edge, 5, 1)
	if err != nil {
		t.Fatalf("MessagesAround at edge: %v", err)
	}
	if len(preceding) != 0 {
		t.Fatalf("expected empty preceding window, got %v", ids(preceding))
	}
	if diff := cmp.Diff([]string{"MSG0002"}, ids(following)); diff != "" {
		t.Fatalf("edge following (-want +got):\n%s", diff)
	}
}

func TestLatestMessageKey(t *testing.T) {
	db, st := newTestStore(t)
	ctx := context.Background()

	key, err := st.LatestMessageKey(ctx)
	if err != nil {
		t.Fatalf("LatestMessageKey on empty archive: %v", err)
	}
	if key != nil {
		t.Fatalf("expected nil key, got %+v", key)
	}

	db.AddChat(aliceChat, "Alice", baseTime)
	db.AddMessage(aliceChat, "first", baseTime)
	db.AddMessage(aliceChat, "second", baseTime.Add(time.Second))

	key, err = st.LatestMessageKey(ctx)
	if err != nil {
		t.Fatalf("LatestMessageKey: %v", err)
	}
	if key == nil || key.ID != "MSG0002" || !key.Timestamp.Equal(baseTime.Add(time.Second)) {
		t.Fatalf("unexpected key: %+v", key)
	}
}

func TestChats(t *testing.T) {
	db, st := newTestStore(t)
	ctx := context.Background()

	db.AddChat(aliceChat, "Alice", baseTime.Add(time.Hour))
	db.AddChat(groupChat, "Family Group", baseTime)
	db.AddChat("5511777777777@s.whatsapp.net", "", baseTime.Add(-time.Hour))

	chats, err := st.ListChats(ctx, 0)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 3 || chats[0].JID != aliceChat || chats[1].JID != groupChat {
		t.Fatalf("unexpected chat order: %+v", chats)
	}
	if !chats[1].IsGroup || chats[0].IsGroup {
		t.Fatal("group detection by JID suffix failed")
	}
	if got := chats[2].DisplayName(); got != "5511777777777@s.whatsapp.net" {
		t.Fatalf("DisplayName fallback: %s", got)
	}

	chat, err := st.GetChat(ctx, groupChat)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if chat == nil || chat.Name != "Family Group" {
		t.Fatalf("unexpected chat: %+v", chat)
	}

	missing, err := st.GetChat(ctx, "nobody@s.whatsapp.net")
	if err != nil {
		t.Fatalf("GetChat missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing chat, got %+v", missing)
	}
}

func TestChatsWithNullColumns(t *testing.T) {
	db, st := newTestStore(t)
	ctx := context.Background()

	// The bridge leaves name and last_message_time NULL until it learns
	// them, so rows like this exist in real archives.
	if _, err := db.DB.Exec(`INSERT INTO chats (jid) VALUES (?)`, aliceChat); err != nil {
		t.Fatalf("insert chat: %v", err)
	}

	chats, err := st.ListChats(ctx, 0)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 1 || chats[0].Name != "" || !chats[0].LastMessageTime.IsZero() {
		t.Fatalf("unexpected chats: %+v", chats)
	}

	chat, err := st.GetChat(ctx, aliceChat)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if chat == nil || chat.Name != "" || !chat.LastMessageTime.IsZero() {
		t.Fatalf("unexpected chat: %+v", chat)
	}

	found, err := st.SearchChats(ctx, "5511999", 10)
	if err != nil {
		t.Fatalf("SearchChats: %v", err)
	}
	if len(found) != 1 || found[0].JID != aliceChat {
		t.Fatalf("unexpected search result: %+v", found)
	}
}

func TestSearchChats(t *testing.T) {
	db, st := newTestStore(t)
	ctx := context.Background()

	db.AddChat(aliceChat, "Alice", baseTime)
	db.AddChat(groupChat, "Family Group", baseTime)

	byName, err := st.SearchChats(ctx, "family", 10)
	if err != nil {
		t.Fatalf("SearchChats: %v", err)
	}
	if len(byName) != 1 || byName[0].JID != groupChat {
		t.Fatalf("unexpected name match: %+v", byName)
	}

	byJID, err := st.SearchChats(ctx, "5511999", 10)
	if err != nil {
		t.Fatalf("SearchChats by JID: %v", err)
	}
	if len(byJID) != 1 || byJID[0].JID != aliceChat {
		t.Fatalf("unexpected JID match: %+v", byJID)
	}
}

func TestResolveChatJIDs(t *testing.T) {
	db, st := newTestStore(t)
	ctx := context.Background()

	db.AddChat(aliceChat, "Alice", baseTime)
	db.AddChat(groupChat, "Family Group", baseTime)

	jids, err := st.ResolveChatJIDs(ctx, "alice")
	if err != nil {
		t.Fatalf("ResolveChatJIDs: %v", err)
	}
	if diff := cmp.Diff([]string{aliceChat}, jids); diff != "" {
		t.Fatalf("resolved JIDs (-want +got):\n%s", diff)
	}

	// Zero matches must be an empty non-nil slice, not "no filter".
	none, err := st.ResolveChatJIDs(ctx, "nobody")
	if err != nil {
		t.Fatalf("ResolveChatJIDs no match: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", none)
	}
}

func TestStats(t *testing.T) {
	db, st := newTestStore(t)
	ctx := context.Background()

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats on empty archive: %v", err)
	}
	if stats.MessageCount != 0 || stats.ChatCount != 0 {
		t.Fatalf("unexpected empty stats: %+v", stats)
	}

	db.AddChat(aliceChat, "Alice", baseTime)
	db.AddMessage(aliceChat, "first", baseTime)
	db.AddMessage(aliceChat, "last", baseTime.Add(time.Hour))

	stats, err = st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.MessageCount != 2 || stats.ChatCount != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if !stats.Earliest.Equal(baseTime) || !stats.Latest.Equal(baseTime.Add(time.Hour)) {
		t.Fatalf("unexpected bounds: %+v", stats)
	}
}

func TestKeyOrdering(t *testing.T) {
	a := store.Key{Timestamp: baseTime, ID: "MSG0001"}
	b := store.Key{Timestamp: baseTime, ID: "MSG0002"}
	c := store.Key{Timestamp: baseTime.Add(time.Second), ID: "MSG0001"}

	if !a.Before(b) || !b.Before(c) || !a.Before(c) {
		t.Fatal("Before ordering broken")
	}
	if !c.After(a) || a.After(a) {
		t.Fatal("After ordering broken")
	}
}
