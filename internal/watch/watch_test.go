package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mpontes/wavault/internal/store"
	"github.com/mpontes/wavault/internal/testutil/dbtest"
)

const testChat = "5511999999999@s.whatsapp.net"

func newTestDetector(t *testing.T) (*dbtest.TestDB, *Detector) {
	t.Helper()
	db := dbtest.New(t)
	db.AddChat(testChat, "Alice", time.Now())

	det := NewDetector(store.New(db.DB), Config{
		PollInterval: 10 * time.Millisecond,
		Lateness:     30 * time.Second,
	}, nil)
	return db, det
}

func recvMsg(t *testing.T, c <-chan store.Message) store.Message {
	t.Helper()
	select {
	case m, ok := <-c:
		if !ok {
			t.Fatal("stream closed while waiting for message")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return store.Message{}
}

func TestDetectorDeliversNewMessagesInOrder(t *testing.T) {
	db, det := newTestDetector(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	db.AddMessage(testChat, "already archived", base)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := det.Subscribe(ctx)
	defer stream.Cancel()

	want := []string{
		db.AddMessage(testChat, "one", base.Add(1*time.Minute)),
		db.AddMessage(testChat, "two", base.Add(2*time.Minute)),
		db.AddMessage(testChat, "three", base.Add(3*time.Minute)),
	}

	var got []string
	prev := store.Key{}
	for range want {
		m := recvMsg(t, stream.C)
		if !prev.Before(m.Key()) {
			t.Errorf("message %s delivered out of order: %v after %v", m.ID, m.Key(), prev)
		}
		prev = m.Key()
		got = append(got, m.ID)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("delivered IDs mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectorDrainsBurstLargerThanBatchLimit(t *testing.T) {
	db := dbtest.New(t)
	db.AddChat(testChat, "Alice", time.Now())

	det := NewDetector(store.New(db.DB), Config{
		PollInterval: 10 * time.Millisecond,
		Lateness:     30 * time.Second,
		BatchLimit:   2,
	}, nil)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	db.AddMessage(testChat, "already archived", base)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := det.Subscribe(ctx)
	defer stream.Cancel()

	// More rows than one batch, all inside the lateness window. Every one
	// must come through: a scan that restarts from the watermark without
	// paging would keep fetching the same full batch and stall.
	var want []string
	for i := range 5 {
		want = append(want, db.AddMessage(testChat, "burst", base.Add(time.Duration(i+1)*time.Second)))
	}

	var got []string
	for range want {
		got = append(got, recvMsg(t, stream.C).ID)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("delivered IDs mismatch (-want +got):\n%s", diff)
	}
	if n := stream.Missed(); n != 0 {
		t.Errorf("Missed() = %d, want 0", n)
	}
}

func TestDetectorDoesNotRedeliver(t *testing.T) {
	db, det := newTestDetector(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := det.Subscribe(ctx)
	defer stream.Cancel()

	db.AddMessage(testChat, "once only", base.Add(time.Minute))
	recvMsg(t, stream.C)

	// Several poll cycles with the row still inside the lateness window.
	select {
	case m := <-stream.C:
		t.Fatalf("message %s delivered twice", m.ID)
	case <-time.After(100 * time.Millisecond):
	}
	if n := stream.Missed(); n != 0 {
		t.Errorf("Missed() = %d, want 0", n)
	}
}

func TestDetectorIndependentSubscribers(t *testing.T) {
	db, det := newTestDetector(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := det.Subscribe(ctx)
	defer a.Cancel()
	b := det.Subscribe(ctx)
	defer b.Cancel()

	id := db.AddMessage(testChat, "fan out", base.Add(time.Minute))

	// Neither stream depends on the other being drained.
	if got := recvMsg(t, b.C); got.ID != id {
		t.Errorf("subscriber b got %s, want %s", got.ID, id)
	}
	if got := recvMsg(t, a.C); got.ID != id {
		t.Errorf("subscriber a got %s, want %s", got.ID, id)
	}
}

func TestDetectorCountsLateRowsAsMissed(t *testing.T) {
	db, det := newTestDetector(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	db.AddMessage(testChat, "watermark", base)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := det.Subscribe(ctx)
	defer stream.Cancel()

	// A row landing behind the watermark but inside the lateness window is
	// detected, counted, and withheld so the stream stays ordered.
	db.AddMessage(testChat, "late arrival", base.Add(-10*time.Second))

	deadline := time.After(2 * time.Second)
	for stream.Missed() == 0 {
		select {
		case m := <-stream.C:
			t.Fatalf("late message %s delivered, want missed count", m.ID)
		case <-deadline:
			t.Fatal("timed out waiting for missed count")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Counted once, not once per poll.
	time.Sleep(100 * time.Millisecond)
	if n := stream.Missed(); n != 1 {
		t.Errorf("Missed() = %d, want 1", n)
	}
}

// collectSub records deliveries and the drop reason. A non-nil hold channel
// blocks Deliver until it is closed.
type collectSub struct {
	mu      sync.Mutex
	ids     []string
	hold    chan struct{}
	dropped chan error
}

func newCollectSub() *collectSub {
	return &collectSub{dropped: make(chan error, 1)}
}

func (s *collectSub) Deliver(m store.Message) error {
	if s.hold != nil {
		<-s.hold
	}
	s.mu.Lock()
	s.ids = append(s.ids, m.ID)
	s.mu.Unlock()
	return nil
}

func (s *collectSub) Drop(reason error) { s.dropped <- reason }

func (s *collectSub) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func waitDrop(t *testing.T, s *collectSub) error {
	t.Helper()
	select {
	case err := <-s.dropped:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for drop")
		return nil
	}
}

func TestBroadcasterDeliversAndUnregisters(t *testing.T) {
	db, det := newTestDetector(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	b := NewBroadcaster(det, 16, nil)
	sub := newCollectSub()
	token := b.Register(context.Background(), sub)

	want := []string{
		db.AddMessage(testChat, "hello", base.Add(1*time.Minute)),
		db.AddMessage(testChat, "world", base.Add(2*time.Minute)),
	}

	deadline := time.After(2 * time.Second)
	for len(sub.delivered()) < len(want) {
		select {
		case <-deadline:
			t.Fatalf("delivered %v, want %v", sub.delivered(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if diff := cmp.Diff(want, sub.delivered()); diff != "" {
		t.Errorf("delivered IDs mismatch (-want +got):\n%s", diff)
	}

	b.Unregister(token)
	if err := waitDrop(t, sub); err != nil {
		t.Errorf("drop reason = %v, want nil", err)
	}
	if n := b.Len(); n != 0 {
		t.Errorf("Len() = %d after unregister, want 0", n)
	}

	// Idempotent for unknown or already-removed tokens.
	b.Unregister(token)
}

func TestBroadcasterDropsSlowConsumer(t *testing.T) {
	db, det := newTestDetector(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	b := NewBroadcaster(det, 1, nil)
	slow := newCollectSub()
	slow.hold = make(chan struct{})
	defer close(slow.hold)
	b.Register(context.Background(), slow)

	// One message stuck in Deliver, one queued, the rest overflow.
	for i := range 5 {
		db.AddMessage(testChat, "burst", base.Add(time.Duration(i+1)*time.Minute))
	}

	if err := waitDrop(t, slow); !errors.Is(err, ErrSlowConsumer) {
		t.Errorf("drop reason = %v, want ErrSlowConsumer", err)
	}
	if n := b.Len(); n != 0 {
		t.Errorf("Len() = %d after drop, want 0", n)
	}
}

func TestBroadcasterIsolatesSubscribers(t *testing.T) {
	db, det := newTestDetector(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	b := NewBroadcaster(det, 1, nil)
	slow := newCollectSub()
	slow.hold = make(chan struct{})
	defer close(slow.hold)
	healthy := newCollectSub()

	b.Register(context.Background(), slow)
	b.Register(context.Background(), healthy)

	var want []string
	for i := range 5 {
		want = append(want, db.AddMessage(testChat, "steady", base.Add(time.Duration(i+1)*time.Minute)))
	}

	if err := waitDrop(t, slow); !errors.Is(err, ErrSlowConsumer) {
		t.Fatalf("slow subscriber drop reason = %v, want ErrSlowConsumer", err)
	}

	deadline := time.After(2 * time.Second)
	for len(healthy.delivered()) < len(want) {
		select {
		case <-deadline:
			t.Fatalf("healthy subscriber got %v, want %v", healthy.delivered(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if diff := cmp.Diff(want, healthy.delivered()); diff != "" {
		t.Errorf("healthy subscriber IDs mismatch (-want +got):\n%s", diff)
	}
}
