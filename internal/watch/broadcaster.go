package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mpontes/wavault/internal/store"
)

// ErrSlowConsumer is the drop reason for a subscriber whose delivery queue
// overflowed. The backpressure policy is drop-the-subscriber: queues are
// bounded, and a consumer that cannot keep up is disconnected rather than
// allowed to grow memory or to see a gapped stream.
var ErrSlowConsumer = errors.New("slow consumer")

// Subscriber receives live messages. Deliver returning an error counts as a
// disconnect; Drop is invoked exactly once when the subscription ends, with
// a nil reason for a clean shutdown.
type Subscriber interface {
	Deliver(msg store.Message) error
	Drop(reason error)
}

// Broadcaster manages live subscriptions. Every subscriber gets its own
// detection stream, bounded queue and delivery goroutine, so a slow or dead
// subscriber never delays the others.
type Broadcaster struct {
	detector  *Detector
	queueSize int
	logger    *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	stream *Stream
	queue  chan store.Message
	sub    Subscriber
	done   chan struct{}
	once   sync.Once
}

// NewBroadcaster creates a broadcaster over the given detector. queueSize
// bounds each subscriber's delivery queue; values below 1 fall back to 256.
func NewBroadcaster(detector *Detector, queueSize int, logger *slog.Logger) *Broadcaster {
	if queueSize < 1 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		detector:  detector,
		queueSize: queueSize,
		logger:    logger,
		subs:      make(map[string]*subscription),
	}
}

// Register starts delivery to sub and returns its token. The subscription
// lasts until Unregister, context cancellation, a failed delivery, or a
// queue overflow.
func (b *Broadcaster) Register(ctx context.Context, sub Subscriber) string {
	token := uuid.NewString()
	st := &subscription{
		stream: b.detector.Subscribe(ctx),
		queue:  make(chan store.Message, b.queueSize),
		sub:    sub,
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[token] = st
	b.mu.Unlock()

	go b.pump(token, st)
	go b.deliver(token, st)

	b.logger.Info("subscriber registered", "token", token)
	return token
}

// Unregister ends a subscription cleanly. Unknown tokens are ignored.
func (b *Broadcaster) Unregister(token string) {
	b.mu.Lock()
	st, ok := b.subs[token]
	b.mu.Unlock()
	if ok {
		b.teardown(token, st, nil)
	}
}

// Len reports the number of live subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// pump moves messages from the detection stream into the bounded queue.
// A full queue means the consumer fell behind the bridge's write rate.
func (b *Broadcaster) pump(token string, st *subscription) {
	for {
		select {
		case msg, ok := <-st.stream.C:
			if !ok {
				b.teardown(token, st, nil)
				return
			}
			select {
			case st.queue <- msg:
			default:
				b.teardown(token, st, ErrSlowConsumer)
				return
			}
		case <-st.done:
			return
		}
	}
}

// deliver drains the queue into the subscriber.
func (b *Broadcaster) deliver(token string, st *subscription) {
	for {
		select {
		case msg := <-st.queue:
			if err := st.sub.Deliver(msg); err != nil {
				b.teardown(token, st, err)
				return
			}
		case <-st.done:
			return
		}
	}
}

// teardown ends a subscription exactly once: the detection stream (and with
// it the subscriber's watermark) is discarded and the subscriber notified.
func (b *Broadcaster) teardown(token string, st *subscription, reason error) {
	st.once.Do(func() {
		st.stream.Cancel()
		close(st.done)

		b.mu.Lock()
		delete(b.subs, token)
		b.mu.Unlock()

		st.sub.Drop(reason)

		switch {
		case errors.Is(reason, ErrSlowConsumer):
			b.logger.Warn("subscriber dropped: could not keep up", "token", token)
		case reason != nil:
			b.logger.Info("subscriber disconnected", "token", token, "error", reason)
		default:
			b.logger.Info("subscriber unregistered", "token", token)
		}
	})
}
