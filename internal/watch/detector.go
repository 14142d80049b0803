// Package watch detects newly-arrived messages in the bridge archive and
// fans them out to live subscribers. Detection is poll-based: the bridge is
// a separate process, so tailing its database by (timestamp, id) watermark
// is the portable mechanism.
package watch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mpontes/wavault/internal/store"
)

// Config tunes the detection loop. Zero values pick the defaults.
type Config struct {
	// PollInterval between archive scans.
	PollInterval time.Duration
	// BatchLimit caps rows fetched per scan.
	BatchLimit int
	// Lateness is how far behind the watermark each scan reaches, so rows
	// the bridge wrote slightly out of order are still detected.
	Lateness time.Duration
	// MaxBackoff caps the retry interval after store read failures.
	MaxBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 500
	}
	if c.Lateness <= 0 {
		c.Lateness = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Detector produces per-subscriber streams of new messages.
type Detector struct {
	store  *store.Store
	cfg    Config
	logger *slog.Logger
}

// NewDetector creates a detector over the given store.
func NewDetector(s *store.Store, cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{store: s, cfg: cfg.withDefaults(), logger: logger}
}

// Stream is one subscriber's live sequence of messages. C is closed when the
// stream ends; a cancelled stream cannot be restarted.
type Stream struct {
	C <-chan store.Message

	cancel context.CancelFunc
	missed atomic.Int64
}

// Cancel stops the stream. Safe to call more than once.
func (s *Stream) Cancel() { s.cancel() }

// Missed reports how many rows arrived too late to be delivered in order
// (see the delivery policy below). It only grows.
func (s *Stream) Missed() int64 { return s.missed.Load() }

// Subscribe starts a detection loop with its own watermark and returns its
// stream. The watermark is primed before Subscribe returns, so rows written
// afterwards are guaranteed to be detected. Sends on the channel are
// unbuffered: the loop advances at the consumer's pace, and the watermark
// only moves when a row has actually been handed over.
func (d *Detector) Subscribe(ctx context.Context) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan store.Message)
	s := &Stream{C: ch, cancel: cancel}
	wm, seen := d.prime(ctx)
	go d.run(ctx, ch, s, wm, seen)
	return s
}

// run is the per-subscriber detection loop.
//
// Ordering and de-duplication: the watermark is the key of the last
// delivered row, and each scan reaches Lateness behind it. Rows already
// handed over are skipped via the seen set; rows whose key is at or below
// the watermark but were never seen arrived too late for in-order delivery
// and are counted as missed instead of being delivered out of order. Rows
// older than the lateness window are beyond detection range.
//
// Failure handling: a store read error pauses the loop with capped
// exponential backoff and never advances the watermark.
func (d *Detector) run(ctx context.Context, ch chan<- store.Message, s *Stream, wm store.Key, seen map[store.Key]struct{}) {
	defer close(ch)

	interval := d.cfg.PollInterval

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		// A burst larger than one batch must be drained within the same
		// cycle: the next scan restarts from the watermark, so stopping
		// at a full batch would refetch the same already-seen rows
		// forever. Continuation pages by key, which keeps
		// equal-timestamp rows at a batch boundary from being skipped.
		rows, err := d.store.MessagesNewerThan(ctx, wm.Timestamp.Add(-d.cfg.Lateness), d.cfg.BatchLimit)
		for err == nil && len(rows) > 0 {
			for _, m := range rows {
				key := m.Key()
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}

				if !wm.Before(key) {
					s.missed.Add(1)
					d.logger.Warn("late message outside delivery order, reporting as missed",
						"chat_jid", m.ChatJID, "msg_id", m.ID, "timestamp", m.Timestamp)
					continue
				}

				select {
				case ch <- m:
					wm = key
				case <-ctx.Done():
					return
				}
			}

			if len(rows) < d.cfg.BatchLimit {
				break
			}
			after := rows[len(rows)-1].Key()
			rows, err = d.store.MessagesMatching(ctx, store.MessageQuery{}, &after, false, d.cfg.BatchLimit)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			interval = min(interval*2, d.cfg.MaxBackoff)
			d.logger.Warn("message poll failed, backing off",
				"error", err, "retry_in", interval)
			continue
		}
		interval = d.cfg.PollInterval

		pruneSeen(seen, wm.Timestamp.Add(-d.cfg.Lateness))
	}
}

// prime initializes the watermark to the newest stored row (falling back to
// the current time for an empty archive) and pre-marks rows inside the
// lateness window as seen, so history is neither replayed nor miscounted as
// missed.
func (d *Detector) prime(ctx context.Context) (store.Key, map[store.Key]struct{}) {
	seen := make(map[store.Key]struct{})
	wm := store.Key{Timestamp: time.Now().UTC()}

	latest, err := d.store.LatestMessageKey(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("watermark priming failed, starting from now", "error", err)
		}
		return wm, seen
	}
	if latest == nil {
		return wm, seen
	}
	wm = *latest

	recent, err := d.store.MessagesNewerThan(ctx, wm.Timestamp.Add(-d.cfg.Lateness), d.cfg.BatchLimit)
	for err == nil && len(recent) > 0 {
		for _, m := range recent {
			seen[m.Key()] = struct{}{}
		}
		if len(recent) < d.cfg.BatchLimit {
			break
		}
		after := recent[len(recent)-1].Key()
		recent, err = d.store.MessagesMatching(ctx, store.MessageQuery{}, &after, false, d.cfg.BatchLimit)
	}
	if err != nil {
		d.logger.Warn("watermark priming scan failed", "error", err)
	}
	return wm, seen
}

func pruneSeen(seen map[store.Key]struct{}, cutoff time.Time) {
	for key := range seen {
		if key.Timestamp.Before(cutoff) {
			delete(seen, key)
		}
	}
}
