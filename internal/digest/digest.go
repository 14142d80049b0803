// Package digest provides cron-based scheduling for recurring conversation
// summaries. Each digest runs the analyzer on a schedule and keeps its most
// recent result in memory for the API to serve.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mpontes/wavault/internal/analyze"
)

// RunFunc produces one digest result when its schedule fires.
type RunFunc func(ctx context.Context) (*analyze.Result, error)

// Status describes one scheduled digest.
type Status struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler manages cron-scheduled digests.
type Scheduler struct {
	cron     *cron.Cron
	analyzer *analyze.Analyzer
	logger   *slog.Logger

	mu        sync.RWMutex
	jobs      map[string]cron.EntryID
	schedules map[string]string
	runFuncs  map[string]RunFunc
	running   map[string]bool
	results   map[string]*analyze.Result
	lastRun   map[string]time.Time
	lastErr   map[string]error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New creates a Scheduler around the given analyzer.
func New(analyzer *analyze.Analyzer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		analyzer:  analyzer,
		logger:    logger,
		jobs:      make(map[string]cron.EntryID),
		schedules: make(map[string]string),
		runFuncs:  make(map[string]RunFunc),
		running:   make(map[string]bool),
		results:   make(map[string]*analyze.Result),
		lastRun:   make(map[string]time.Time),
		lastErr:   make(map[string]error),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AddDaily schedules a digest named "daily" that summarizes the previous
// calendar day each time it fires.
func (s *Scheduler) AddDaily(cronExpr string) error {
	return s.Add("daily", cronExpr, func(ctx context.Context) (*analyze.Result, error) {
		return s.analyzer.DailySummary(ctx, time.Now().UTC().AddDate(0, 0, -1))
	})
}

// AddContact schedules a digest named "contact:<jid>" that summarizes the
// last days of conversation with one chat.
func (s *Scheduler) AddContact(chatJID, cronExpr string, days int) error {
	return s.Add("contact:"+chatJID, cronExpr, func(ctx context.Context) (*analyze.Result, error) {
		return s.analyzer.ContactSummary(ctx, chatJID, days)
	})
}

// Add schedules a named digest. Re-adding a name replaces its schedule.
func (s *Scheduler) Add(name, cronExpr string, run RunFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[name]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		delete(s.schedules, name)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.stopped || s.running[name] {
			s.mu.Unlock()
			return
		}
		s.running[name] = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.run(name)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.jobs[name] = entryID
	s.schedules[name] = cronExpr
	s.runFuncs[name] = run
	s.logger.Info("scheduled digest",
		"name", name,
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)
	return nil
}

// Remove unschedules a digest. Its last result stays available.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[name]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		delete(s.schedules, name)
		delete(s.runFuncs, name)
		s.logger.Info("removed digest", "name", name)
	}
}

// Start begins executing scheduled digests.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("digest scheduler started", "digests", len(s.jobs))
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop halts scheduling, cancels running digests, and returns a context that
// is done when all in-flight work has finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("digest scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// Trigger runs a digest immediately, outside its schedule.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("digest scheduler is stopped")
	}
	if _, exists := s.jobs[name]; !exists {
		return fmt.Errorf("digest %s is not scheduled", name)
	}
	if s.running[name] {
		return fmt.Errorf("digest %s is already running", name)
	}

	s.running[name] = true
	s.wg.Add(1)
	go s.run(name)
	return nil
}

// run executes one digest. The caller must have called wg.Add(1) and set
// running[name].
func (s *Scheduler) run(name string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
	}()

	s.mu.RLock()
	fn := s.runFuncs[name]
	s.mu.RUnlock()
	if fn == nil {
		return
	}

	s.logger.Info("running digest", "name", name)
	start := time.Now()

	result, err := fn(s.ctx)

	s.mu.Lock()
	if err != nil {
		s.lastErr[name] = err
		s.logger.Error("digest failed",
			"name", name,
			"duration", time.Since(start),
			"error", err)
	} else {
		s.results[name] = result
		s.lastRun[name] = time.Now()
		s.lastErr[name] = nil
		s.logger.Info("digest completed",
			"name", name,
			"messages", result.MessageCount,
			"duration", time.Since(start))
	}
	s.mu.Unlock()
}

// Latest returns the most recent result for a digest, if one exists.
func (s *Scheduler) Latest(name string) (*analyze.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[name]
	return r, ok
}

// StatusAll returns the current status of every scheduled digest.
func (s *Scheduler) StatusAll() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var statuses []Status
	for name, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		st := Status{
			Name:     name,
			Schedule: s.schedules[name],
			Running:  s.running[name],
			LastRun:  s.lastRun[name],
			NextRun:  entry.Next,
		}
		if err := s.lastErr[name]; err != nil {
			st.LastError = err.Error()
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
