package digest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mpontes/wavault/internal/analyze"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAddRejectsBadCronExpr(t *testing.T) {
	s := New(nil, nil)
	err := s.Add("daily", "not a cron expr", func(context.Context) (*analyze.Result, error) {
		return nil, nil
	})
	if err == nil {
		t.Fatal("Add accepted a bad cron expression")
	}
}

func TestTriggerStoresLatestResult(t *testing.T) {
	s := New(nil, nil)
	var runs atomic.Int32
	err := s.Add("daily", "0 6 * * *", func(context.Context) (*analyze.Result, error) {
		runs.Add(1)
		return &analyze.Result{Analysis: "quiet day", MessageCount: 3}, nil
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	defer s.Stop()

	if err := s.Trigger("daily"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, "digest run", func() bool { return runs.Load() == 1 })
	waitFor(t, "stored result", func() bool {
		r, ok := s.Latest("daily")
		return ok && r.Analysis == "quiet day"
	})

	statuses := s.StatusAll()
	if len(statuses) != 1 || statuses[0].Name != "daily" || statuses[0].Schedule != "0 6 * * *" {
		t.Errorf("StatusAll() = %+v", statuses)
	}
}

func TestTriggerUnknownDigest(t *testing.T) {
	s := New(nil, nil)
	s.Start()
	defer s.Stop()
	if err := s.Trigger("nope"); err == nil {
		t.Fatal("Trigger accepted an unknown digest")
	}
}

func TestFailedRunKeepsPreviousResult(t *testing.T) {
	s := New(nil, nil)
	var fail atomic.Bool
	var runs atomic.Int32
	err := s.Add("daily", "0 6 * * *", func(context.Context) (*analyze.Result, error) {
		runs.Add(1)
		if fail.Load() {
			return nil, errors.New("backend down")
		}
		return &analyze.Result{Analysis: "first"}, nil
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	defer s.Stop()

	if err := s.Trigger("daily"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, "first run", func() bool { _, ok := s.Latest("daily"); return ok })
	waitFor(t, "first run settled", func() bool {
		st := s.StatusAll()
		return len(st) == 1 && !st[0].Running
	})

	fail.Store(true)
	if err := s.Trigger("daily"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, "second run", func() bool { return runs.Load() == 2 })
	waitFor(t, "recorded error", func() bool {
		st := s.StatusAll()
		return len(st) == 1 && st[0].LastError != ""
	})

	if r, ok := s.Latest("daily"); !ok || r.Analysis != "first" {
		t.Errorf("Latest() = %+v, %v; want the previous result kept", r, ok)
	}
}

func TestStopWaitsForRunningDigest(t *testing.T) {
	s := New(nil, nil)
	release := make(chan struct{})
	err := s.Add("daily", "0 6 * * *", func(ctx context.Context) (*analyze.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &analyze.Result{}, nil
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	if err := s.Trigger("daily"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	close(release)
	select {
	case <-s.Stop().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not complete")
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}
