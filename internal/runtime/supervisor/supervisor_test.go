package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsFirstErrorAndCancels(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(context.Context) error { return errors.New("boom") })
	s.Go("waits", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "fails: boom") {
		t.Fatalf("expected first error, got %v", err)
	}
	if s.Active() != 0 {
		t.Fatalf("goroutines still active: %d", s.Active())
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("panics", func(context.Context) error { panic("oops") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "panic: oops") {
		t.Fatalf("expected panic error, got %v", err)
	}
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("transient")
		case 2:
			panic("again")
		default:
			return nil
		}
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("expected 3 runs, got %d", got)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatalf("expected error after giving up")
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("expected initial run plus 2 restarts, got %d", got)
	}
}

func TestStopCancelsContext(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
