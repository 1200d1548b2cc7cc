package systemd

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "naps/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) send(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func TestLifecycleStates(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(logx.Nop())
	n.send = rec.send

	n.Ready()
	n.Status("next run in 5m")
	n.Stopping()

	want := []string{"READY=1", "STATUS=next run in 5m", "STOPPING=1"}
	if len(rec.states) != len(want) {
		t.Fatalf("got %v", rec.states)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Fatalf("state %d: got %q want %q", i, rec.states[i], want[i])
		}
	}
}

func TestWatchdogDisabledReturns(t *testing.T) {
	n := NewNotifier(logx.Nop())
	n.watchdog = func() (time.Duration, error) { return 0, nil }
	if err := n.Watchdog(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWatchdogPings(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(logx.Nop())
	n.send = rec.send
	n.watchdog = func() (time.Duration, error) { return 20 * time.Millisecond, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Watchdog(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for rec.count("WATCHDOG=1") < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("watchdog did not ping")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watchdog: %v", err)
	}
}
