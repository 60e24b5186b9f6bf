package systemd

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(_ bool, state string) (bool, error) {
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

func TestNotifierStates(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := Notifier{notify: rec.notify}
	if ok, err := n.Ready(); !ok || err != nil {
		t.Fatalf("Ready = %v, %v", ok, err)
	}
	_, _ = n.Status("2 channels active")
	_, _ = n.Stopping()
	want := []string{"READY=1", "STATUS=2 channels active", "STOPPING=1"}
	if len(rec.states) != len(want) {
		t.Fatalf("states = %v", rec.states)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Fatalf("states[%d] = %q, want %q", i, rec.states[i], want[i])
		}
	}
}

func TestWatchdogInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		usec time.Duration
		err  error
		want time.Duration
	}{
		{"enabled", 10 * time.Second, nil, 5 * time.Second},
		{"disabled", 0, nil, 0},
		{"error", 0, context.DeadlineExceeded, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n := Notifier{watchdog: func(bool) (time.Duration, error) { return tt.usec, tt.err }}
			if got := n.WatchdogInterval(); got != tt.want {
				t.Fatalf("WatchdogInterval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWatchdogSkipsWhenUnhealthy(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := Notifier{notify: rec.notify}

	var mu sync.Mutex
	healthy := false
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- n.Watchdog(ctx, 5*time.Millisecond, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return healthy
		})
	}()

	time.Sleep(40 * time.Millisecond)
	if got := rec.count("WATCHDOG=1"); got != 0 {
		t.Fatalf("pinged %d times while unhealthy", got)
	}
	mu.Lock()
	healthy = true
	mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	for rec.count("WATCHDOG=1") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no ping after becoming healthy")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Watchdog = %v, want context.Canceled", err)
	}
}

func TestWatchdogDisabled(t *testing.T) {
	t.Parallel()
	if err := (Notifier{}).Watchdog(context.Background(), 0, nil); err != nil {
		t.Fatalf("Watchdog = %v", err)
	}
}
