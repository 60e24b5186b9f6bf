package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dealbot/internal/distribution"
	"dealbot/internal/eventbus"
	logx "dealbot/pkg/logx"
)

type constRand struct{ high bool }

func (r constRand) Intn(n int) int {
	if r.high && n > 0 {
		return n - 1
	}
	return 0
}

type recordRunner struct {
	mu    sync.Mutex
	keys  []string
	panic string
	fail  string
	block chan struct{}
}

func (r *recordRunner) Run(ctx context.Context, p distribution.ChannelPolicy) (distribution.Result, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.keys = append(r.keys, p.Key)
	r.mu.Unlock()
	if p.Key == r.panic {
		panic("boom")
	}
	if p.Key == r.fail {
		return distribution.Result{Channel: p.Key}, errors.New("bad")
	}
	return distribution.Result{Channel: p.Key, Sent: 1}, nil
}

func (r *recordRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

type sleepLog struct {
	mu     sync.Mutex
	waits  []time.Duration
	cancel context.CancelFunc
	limit  int
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	n := len(s.waits)
	s.mu.Unlock()
	if s.limit > 0 && n >= s.limit && s.cancel != nil {
		s.cancel()
	}
	return ctx.Err()
}

func (s *sleepLog) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func testRegistry(t *testing.T) *distribution.Registry {
	t.Helper()
	reg, err := distribution.NewRegistry([]distribution.ChannelPolicy{
		{Key: "hot_deals", Active: true, Hot: true, CadenceMinutes: 105},
		{Key: "tech", Active: true, CadenceMinutes: 180},
		{Key: "home", Active: false, CadenceMinutes: 195},
		{Key: "beauty", Active: true, CadenceMinutes: 210},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTickSchedule(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	base := 180

	low := NewTickSchedule(Config{}, func() int { return base }, constRand{}, start)
	if got := low.Next(start); !got.Equal(start.Add(20 * time.Second)) {
		t.Fatalf("first=%s", got)
	}
	after := start.Add(time.Minute)
	if got := low.Next(after); !got.Equal(after.Add(175 * time.Minute)) {
		t.Fatalf("next=%s", got.Sub(after))
	}

	high := NewTickSchedule(Config{}, func() int { return base }, constRand{high: true}, start)
	if got := high.Next(start); !got.Equal(start.Add(60 * time.Second)) {
		t.Fatalf("first=%s", got)
	}
	if got := high.DelayMinutes(); got != 185 {
		t.Fatalf("delay=%d want 185", got)
	}

	base = 12
	if got := low.DelayMinutes(); got != 15 {
		t.Fatalf("delay=%d want floor 15", got)
	}
}

func TestTickScheduleFollowsCadenceChange(t *testing.T) {
	t.Parallel()

	reg, _ := distribution.NewRegistry([]distribution.ChannelPolicy{
		{Key: "hot_deals", Active: false, CadenceMinutes: 105},
		{Key: "tech", Active: true, CadenceMinutes: 240},
		{Key: "home", Active: true, CadenceMinutes: 195},
	})
	s := NewTickSchedule(Config{}, reg.MinActiveCadence, constRand{}, time.Now())
	if s.Base() != 195 {
		t.Fatalf("base=%d want 195", s.Base())
	}
	if _, err := reg.SetCadence("tech", 180); err != nil {
		t.Fatalf("SetCadence: %v", err)
	}
	if s.Base() != 180 {
		t.Fatalf("base=%d want 180", s.Base())
	}
	if got := s.DelayMinutes(); got != 175 {
		t.Fatalf("delay=%d want 175", got)
	}
}

func newTestService(t *testing.T, reg *distribution.Registry, rs *distribution.RunState, r Runner, sl *sleepLog, bus eventbus.Bus) *Service {
	t.Helper()
	return New(Config{}, Deps{
		Registry: reg,
		RunState: rs,
		Runner:   r,
		Bus:      bus,
		Log:      logx.Nop(),
		Random:   constRand{},
		Sleep:    sl.sleep,
	})
}

func TestTickRunsActiveChannelsInOrder(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	runner := &recordRunner{}
	sl := &sleepLog{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := newTestService(t, reg, distribution.NewRunState(true), runner, sl, bus)
	res, err := s.TryTick(context.Background(), "test")
	if err != nil {
		t.Fatalf("TryTick: %v", err)
	}

	if got := runner.ran(); !sameKeys(got, []string{"hot_deals", "tech", "beauty"}) {
		t.Fatalf("ran=%v", got)
	}
	// gaps only between channels
	waits := sl.all()
	if len(waits) != 2 || waits[0] != 8*time.Second {
		t.Fatalf("waits=%v", waits)
	}
	if res.Sent() != 3 || res.Errors != 0 || res.Paused {
		t.Fatalf("res=%+v", res)
	}
	select {
	case e := <-events:
		if e.Type != eventbus.TickDone {
			t.Fatalf("event=%s", e.Type)
		}
	default:
		t.Fatalf("expected TickDone event")
	}
	if snap := s.Snapshot(); snap.Ticks != 1 || snap.State != StateWaiting || snap.Base != 105 {
		t.Fatalf("snap=%+v", snap)
	}
}

func TestTickSkipsWhenPaused(t *testing.T) {
	t.Parallel()

	runner := &recordRunner{}
	s := newTestService(t, testRegistry(t), distribution.NewRunState(false), runner, &sleepLog{}, nil)
	res, _ := s.TryTick(context.Background(), "test")
	if !res.Paused || len(runner.ran()) != 0 {
		t.Fatalf("res=%+v ran=%v", res, runner.ran())
	}
}

func TestTickIsolatesChannelFailures(t *testing.T) {
	t.Parallel()

	runner := &recordRunner{panic: "hot_deals", fail: "tech"}
	s := newTestService(t, testRegistry(t), distribution.NewRunState(true), runner, &sleepLog{}, nil)
	res, _ := s.TryTick(context.Background(), "test")

	if got := runner.ran(); !sameKeys(got, []string{"hot_deals", "tech", "beauty"}) {
		t.Fatalf("ran=%v", got)
	}
	if res.Errors != 2 || res.Sent() != 1 {
		t.Fatalf("res=%+v", res)
	}
}

func TestTryTickBusy(t *testing.T) {
	t.Parallel()

	runner := &recordRunner{block: make(chan struct{})}
	s := newTestService(t, testRegistry(t), distribution.NewRunState(true), runner, &sleepLog{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.TryTick(context.Background(), "first")
	}()

	deadline := time.After(2 * time.Second)
	for s.State() != StateRunning {
		select {
		case <-deadline:
			t.Fatalf("first tick never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if _, err := s.TryTick(context.Background(), "second"); !errors.Is(err, ErrTickBusy) {
		t.Fatalf("err=%v want ErrTickBusy", err)
	}
	close(runner.block)
	<-done
}

func TestRunLoop(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &recordRunner{}
	// initial wait, 2 gaps, next wait (cancels)
	sl := &sleepLog{cancel: cancel, limit: 4}

	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	sleep := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
		return sl.sleep(ctx, d)
	}

	s := New(Config{}, Deps{
		Registry: testRegistry(t),
		RunState: distribution.NewRunState(true),
		Runner:   runner,
		Log:      logx.Nop(),
		Random:   constRand{},
		Sleep:    sleep,
		Now:      clock,
	})

	err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	waits := sl.all()
	if len(waits) != 4 || waits[0] != 20*time.Second {
		t.Fatalf("waits=%v", waits)
	}
	// min active cadence 105, low jitter -5
	if waits[3] != 100*time.Minute {
		t.Fatalf("second wait=%s want 100m", waits[3])
	}
	if len(runner.ran()) != 3 {
		t.Fatalf("ran=%v", runner.ran())
	}
}

func TestAddReportValidatesSpec(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	s := New(Config{ReportCron: "not a cron"}, Deps{Registry: reg, RunState: distribution.NewRunState(true), Runner: &recordRunner{}})
	if err := s.AddReport("stats", func(context.Context) {}); err == nil {
		t.Fatalf("expected parse error")
	}

	s = New(Config{ReportCron: "@daily"}, Deps{Registry: reg, RunState: distribution.NewRunState(true), Runner: &recordRunner{}})
	if err := s.AddReport("stats", func(context.Context) {}); err != nil {
		t.Fatalf("AddReport: %v", err)
	}
}
