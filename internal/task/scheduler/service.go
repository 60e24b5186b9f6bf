package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"dealbot/internal/distribution"
	"dealbot/internal/eventbus"
	logx "dealbot/pkg/logx"
)

type Deps struct {
	Registry *distribution.Registry
	RunState *distribution.RunState
	Runner   Runner
	Bus      eventbus.Bus // optional
	Log      logx.Logger
	Random   distribution.Random  // optional
	Sleep    distribution.Sleeper // optional
	Now      func() time.Time     // optional
}

type Service struct {
	cfg   Config
	deps  Deps
	log   logx.Logger
	sched *TickSchedule

	// held for the duration of a tick
	tickMu sync.Mutex

	state atomic.Int32

	mu       sync.Mutex
	nextAt   time.Time
	lastTick time.Time
	lastRes  TickResult
	ticks    int

	parser  cron.Parser
	c       *cron.Cron
	reports []reportDef
}

type reportDef struct {
	name string
	fn   func(ctx context.Context)
	id   cron.EntryID
}

func New(cfg Config, deps Deps) *Service {
	cfg = cfg.withDefaults()
	if deps.Random == nil {
		deps.Random = distribution.NewRandom()
	}
	if deps.Sleep == nil {
		deps.Sleep = distribution.Sleep
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	s := &Service{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.With(logx.String("comp", "scheduler")),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	s.sched = NewTickSchedule(cfg, deps.Registry.MinActiveCadence, deps.Random, deps.Now())
	return s
}

// AddReport registers fn on the configured report cron. It is a no-op when
// no report cron is configured. Must be called before Run.
func (s *Service) AddReport(name string, fn func(ctx context.Context)) error {
	spec := strings.TrimSpace(s.cfg.ReportCron)
	if spec == "" || fn == nil {
		return nil
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("report cron %q: %w", spec, err)
	}
	s.mu.Lock()
	s.reports = append(s.reports, reportDef{name: name, fn: fn})
	s.mu.Unlock()
	return nil
}

// Run is the scheduler loop. It returns when ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.startReports(ctx)
	defer s.stopReports()

	s.log.Info("scheduler started", logx.Int("base_minutes", s.sched.Base()), logx.Int("channels", s.deps.Registry.Len()))
	for {
		now := s.deps.Now()
		next := s.sched.Next(now)
		s.setWaiting(next)
		s.log.Info("next tick scheduled", logx.Time("at", next), logx.Duration("in", next.Sub(now)))

		if err := s.deps.Sleep(ctx, next.Sub(now)); err != nil {
			return err
		}
		s.tickMu.Lock()
		s.tick(ctx, "schedule")
		s.tickMu.Unlock()
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// TryTick runs one tick now unless one is already in progress.
func (s *Service) TryTick(ctx context.Context, reason string) (TickResult, error) {
	if !s.tickMu.TryLock() {
		return TickResult{Reason: reason}, ErrTickBusy
	}
	defer s.tickMu.Unlock()
	return s.tick(ctx, reason), nil
}

func (s *Service) tick(ctx context.Context, reason string) TickResult {
	res := TickResult{Reason: reason, Started: s.deps.Now()}
	log := s.log.With(logx.String("reason", reason))

	if !s.deps.RunState.Active() {
		res.Paused = true
		log.Info("tick skipped; distribution paused")
		s.finishTick(res)
		return res
	}

	s.state.Store(int32(StateRunning))
	defer s.state.Store(int32(StateWaiting))

	ran := false
	for _, key := range s.deps.Registry.Keys() {
		if ctx.Err() != nil || !s.deps.RunState.Active() {
			break
		}
		// re-read: the control panel may have toggled it meanwhile
		p, ok := s.deps.Registry.Get(key)
		if !ok || !p.Active {
			continue
		}
		if ran {
			if err := s.deps.Sleep(ctx, distribution.Jitter(s.deps.Random, s.cfg.ChannelGapMin, s.cfg.ChannelGapMax)); err != nil {
				break
			}
		}
		ran = true

		cr, err := s.runChannel(ctx, p)
		res.Channels = append(res.Channels, cr)
		if err != nil {
			res.Errors++
			log.Error("channel cycle failed", logx.String("channel", p.Key), logx.Err(err))
		}
	}

	res.Took = s.deps.Now().Sub(res.Started)
	s.finishTick(res)
	log.Info("tick finished",
		logx.Int("channels", len(res.Channels)),
		logx.Int("sent", res.Sent()),
		logx.Int("errors", res.Errors),
		logx.Duration("took", res.Took),
	)
	return res
}

// runChannel isolates one channel so a panic cannot end the tick.
func (s *Service) runChannel(ctx context.Context, p distribution.ChannelPolicy) (res distribution.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("channel cycle panicked", logx.String("channel", p.Key), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res = distribution.Result{Channel: p.Key}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.deps.Runner.Run(ctx, p)
}

func (s *Service) finishTick(res TickResult) {
	s.mu.Lock()
	s.ticks++
	s.lastTick = res.Started
	s.lastRes = res
	s.mu.Unlock()
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.TickDone, Time: s.deps.Now(), Data: res})
	}
}

func (s *Service) setWaiting(next time.Time) {
	s.state.Store(int32(StateWaiting))
	s.mu.Lock()
	s.nextAt = next
	s.mu.Unlock()
}

func (s *Service) State() State { return State(s.state.Load()) }

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		State:      s.State(),
		NextAt:     s.nextAt,
		LastTick:   s.lastTick,
		LastResult: s.lastRes,
		Ticks:      s.ticks,
		Base:       s.sched.Base(),
	}
	c := s.c
	var ids []cron.EntryID
	for _, r := range s.reports {
		ids = append(ids, r.id)
	}
	s.mu.Unlock()

	if c != nil {
		for _, id := range ids {
			if e := c.Entry(id); e.Valid() && (snap.ReportNext.IsZero() || e.Next.Before(snap.ReportNext)) {
				snap.ReportNext = e.Next
			}
		}
	}
	return snap
}

func (s *Service) startReports(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reports) == 0 || s.c != nil {
		return
	}
	loc := s.loadLocation()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.reports {
		r := &s.reports[i]
		id, err := s.c.AddFunc(s.cfg.ReportCron, func() { s.runReport(ctx, r.name, r.fn) })
		if err != nil {
			s.log.Error("report register failed", logx.String("name", r.name), logx.Err(err))
			continue
		}
		r.id = id
	}
	s.c.Start()
	s.log.Info("reports scheduled", logx.String("spec", s.cfg.ReportCron), logx.String("tz", loc.String()))
}

func (s *Service) runReport(ctx context.Context, name string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("report panicked", logx.String("name", name), logx.Any("panic", r))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	fn(ctx)
}

func (s *Service) stopReports() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn("report still running at shutdown")
	}
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
