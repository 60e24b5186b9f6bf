package distribution

import (
	"context"
	"sync"
	"time"

	"dealbot/internal/eventbus"
)

// ChannelCounters are per-channel totals since start.
type ChannelCounters struct {
	Sent       int
	Failed     int
	Cycles     int
	LastCycle  time.Time
	LastResult Result
}

// StatsSnapshot is a copy of the tracker state.
type StatsSnapshot struct {
	Since       time.Time
	Sent        int
	Failed      int
	Ticks       int
	LastTick    time.Time
	LedgerReset int
	Channels    map[string]ChannelCounters
}

// Stats aggregates bus events into counters for the stats view.
type Stats struct {
	mu   sync.Mutex
	snap StatsSnapshot
}

func NewStats(now time.Time) *Stats {
	return &Stats{snap: StatsSnapshot{Since: now, Channels: map[string]ChannelCounters{}}}
}

// Collect consumes events until ctx is done or the channel closes.
func (s *Stats) Collect(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.Observe(e)
		}
	}
}

func (s *Stats) Observe(e eventbus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e.Type {
	case eventbus.DealSent:
		s.snap.Sent++
		if ev, ok := e.Data.(SendEvent); ok {
			cc := s.snap.Channels[ev.Channel]
			cc.Sent++
			s.snap.Channels[ev.Channel] = cc
		}
	case eventbus.DealFailed:
		s.snap.Failed++
		if ev, ok := e.Data.(SendEvent); ok {
			cc := s.snap.Channels[ev.Channel]
			cc.Failed++
			s.snap.Channels[ev.Channel] = cc
		}
	case eventbus.CycleDone:
		if res, ok := e.Data.(Result); ok {
			cc := s.snap.Channels[res.Channel]
			cc.Cycles++
			cc.LastCycle = e.Time
			cc.LastResult = res
			s.snap.Channels[res.Channel] = cc
		}
	case eventbus.TickDone:
		s.snap.Ticks++
		s.snap.LastTick = e.Time
	case eventbus.LedgerReset:
		s.snap.LedgerReset++
	}
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.snap
	cp.Channels = make(map[string]ChannelCounters, len(s.snap.Channels))
	for k, v := range s.snap.Channels {
		cp.Channels[k] = v
	}
	return cp
}
