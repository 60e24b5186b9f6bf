package scheduler

import (
	"context"
	"errors"
	"time"

	"dealbot/internal/distribution"
)

var ErrTickBusy = errors.New("a tick is already running")

type Config struct {
	// First tick lands this long after start.
	InitialDelayMin time.Duration
	InitialDelayMax time.Duration

	// Pause between two channels inside one tick.
	ChannelGapMin time.Duration
	ChannelGapMax time.Duration

	FloorMinutes  int
	SpreadMinutes int

	// ReportCron enables a periodic report (5 or 6 field spec, or descriptor).
	ReportCron string
	Timezone   string
}

func (c Config) withDefaults() Config {
	if c.InitialDelayMin <= 0 && c.InitialDelayMax <= 0 {
		c.InitialDelayMin, c.InitialDelayMax = 20*time.Second, 60*time.Second
	}
	if c.InitialDelayMax < c.InitialDelayMin {
		c.InitialDelayMax = c.InitialDelayMin
	}
	if c.ChannelGapMin <= 0 && c.ChannelGapMax <= 0 {
		c.ChannelGapMin, c.ChannelGapMax = 8*time.Second, 15*time.Second
	}
	if c.ChannelGapMax < c.ChannelGapMin {
		c.ChannelGapMax = c.ChannelGapMin
	}
	if c.FloorMinutes <= 0 {
		c.FloorMinutes = 15
	}
	if c.SpreadMinutes < 0 {
		c.SpreadMinutes = 0
	} else if c.SpreadMinutes == 0 {
		c.SpreadMinutes = 5
	}
	return c
}

// Runner runs one channel cycle. *distribution.Cycle satisfies it.
type Runner interface {
	Run(ctx context.Context, p distribution.ChannelPolicy) (distribution.Result, error)
}

type State int32

const (
	StateWaiting State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "RUNNING_CYCLE"
	}
	return "WAITING"
}

// TickResult summarizes one pass over the active channels.
type TickResult struct {
	Reason   string
	Started  time.Time
	Took     time.Duration
	Paused   bool
	Channels []distribution.Result
	Errors   int
}

// Sent totals the deals sent across channels.
func (r TickResult) Sent() int {
	n := 0
	for _, c := range r.Channels {
		n += c.Sent
	}
	return n
}

type Snapshot struct {
	State      State
	NextAt     time.Time
	LastTick   time.Time
	LastResult TickResult
	Ticks      int
	Base       int
	ReportNext time.Time
}
