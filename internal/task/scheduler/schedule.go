package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"dealbot/internal/distribution"
)

// TickSchedule is a cron.Schedule whose first activation is a short random
// delay after start and whose later activations follow the shared cadence
// with +/- spread minutes of jitter, never below the floor.
type TickSchedule struct {
	base  func() int // minutes
	rnd   distribution.Random
	first time.Time

	floorMinutes  int
	spreadMinutes int
}

var _ cron.Schedule = (*TickSchedule)(nil)

func NewTickSchedule(cfg Config, base func() int, rnd distribution.Random, start time.Time) *TickSchedule {
	cfg = cfg.withDefaults()
	initial := time.Duration(distribution.Between(rnd, int(cfg.InitialDelayMin/time.Second), int(cfg.InitialDelayMax/time.Second))) * time.Second
	return &TickSchedule{
		base:          base,
		rnd:           rnd,
		first:         start.Add(initial),
		floorMinutes:  cfg.FloorMinutes,
		spreadMinutes: cfg.SpreadMinutes,
	}
}

func (s *TickSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return t.Add(time.Duration(s.DelayMinutes()) * time.Minute)
}

// DelayMinutes draws the next wait: max(floor, base + U[-spread, spread]).
func (s *TickSchedule) DelayMinutes() int {
	return max(s.floorMinutes, s.base()+distribution.Between(s.rnd, -s.spreadMinutes, s.spreadMinutes))
}

// Base is the current shared cadence.
func (s *TickSchedule) Base() int { return s.base() }
