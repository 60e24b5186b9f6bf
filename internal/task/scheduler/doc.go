// Package scheduler drives distribution ticks.
//
// A single loop alternates between waiting and running one tick over every
// active channel in configuration order. The wait after a tick is derived
// from the smallest cadence among active channels, so channels with a longer
// cadence post at the shared rate. An optional cron entry emits periodic
// reports.
package scheduler
