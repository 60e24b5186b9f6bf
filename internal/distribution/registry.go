package distribution

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultCadenceMinutes is the shared cadence base when no channel is active.
const DefaultCadenceMinutes = 30

// Registry holds channel policies in configuration order. Readers get
// copies; changes go through the narrow setters below, which the control
// dispatcher is the only caller of.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]*ChannelPolicy
}

func NewRegistry(policies []ChannelPolicy) (*Registry, error) {
	r := &Registry{byKey: make(map[string]*ChannelPolicy, len(policies))}
	for i := range policies {
		p := policies[i]
		p.Key = strings.TrimSpace(p.Key)
		if p.Key == "" {
			return nil, fmt.Errorf("channel #%d: key is empty", i)
		}
		if _, dup := r.byKey[p.Key]; dup {
			return nil, fmt.Errorf("channel %q: duplicate key", p.Key)
		}
		if p.CadenceMinutes <= 0 {
			return nil, fmt.Errorf("channel %q: %w", p.Key, ErrInvalidCadence)
		}
		if err := checkRange(p.MinPrice, p.MaxPrice); err != nil {
			return nil, fmt.Errorf("channel %q: %w", p.Key, err)
		}
		r.order = append(r.order, p.Key)
		r.byKey[p.Key] = &p
	}
	return r, nil
}

func checkRange(minPrice, maxPrice float64) error {
	if minPrice < 0 || maxPrice < 0 {
		return fmt.Errorf("%w: negative bound", ErrInvalidRange)
	}
	if maxPrice > 0 && minPrice > maxPrice {
		return fmt.Errorf("%w: min %.2f > max %.2f", ErrInvalidRange, minPrice, maxPrice)
	}
	return nil
}

func (r *Registry) Get(key string) (ChannelPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byKey[key]
	if !ok {
		return ChannelPolicy{}, false
	}
	return *p, true
}

// Snapshot returns copies of every policy in configuration order.
func (r *Registry) Snapshot() []ChannelPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChannelPolicy, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, *r.byKey[k])
	}
	return out
}

func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.byKey {
		if p.Active {
			n++
		}
	}
	return n
}

// MinActiveCadence is the smallest cadence among active channels, or
// DefaultCadenceMinutes when none is active.
func (r *Registry) MinActiveCadence() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := 0
	for _, p := range r.byKey {
		if p.Active && (best == 0 || p.CadenceMinutes < best) {
			best = p.CadenceMinutes
		}
	}
	if best == 0 {
		return DefaultCadenceMinutes
	}
	return best
}

func (r *Registry) update(key string, fn func(p *ChannelPolicy) error) (ChannelPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byKey[key]
	if !ok {
		return ChannelPolicy{}, fmt.Errorf("%w: %s", ErrUnknownChannel, key)
	}
	if err := fn(p); err != nil {
		return *p, err
	}
	return *p, nil
}

// Toggle flips the channel's active flag and returns the updated policy.
func (r *Registry) Toggle(key string) (ChannelPolicy, error) {
	return r.update(key, func(p *ChannelPolicy) error {
		p.Active = !p.Active
		return nil
	})
}

func (r *Registry) SetCadence(key string, minutes int) (ChannelPolicy, error) {
	return r.update(key, func(p *ChannelPolicy) error {
		if minutes <= 0 {
			return ErrInvalidCadence
		}
		p.CadenceMinutes = minutes
		return nil
	})
}

// SetPriceRange replaces the price band. Fixed-price channels refuse.
func (r *Registry) SetPriceRange(key string, minPrice, maxPrice float64) (ChannelPolicy, error) {
	return r.update(key, func(p *ChannelPolicy) error {
		if p.FixedPrice {
			return ErrFixedPrice
		}
		if err := checkRange(minPrice, maxPrice); err != nil {
			return err
		}
		p.MinPrice, p.MaxPrice = minPrice, maxPrice
		return nil
	})
}

// RunState is the process-wide pause switch.
type RunState struct {
	active atomic.Bool
}

func NewRunState(active bool) *RunState {
	rs := &RunState{}
	rs.active.Store(active)
	return rs
}

func (s *RunState) Active() bool { return s.active.Load() }

// Toggle flips the state and returns the new value.
func (s *RunState) Toggle() bool {
	for {
		old := s.active.Load()
		if s.active.CompareAndSwap(old, !old) {
			return !old
		}
	}
}
