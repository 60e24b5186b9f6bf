package distribution

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Random is the randomness source used for counts, samples and jitter.
// Tests inject a deterministic one.
type Random interface {
	Intn(n int) int
}

// NewRandom returns a goroutine-safe Random seeded from the clock.
func NewRandom() Random {
	return &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSeededRandom returns a goroutine-safe Random with a fixed seed.
func NewSeededRandom(seed int64) Random {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// Between returns a uniform integer in [lo, hi]. hi < lo yields lo.
func Between(r Random, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.Intn(hi-lo+1)
}

// Jitter returns a uniform duration in [lo, hi] at millisecond resolution.
func Jitter(r Random, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := int((hi - lo) / time.Millisecond)
	return lo + time.Duration(r.Intn(span+1))*time.Millisecond
}

// Sample picks n distinct elements uniformly (partial Fisher-Yates). The
// input is not modified.
func Sample[T any](r Random, items []T, n int) []T {
	cp := append([]T(nil), items...)
	n = min(max(n, 0), len(cp))
	for i := 0; i < n; i++ {
		j := i + r.Intn(len(cp)-i)
		cp[i], cp[j] = cp[j], cp[i]
	}
	return cp[:n]
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
