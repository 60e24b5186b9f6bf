package distribution

import "sync"

// DefaultLedgerSize is the ledger capacity when none is configured.
const DefaultLedgerSize = 1000

// Ledger is the bounded in-memory set of already-sent item ids.
//
// When an insert pushes the size past the capacity M, the oldest
// ceil(M/5) ids are evicted in insertion order.
type Ledger struct {
	mu    sync.Mutex
	cap   int
	ids   map[string]struct{}
	order []string
}

func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultLedgerSize
	}
	return &Ledger{cap: capacity, ids: make(map[string]struct{}, capacity+1)}
}

func (l *Ledger) Contains(id string) bool {
	l.mu.Lock()
	_, ok := l.ids[id]
	l.mu.Unlock()
	return ok
}

// Insert records id. Inserting a present id is a no-op.
func (l *Ledger) Insert(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[id]; ok {
		return
	}
	l.ids[id] = struct{}{}
	l.order = append(l.order, id)
	if len(l.ids) <= l.cap {
		return
	}

	n := min(l.evictCount(), len(l.order))
	for _, old := range l.order[:n] {
		delete(l.ids, old)
	}
	// copy so the backing array does not keep growing from the front
	l.order = append(make([]string, 0, l.cap+1), l.order[n:]...)
}

func (l *Ledger) evictCount() int {
	return (l.cap + 4) / 5
}

// Clear empties the ledger and returns how many ids it held.
func (l *Ledger) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.ids)
	l.ids = make(map[string]struct{}, l.cap+1)
	l.order = nil
	return n
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

func (l *Ledger) Cap() int { return l.cap }
