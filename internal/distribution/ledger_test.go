package distribution

import (
	"strconv"
	"sync"
	"testing"
)

func TestLedgerInsertIsIdempotent(t *testing.T) {
	t.Parallel()

	l := NewLedger(5)
	l.Insert("a")
	l.Insert("a")
	if l.Len() != 1 || !l.Contains("a") {
		t.Fatalf("len=%d contains=%v", l.Len(), l.Contains("a"))
	}
}

func TestLedgerClearTwice(t *testing.T) {
	t.Parallel()

	l := NewLedger(5)
	l.Insert("a")
	l.Insert("b")
	if n := l.Clear(); n != 2 {
		t.Fatalf("first clear=%d want 2", n)
	}
	if n := l.Clear(); n != 0 {
		t.Fatalf("second clear=%d want 0", n)
	}
	if l.Contains("a") {
		t.Fatalf("cleared ledger still contains a")
	}
}

func TestLedgerEvictionBound(t *testing.T) {
	t.Parallel()

	for _, capacity := range []int{1, 4, 5, 10, 13, 1000} {
		capacity := capacity
		t.Run(strconv.Itoa(capacity), func(t *testing.T) {
			t.Parallel()
			l := NewLedger(capacity)
			evict := (capacity + 4) / 5
			for i := 0; i < capacity*3+7; i++ {
				l.Insert(strconv.Itoa(i))
				if l.Len() > capacity {
					t.Fatalf("len=%d exceeds cap %d after insert %d", l.Len(), capacity, i)
				}
			}
			// fill to exactly M, then one more triggers an eviction
			l.Clear()
			for i := 0; i < capacity; i++ {
				l.Insert("f" + strconv.Itoa(i))
			}
			l.Insert("over")
			if want := capacity - evict + 1; l.Len() > want {
				t.Fatalf("len=%d want <= %d", l.Len(), want)
			}
		})
	}
}

// Eviction is FIFO: the oldest ids go first.
func TestLedgerEvictsOldestFirst(t *testing.T) {
	t.Parallel()

	l := NewLedger(10)
	for i := 0; i < 10; i++ {
		l.Insert(strconv.Itoa(i))
	}
	l.Insert("new")

	for i := 0; i < 2; i++ {
		if l.Contains(strconv.Itoa(i)) {
			t.Fatalf("expected %d evicted", i)
		}
	}
	for i := 2; i < 10; i++ {
		if !l.Contains(strconv.Itoa(i)) {
			t.Fatalf("expected %d kept", i)
		}
	}
	if !l.Contains("new") || l.Len() != 9 {
		t.Fatalf("len=%d", l.Len())
	}
}

func TestLedgerConcurrentClear(t *testing.T) {
	t.Parallel()

	l := NewLedger(50)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				l.Insert(strconv.Itoa(w) + ":" + strconv.Itoa(i))
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			l.Clear()
		}
	}()
	wg.Wait()

	if l.Len() > l.Cap() {
		t.Fatalf("len=%d cap=%d", l.Len(), l.Cap())
	}
}
