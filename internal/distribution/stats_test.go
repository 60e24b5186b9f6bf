package distribution

import (
	"context"
	"testing"
	"time"

	"dealbot/internal/eventbus"
)

func TestStatsCollect(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	s := NewStats(time.Unix(0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Collect(ctx, ch)
	}()

	bus.Publish(eventbus.Event{Type: eventbus.DealSent, Data: SendEvent{Channel: "tech", ItemID: "1"}})
	bus.Publish(eventbus.Event{Type: eventbus.DealFailed, Data: SendEvent{Channel: "tech", ItemID: "2"}})
	bus.Publish(eventbus.Event{Type: eventbus.TickDone})
	bus.Publish(eventbus.Event{Type: eventbus.LedgerReset})
	unsub()
	<-done
	cancel()

	snap := s.Snapshot()
	if snap.Sent != 1 || snap.Failed != 1 || snap.Ticks != 1 || snap.LedgerReset != 1 {
		t.Fatalf("snap=%+v", snap)
	}
	if cc := snap.Channels["tech"]; cc.Sent != 1 || cc.Failed != 1 {
		t.Fatalf("tech=%+v", cc)
	}
	snap.Channels["tech"] = ChannelCounters{}
	if s.Snapshot().Channels["tech"].Sent != 1 {
		t.Fatalf("snapshot must be a copy")
	}
}
