package control

import (
	"context"
	"errors"
	"fmt"

	"dealbot/internal/distribution"
	"dealbot/internal/eventbus"
	"dealbot/internal/task/scheduler"
	logx "dealbot/pkg/logx"
)

func (d *Dispatcher) toggleBot(ctx context.Context, req *Request) error {
	active := d.deps.RunState.Toggle()
	d.audit(ctx, req, nil, map[string]any{"active": active})
	d.publish(eventbus.PolicyChange, PolicyEvent{Action: req.Action.Kind.String(), ActorID: req.FromID})
	if active {
		req.Toast = "Distribution resumed"
	} else {
		req.Toast = "Distribution paused"
	}
	return d.render(ctx, req, d.mainMenu(""))
}

func (d *Dispatcher) resetLedger(ctx context.Context, req *Request) error {
	n := d.deps.Ledger.Clear()
	d.audit(ctx, req, nil, map[string]any{"removed": n})
	d.publish(eventbus.LedgerReset, n)
	req.Toast = fmt.Sprintf("Cleared %d ids", n)
	return d.render(ctx, req, d.mainMenu(fmt.Sprintf("🗑 Dedup ledger cleared (%d ids).", n)))
}

func (d *Dispatcher) toggleChannel(ctx context.Context, req *Request) error {
	p, err := d.deps.Registry.Toggle(req.Action.Key)
	if errors.Is(err, distribution.ErrUnknownChannel) {
		return d.unknownChannel(ctx, req)
	}
	d.audit(ctx, req, err, map[string]any{"active": p.Active})
	if err != nil {
		return err
	}
	d.publish(eventbus.PolicyChange, PolicyEvent{Action: req.Action.Kind.String(), Key: p.Key, ActorID: req.FromID})
	return d.render(ctx, req, d.channelView(p, ""))
}

func (d *Dispatcher) setTime(ctx context.Context, req *Request) error {
	a := req.Action
	p, err := d.deps.Registry.SetCadence(a.Key, a.Minutes)
	if errors.Is(err, distribution.ErrUnknownChannel) {
		return d.unknownChannel(ctx, req)
	}
	d.audit(ctx, req, err, map[string]any{"minutes": a.Minutes})
	if err != nil {
		req.Toast = err.Error()
		return d.render(ctx, req, d.channelView(p, ""))
	}
	d.publish(eventbus.PolicyChange, PolicyEvent{Action: a.Kind.String(), Key: p.Key, ActorID: req.FromID})
	req.Toast = fmt.Sprintf("Cadence set to %d min", a.Minutes)
	return d.render(ctx, req, d.channelView(p, fmt.Sprintf("✅ Cadence updated to every %d minutes.", a.Minutes)))
}

func (d *Dispatcher) setPrice(ctx context.Context, req *Request) error {
	a := req.Action
	p, err := d.deps.Registry.SetPriceRange(a.Key, a.MinPrice, a.MaxPrice)
	if errors.Is(err, distribution.ErrUnknownChannel) {
		return d.unknownChannel(ctx, req)
	}
	d.audit(ctx, req, err, map[string]any{"min": a.MinPrice, "max": a.MaxPrice})
	switch {
	case errors.Is(err, distribution.ErrFixedPrice):
		req.Toast = "Price range is fixed for this channel"
		return d.render(ctx, req, d.channelView(p, ""))
	case err != nil:
		req.Toast = "Invalid price range"
		return d.render(ctx, req, d.channelView(p, ""))
	}
	d.publish(eventbus.PolicyChange, PolicyEvent{Action: a.Kind.String(), Key: p.Key, ActorID: req.FromID})
	req.Toast = "Price range set to " + p.PriceBand()
	return d.render(ctx, req, d.channelView(p, "✅ Price range updated to "+p.PriceBand()+"."))
}

// testAll runs one tick over the active channels in the background and
// edits the panel with the outcome. A paused bot stays paused.
func (d *Dispatcher) testAll(ctx context.Context, req *Request) error {
	if d.deps.Ticker == nil {
		return errors.New("no ticker configured")
	}
	if !d.deps.RunState.Active() {
		req.Toast = "Distribution is paused"
		return d.render(ctx, req, d.mainMenu("⏸ Resume the bot before running a test."))
	}
	req.Toast = "Test run started"
	if err := d.render(ctx, req, runningView("all active channels")); err != nil {
		req.Log.Debug("running view failed", logx.Err(err))
	}

	ref, chat, log := req.Ref, req.Chat, req.Log
	d.spawn("control.test", func(bg context.Context) {
		tctx, cancel := context.WithTimeout(bg, d.cfg.TestTimeout)
		defer cancel()
		res, err := d.deps.Ticker.TryTick(tctx, "manual")
		if errors.Is(err, scheduler.ErrTickBusy) {
			d.finishTest(tctx, log, ref, chat, busyView(backMain))
			return
		}
		d.finishTest(tctx, log, ref, chat, tickResultView(res))
	})
	return nil
}

// testChannel runs one cycle for a channel even when it is disabled. The
// stored flag is not touched.
func (d *Dispatcher) testChannel(ctx context.Context, req *Request) error {
	if d.deps.Cycle == nil {
		return errors.New("no cycle runner configured")
	}
	return d.withChannel(ctx, req, func(p distribution.ChannelPolicy) error {
		req.Toast = "Test run started"
		if err := d.render(ctx, req, runningView(p.Label())); err != nil {
			req.Log.Debug("running view failed", logx.Err(err))
		}
		p.Active = true

		ref, chat, log := req.Ref, req.Chat, req.Log
		d.spawn("control.test."+p.Key, func(bg context.Context) {
			tctx, cancel := context.WithTimeout(bg, d.cfg.TestTimeout)
			defer cancel()
			res, err := d.deps.Cycle.TryRun(tctx, p)
			back := Action{Kind: KindChannel, Key: p.Key}
			switch {
			case errors.Is(err, distribution.ErrCycleBusy):
				d.finishTest(tctx, log, ref, chat, busyView(back))
			case err != nil:
				log.Warn("channel test failed", logx.String("channel", p.Key), logx.Err(err))
				d.finishTest(tctx, log, ref, chat, cycleResultView(p, res, err))
			default:
				d.finishTest(tctx, log, ref, chat, cycleResultView(p, res, nil))
			}
		})
		return nil
	})
}
