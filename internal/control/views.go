package control

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tele "gopkg.in/telebot.v4"

	"dealbot/internal/distribution"
	"dealbot/internal/task/scheduler"
	kit "dealbot/internal/transport"
	logx "dealbot/pkg/logx"
	"dealbot/pkg/tgui"
)

var backMain = Action{Kind: KindMainMenu}

const (
	recentSendsShown = 5
	filterWordsShown = 10
)

func btn(text string, a Action) tele.Btn { return tgui.Btn(text, a.Token()) }

func statusDot(on bool) string {
	if on {
		return "🟢"
	}
	return "🔴"
}

func (d *Dispatcher) mainMenu(notice string) tgui.Message {
	active := d.deps.RunState.Active()
	status := "🟢 Running"
	toggle := "🔴 Pause bot"
	if !active {
		status = "🔴 Paused"
		toggle = "🟢 Resume bot"
	}

	b := tgui.New().Title("🤖", "Deal Bot Control Panel")
	if notice != "" {
		b.Blank().Line(notice)
	}
	b.Blank().
		KV("Status", status).
		KV("Channels", fmt.Sprintf("%d/%d active", d.deps.Registry.ActiveCount(), d.deps.Registry.Len())).
		KV("Dedup ledger", humanize.Comma(int64(d.deps.Ledger.Len()))+" / "+humanize.Comma(int64(d.deps.Ledger.Cap())))
	if d.deps.Ticker != nil {
		snap := d.deps.Ticker.Snapshot()
		b.KV("Scheduler", schedulerLine(snap, d.deps.Now()))
	}
	if d.deps.Stats != nil {
		st := d.deps.Stats.Snapshot()
		b.KV("Sent", humanize.Comma(int64(st.Sent))+" since "+humanize.Time(st.Since))
	}

	kb := tgui.NewInline().
		Row(btn("📺 Channels", Action{Kind: KindChannelsMenu})).
		Row(btn("📊 Stats", Action{Kind: KindStats}), btn("🧪 Test now", Action{Kind: KindTestAll})).
		Row(btn(toggle, Action{Kind: KindToggleBot})).
		Row(btn("🔄 Reset duplicates", Action{Kind: KindResetLedger}))
	return b.Inline(kb).Build()
}

func schedulerLine(snap scheduler.Snapshot, now time.Time) string {
	line := snap.State.String()
	if snap.State == scheduler.StateWaiting && !snap.NextAt.IsZero() {
		line += ", next tick " + humanize.RelTime(snap.NextAt, now, "ago", "from now")
	}
	return line + fmt.Sprintf(" (every ~%d min)", snap.Base)
}

func (d *Dispatcher) statsView(ctx context.Context) tgui.Message {
	now := d.deps.Now()
	b := tgui.New().Title("📊", "Statistics").Blank()

	var st distribution.StatsSnapshot
	if d.deps.Stats != nil {
		st = d.deps.Stats.Snapshot()
		b.KV("Uptime", humanize.RelTime(st.Since, now, "", ""))
		b.KV("Deals sent", humanize.Comma(int64(st.Sent)))
		b.KV("Send failures", humanize.Comma(int64(st.Failed)))
		b.KV("Ticks", strconv.Itoa(st.Ticks))
		if !st.LastTick.IsZero() {
			b.KV("Last tick", humanize.RelTime(st.LastTick, now, "ago", "from now"))
		}
	}
	b.KV("Dedup ledger", humanize.Comma(int64(d.deps.Ledger.Len()))+" ids")
	if d.deps.Ticker != nil {
		b.KV("Scheduler", schedulerLine(d.deps.Ticker.Snapshot(), now))
	}

	b.Blank().Section("Channels")
	for _, p := range d.deps.Registry.Snapshot() {
		cc := st.Channels[p.Key]
		b.Line(fmt.Sprintf("%s %s: %d sent · %d failed · %d runs", statusDot(p.Active), p.Label(), cc.Sent, cc.Failed, cc.Cycles))
	}

	if d.deps.Store != nil {
		recent, err := d.deps.Store.RecentSends(ctx, recentSendsShown)
		if err != nil {
			d.log.Warn("recent sends unavailable", logx.Err(err))
		}
		if len(recent) > 0 {
			b.Blank().Section("Latest posts")
			for _, r := range recent {
				b.Bullets(fmt.Sprintf("%s · $%.2f · %s · %s",
					tgui.TruncRunes(r.Title, 48), r.Price, r.Channel, humanize.RelTime(r.At, now, "ago", "from now")))
			}
		}
	}

	return b.Inline(tgui.NewInline().Row(btn("🔙 Back", backMain))).Build()
}

func (d *Dispatcher) channelsMenu() tgui.Message {
	policies := d.deps.Registry.Snapshot()
	b := tgui.New().Title("📺", "Channels").Blank().
		Line(fmt.Sprintf("%d of %d channels active. Pick one to manage it.", d.deps.Registry.ActiveCount(), len(policies)))

	btns := make([]tele.Btn, 0, len(policies))
	for _, p := range policies {
		btns = append(btns, btn(statusDot(p.Active)+" "+p.Label(), Action{Kind: KindChannel, Key: p.Key}))
	}
	kb := tgui.NewInline().Grid(2, btns...).Row(btn("🔙 Main menu", backMain))
	return b.Inline(kb).Build()
}

func (d *Dispatcher) channelView(p distribution.ChannelPolicy, notice string) tgui.Message {
	status := "🟢 Active"
	toggle := "🔴 Disable"
	if !p.Active {
		status = "🔴 Disabled"
		toggle = "🟢 Enable"
	}
	band := p.PriceBand()
	if p.FixedPrice {
		band += " (fixed)"
	}

	b := tgui.New().Title("📺", p.Label())
	if notice != "" {
		b.Blank().Line(notice)
	}
	b.Blank().
		KV("Destination", p.Destination).
		KV("Status", status).
		KV("Cadence", fmt.Sprintf("every %d min", p.CadenceMinutes)).
		KV("Price", band).
		KV("Min commission", formatPercent(p.MinCommission)).
		KV("Keywords", fmt.Sprintf("%d include · %d exclude", len(p.Keywords), len(p.ExcludeKeywords)))
	if p.Hot {
		b.KV("Batch", "hot (3-6 per run)")
	}
	if d.deps.Stats != nil {
		cc := d.deps.Stats.Snapshot().Channels[p.Key]
		line := fmt.Sprintf("%d sent · %d failed", cc.Sent, cc.Failed)
		if !cc.LastCycle.IsZero() {
			line += " · last run " + humanize.RelTime(cc.LastCycle, d.deps.Now(), "ago", "from now")
		}
		b.KV("History", line)
	}

	kb := tgui.NewInline().
		Row(btn(toggle, Action{Kind: KindToggleChannel, Key: p.Key})).
		Row(btn("⏱️ Change time", Action{Kind: KindTimeMenu, Key: p.Key}), btn("🧪 Test", Action{Kind: KindTestChannel, Key: p.Key}))
	if !p.FixedPrice {
		kb.Row(btn("💰 Change price", Action{Kind: KindPriceMenu, Key: p.Key}))
	}
	kb.Row(btn("📊 Filter info", Action{Kind: KindFilters, Key: p.Key})).
		Row(btn("🔙 Channels", Action{Kind: KindChannelsMenu}))
	return b.Inline(kb).Build()
}

func filtersView(p distribution.ChannelPolicy) tgui.Message {
	b := tgui.New().Title("📊", "Filters: "+p.Label()).Blank().
		KV("Price", p.PriceBand()).
		KV("Min commission", formatPercent(p.MinCommission)).
		KV("Discount", "required (original above sale price)")

	b.Blank().Section("Include keywords")
	if len(p.Keywords) == 0 {
		b.Line("any title")
	} else {
		b.Line(joinShown(p.Keywords, filterWordsShown))
	}
	b.Blank().Section("Exclude keywords")
	if len(p.ExcludeKeywords) == 0 {
		b.Line("none")
	} else {
		b.Line(joinShown(p.ExcludeKeywords, filterWordsShown))
	}
	return b.Inline(tgui.NewInline().Row(btn("🔙 Back", Action{Kind: KindChannel, Key: p.Key}))).Build()
}

func (d *Dispatcher) timeMenu(p distribution.ChannelPolicy) tgui.Message {
	b := tgui.New().Title("⏱️", "Cadence: "+p.Label()).Blank().
		KV("Current", fmt.Sprintf("every %d min", p.CadenceMinutes)).
		Blank().
		Line("Ticks run at the shortest cadence among active channels, so a longer value here only matters when this channel sets the pace.")

	btns := make([]tele.Btn, 0, len(d.cfg.CadenceOptions))
	for _, m := range d.cfg.CadenceOptions {
		label := formatMinutes(m)
		if m == p.CadenceMinutes {
			label = "✅ " + label
		}
		btns = append(btns, btn(label, Action{Kind: KindSetTime, Key: p.Key, Minutes: m}))
	}
	kb := tgui.NewInline().Grid(2, btns...).Row(btn("🔙 Back", Action{Kind: KindChannel, Key: p.Key}))
	return b.Inline(kb).Build()
}

func (d *Dispatcher) priceMenu(p distribution.ChannelPolicy) tgui.Message {
	b := tgui.New().Title("💰", "Price range: "+p.Label()).Blank().
		KV("Current", p.PriceBand())

	btns := make([]tele.Btn, 0, len(d.cfg.PricePresets))
	for _, r := range d.cfg.PricePresets {
		cand := distribution.ChannelPolicy{MinPrice: r.Min, MaxPrice: r.Max}
		label := cand.PriceBand()
		if r.Min == p.MinPrice && r.Max == p.MaxPrice {
			label = "✅ " + label
		}
		btns = append(btns, btn(label, Action{Kind: KindSetPrice, Key: p.Key, MinPrice: r.Min, MaxPrice: r.Max}))
	}
	kb := tgui.NewInline().Grid(2, btns...).Row(btn("🔙 Back", Action{Kind: KindChannel, Key: p.Key}))
	return b.Inline(kb).Build()
}

func runningView(target string) tgui.Message {
	return tgui.New().Title("🧪", "Test run").Blank().
		Line("Running " + target + "…").
		Line("This message updates when the run finishes.").
		Build()
}

func busyView(back Action) tgui.Message {
	return tgui.New().Title("⏳", "Already running").Blank().
		Line("A run is in progress. Try again when it finishes.").
		Inline(tgui.NewInline().Row(btn("🔙 Back", back))).
		Build()
}

func tickResultView(res scheduler.TickResult) tgui.Message {
	b := tgui.New().Title("🧪", "Test run finished").Blank()
	if res.Paused {
		b.Line("Distribution is paused; nothing was sent.")
	} else {
		b.KV("Channels", strconv.Itoa(len(res.Channels))).
			KV("Sent", strconv.Itoa(res.Sent())).
			KV("Errors", strconv.Itoa(res.Errors)).
			KV("Took", res.Took.Round(time.Second).String())
		for _, c := range res.Channels {
			b.Bullets(fmt.Sprintf("%s: %d sent, %d failed, %d eligible", c.Channel, c.Sent, c.Failed, c.Eligible))
		}
	}
	return b.Inline(tgui.NewInline().Row(btn("🔙 Main menu", backMain))).Build()
}

func cycleResultView(p distribution.ChannelPolicy, res distribution.Result, err error) tgui.Message {
	b := tgui.New().Title("🧪", "Test: "+p.Label()).Blank().
		KV("Fetched", strconv.Itoa(res.Fetched)).
		KV("Eligible", strconv.Itoa(res.Eligible)).
		KV("Sent", strconv.Itoa(res.Sent)).
		KV("Failed", strconv.Itoa(res.Failed))
	if res.Fallback {
		b.KV("Keywords", "relaxed (no keyword match)")
	}
	if err != nil {
		b.KV("Error", err.Error())
	}
	return b.Inline(tgui.NewInline().Row(btn("🔙 Back", Action{Kind: KindChannel, Key: p.Key}))).Build()
}

// finishTest puts the final result on the panel message, or sends it when
// there is no message to edit.
func (d *Dispatcher) finishTest(ctx context.Context, log logx.Logger, ref kit.MessageRef, chat kit.ChatTarget, m tgui.Message) {
	// the run may have used up the context
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	var err error
	if ref.MessageID != 0 {
		err = m.Edit(ctx, d.deps.Adapter, ref)
	} else {
		_, err = m.Send(ctx, d.deps.Adapter, chat)
	}
	if err != nil {
		log.Warn("test result not delivered", logx.Err(err))
	}
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}

func formatMinutes(m int) string {
	if m%60 == 0 {
		return fmt.Sprintf("%d min (%dh)", m, m/60)
	}
	return fmt.Sprintf("%d min (%.1fh)", m, float64(m)/60)
}

func joinShown(words []string, n int) string {
	if len(words) <= n {
		return strings.Join(words, ", ")
	}
	return strings.Join(words[:n], ", ") + fmt.Sprintf(" … (+%d more)", len(words)-n)
}
