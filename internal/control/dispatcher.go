// Package control is the operator panel: a long-poll loop that turns inline
// button taps and a few text commands into registry changes and views.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"dealbot/internal/distribution"
	"dealbot/internal/eventbus"
	"dealbot/internal/storage"
	"dealbot/internal/task/scheduler"
	kit "dealbot/internal/transport"
	logx "dealbot/pkg/logx"
	"dealbot/pkg/tgui"
)

// Ticker runs whole ticks on demand and exposes loop state.
type Ticker interface {
	TryTick(ctx context.Context, reason string) (scheduler.TickResult, error)
	Snapshot() scheduler.Snapshot
}

// ChannelRunner runs a single channel cycle unless one is in flight.
type ChannelRunner interface {
	TryRun(ctx context.Context, p distribution.ChannelPolicy) (distribution.Result, error)
}

// Spawner starts background work. *supervisor.Supervisor satisfies it.
type Spawner interface {
	Go0(name string, fn func(ctx context.Context))
}

type Config struct {
	Operators   []int64
	PollTimeout time.Duration
	RetryDelay  time.Duration

	// ActionTimeout bounds one view render; TestTimeout bounds a manual run.
	ActionTimeout time.Duration
	TestTimeout   time.Duration

	CadenceOptions []int
	PricePresets   []PriceRange
}

type PriceRange struct {
	Min float64
	Max float64
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 30 * time.Second
	}
	if c.TestTimeout <= 0 {
		c.TestTimeout = 30 * time.Minute
	}
	if len(c.CadenceOptions) == 0 {
		c.CadenceOptions = []int{60, 90, 120, 150, 180, 210, 240, 300}
	}
	if len(c.PricePresets) == 0 {
		c.PricePresets = []PriceRange{
			{0, 20}, {0, 50}, {0, 100}, {0, 150}, {0, 200}, {0, 300},
			{0, 400}, {0, 500}, {5, 100}, {10, 200}, {20, 300}, {50, 500},
		}
	}
	return c
}

type Deps struct {
	Adapter  kit.Adapter
	Registry *distribution.Registry
	RunState *distribution.RunState
	Ledger   *distribution.Ledger
	Cycle    ChannelRunner
	Ticker   Ticker
	Stats    *distribution.Stats // optional
	Store    storage.Store       // optional
	Bus      eventbus.Bus        // optional
	Spawner  Spawner             // optional
	Log      logx.Logger
	Sleep    distribution.Sleeper
	Now      func() time.Time
}

// Request is one authorized inbound action.
type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	Username string
	// Ref is the panel message to edit; zero for text commands.
	Ref        kit.MessageRef
	CallbackID string
	Action     Action
	Log        logx.Logger

	// Toast is shown in the callback answer.
	Toast string
}

// PolicyEvent is the payload of eventbus.PolicyChange.
type PolicyEvent struct {
	Action  string
	Key     string
	ActorID int64
}

type Dispatcher struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	mu        sync.RWMutex
	operators map[int64]struct{}

	// written by the polling goroutine only
	cursor atomic.Int64
}

func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if deps.Adapter == nil || deps.Registry == nil || deps.RunState == nil || deps.Ledger == nil {
		return nil, errors.New("control: adapter, registry, run state and ledger are required")
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Sleep == nil {
		deps.Sleep = distribution.Sleep
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	d := &Dispatcher{
		cfg:  cfg.withDefaults(),
		deps: deps,
		log:  deps.Log.With(logx.String("comp", "control")),
	}
	d.SetOperators(cfg.Operators)
	return d, nil
}

// SetOperators replaces the authorized sender set.
func (d *Dispatcher) SetOperators(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id != 0 {
			m[id] = struct{}{}
		}
	}
	d.mu.Lock()
	d.operators = m
	d.mu.Unlock()
}

func (d *Dispatcher) Operators() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]int64, 0, len(d.operators))
	for id := range d.operators {
		out = append(out, id)
	}
	return out
}

func (d *Dispatcher) isOperator(id int64) bool {
	d.mu.RLock()
	_, ok := d.operators[id]
	d.mu.RUnlock()
	return ok
}

// Cursor is the highest update id consumed so far.
func (d *Dispatcher) Cursor() int { return int(d.cursor.Load()) }

// Run polls until ctx is done. Poll failures are logged and retried.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("control loop started", logx.Int("operators", len(d.Operators())), logx.Duration("poll_timeout", d.cfg.PollTimeout))
	defer d.log.Info("control loop stopped")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Warn("poll failed", logx.Err(err))
			if err := d.deps.Sleep(ctx, d.cfg.RetryDelay); err != nil {
				return err
			}
		}
	}
}

// Poll fetches one batch and handles it. The cursor advances past every
// update, handled or not.
func (d *Dispatcher) Poll(ctx context.Context) error {
	ups, err := d.deps.Adapter.PollUpdates(ctx, d.Cursor(), d.cfg.PollTimeout)
	if err != nil {
		return err
	}
	for _, up := range ups {
		if int64(up.ID) > d.cursor.Load() {
			d.cursor.Store(int64(up.ID))
		}
		d.handle(ctx, up)
	}
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateCallback:
		if up.Callback != nil {
			d.handleCallback(ctx, up)
		}
	case kit.UpdateMessage:
		if up.Message != nil {
			d.handleMessage(ctx, up)
		}
	}
}

func (d *Dispatcher) reject(up kit.Update, from int64) {
	d.log.Debug("update dropped",
		logx.Int("update_id", up.ID),
		logx.Int64("from_id", from),
		logx.Err(fmt.Errorf("%w: %d", distribution.ErrUnauthorized, from)),
	)
}

func (d *Dispatcher) handleMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if !d.isOperator(msg.FromID) {
		d.reject(up, msg.FromID)
		return
	}
	var a Action
	switch commandName(msg.Text) {
	case "start", "menu":
		a = Action{Kind: KindMainMenu}
	case "stats":
		a = Action{Kind: KindStats}
	default:
		return
	}
	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:   msg.FromID,
		Username: msg.FromUsername,
		Action:   a,
	}
	d.dispatch(ctx, req)
}

// commandName returns "stats" for "/stats@dealbot arg", "" for non-commands.
func commandName(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

func (d *Dispatcher) handleCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if !d.isOperator(cb.FromID) {
		d.reject(up, cb.FromID)
		return
	}
	a, err := ParseAction(cb.Data)
	if err != nil {
		d.log.Debug("bad action token", logx.String("data", cb.Data), logx.Err(err))
		_ = d.deps.Adapter.AnswerCallback(ctx, cb.ID, "Unknown action")
		return
	}
	req := &Request{
		Update:     up,
		Chat:       kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:     cb.FromID,
		Username:   cb.FromUsername,
		Ref:        kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID},
		CallbackID: cb.ID,
		Action:     a,
	}
	d.dispatch(ctx, req)
	// stop the client spinner
	if err := d.deps.Adapter.AnswerCallback(ctx, cb.ID, req.Toast); err != nil {
		d.log.Debug("answer callback failed", logx.Err(err))
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) {
	req.Log = d.log.With(
		logx.String("rid", uuid.NewString()[:8]),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
	)
	final := Chain(
		d.route,
		MWPanicRecover(d.log),
		MWRequestLog(d.log),
		MWTimeout(d.cfg.ActionTimeout),
	)
	_ = final(ctx, req)
}

// route maps every action kind to its handler.
func (d *Dispatcher) route(ctx context.Context, req *Request) error {
	a := req.Action
	switch a.Kind {
	case KindMainMenu:
		return d.render(ctx, req, d.mainMenu(""))
	case KindStats:
		return d.render(ctx, req, d.statsView(ctx))
	case KindChannelsMenu:
		return d.render(ctx, req, d.channelsMenu())
	case KindChannel:
		return d.withChannel(ctx, req, func(p distribution.ChannelPolicy) error {
			return d.render(ctx, req, d.channelView(p, ""))
		})
	case KindFilters:
		return d.withChannel(ctx, req, func(p distribution.ChannelPolicy) error {
			return d.render(ctx, req, filtersView(p))
		})
	case KindTimeMenu:
		return d.withChannel(ctx, req, func(p distribution.ChannelPolicy) error {
			return d.render(ctx, req, d.timeMenu(p))
		})
	case KindPriceMenu:
		return d.withChannel(ctx, req, func(p distribution.ChannelPolicy) error {
			if p.FixedPrice {
				req.Toast = "Price range is fixed for this channel"
				return d.render(ctx, req, d.channelView(p, ""))
			}
			return d.render(ctx, req, d.priceMenu(p))
		})
	case KindToggleBot:
		return d.toggleBot(ctx, req)
	case KindResetLedger:
		return d.resetLedger(ctx, req)
	case KindToggleChannel:
		return d.toggleChannel(ctx, req)
	case KindSetTime:
		return d.setTime(ctx, req)
	case KindSetPrice:
		return d.setPrice(ctx, req)
	case KindTestAll:
		return d.testAll(ctx, req)
	case KindTestChannel:
		return d.testChannel(ctx, req)
	case KindUnknown:
	}
	return fmt.Errorf("%w: %s", ErrBadToken, a.Kind)
}

func (d *Dispatcher) withChannel(ctx context.Context, req *Request, fn func(p distribution.ChannelPolicy) error) error {
	p, ok := d.deps.Registry.Get(req.Action.Key)
	if !ok {
		return d.unknownChannel(ctx, req)
	}
	return fn(p)
}

func (d *Dispatcher) unknownChannel(ctx context.Context, req *Request) error {
	req.Toast = "Unknown channel"
	if err := d.render(ctx, req, d.channelsMenu()); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", distribution.ErrUnknownChannel, req.Action.Key)
}

// render edits the panel message in place for callbacks and sends a new
// one for text commands.
func (d *Dispatcher) render(ctx context.Context, req *Request, m tgui.Message) error {
	if req.Ref.MessageID != 0 {
		return m.Edit(ctx, d.deps.Adapter, req.Ref)
	}
	_, err := m.Send(ctx, d.deps.Adapter, req.Chat)
	return err
}

// Report sends the stats view to every operator's private chat.
func (d *Dispatcher) Report(ctx context.Context) {
	m := d.statsView(ctx)
	for _, id := range d.Operators() {
		if _, err := m.Send(ctx, d.deps.Adapter, kit.ChatTarget{ChatID: id}); err != nil {
			d.log.Warn("report send failed", logx.Int64("chat_id", id), logx.Err(err))
		}
	}
}

func (d *Dispatcher) audit(ctx context.Context, req *Request, err error, meta map[string]any) {
	if d.deps.Store == nil {
		return
	}
	e := storage.AuditEntry{
		ID:            uuid.NewString(),
		At:            d.deps.Now(),
		ActorID:       req.FromID,
		ActorUsername: req.Username,
		ChatID:        req.Chat.ChatID,
		Action:        req.Action.Kind.String(),
		Target:        req.Action.Key,
		OK:            err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if len(meta) > 0 {
		if b, merr := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(meta); merr == nil {
			e.MetaJSON = string(b)
		}
	}
	if aerr := d.deps.Store.AppendAudit(ctx, e); aerr != nil {
		req.Log.Warn("audit append failed", logx.Err(aerr))
	}
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.deps.Bus != nil {
		d.deps.Bus.Publish(eventbus.Event{Type: typ, Time: d.deps.Now(), Data: data})
	}
}

func (d *Dispatcher) spawn(name string, fn func(ctx context.Context)) {
	if d.deps.Spawner != nil {
		d.deps.Spawner.Go0(name, fn)
		return
	}
	go fn(context.Background())
}
