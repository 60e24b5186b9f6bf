package distribution

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dealbot/internal/eventbus"
	"dealbot/internal/storage"
	kit "dealbot/internal/transport"
	logx "dealbot/pkg/logx"
)

// Query is what the cycle asks the catalog for. The adapter decides how
// the bounds map onto its wire format.
type Query struct {
	Keywords      []string
	MinPrice      float64
	MaxPrice      float64 // 0 = unbounded
	MinCommission float64
	PageSize      int
}

// Catalog fetches candidate items. Errors wrap ErrProviderTransport,
// ErrProviderRejected or ErrDataParse.
type Catalog interface {
	Query(ctx context.Context, q Query) ([]Candidate, error)
}

// Publisher posts a rendered deal to a channel.
type Publisher interface {
	PublishDeal(ctx context.Context, destination string, post kit.DealPost) (kit.MessageRef, error)
}

// Shortener shortens links. It never fails; on error it returns the input.
type Shortener interface {
	Shorten(ctx context.Context, url string) string
}

type CycleConfig struct {
	PageSize int

	// Batch size bounds. Hot channels draw from [HotMin, HotMax], others
	// from [1, MaxPerRun]; both are capped by the eligible count.
	HotMin    int
	HotMax    int
	MaxPerRun int

	// Keyword hint size drawn from [HintMin, HintMax].
	HintMin int
	HintMax int

	PostDelayMin time.Duration
	PostDelayMax time.Duration

	ButtonText string
}

func (c CycleConfig) withDefaults() CycleConfig {
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.HotMin <= 0 {
		c.HotMin = 3
	}
	if c.HotMax < c.HotMin {
		c.HotMax = max(6, c.HotMin)
	}
	if c.MaxPerRun <= 0 {
		c.MaxPerRun = 3
	}
	if c.HintMin <= 0 {
		c.HintMin = 3
	}
	if c.HintMax < c.HintMin {
		c.HintMax = max(5, c.HintMin)
	}
	if c.PostDelayMin <= 0 && c.PostDelayMax <= 0 {
		c.PostDelayMin, c.PostDelayMax = 3*time.Second, 8*time.Second
	}
	if c.PostDelayMax < c.PostDelayMin {
		c.PostDelayMax = c.PostDelayMin
	}
	if strings.TrimSpace(c.ButtonText) == "" {
		c.ButtonText = DefaultButtonText
	}
	return c
}

type CycleDeps struct {
	Catalog   Catalog
	Publisher Publisher
	Shortener Shortener // optional
	Ledger    *Ledger
	Store     storage.Store // optional
	Bus       eventbus.Bus  // optional
	Log       logx.Logger
	Random    Random  // optional
	Sleep     Sleeper // optional
	Now       func() time.Time
}

// Result summarizes one channel cycle.
type Result struct {
	RunID    string
	Channel  string
	Fetched  int
	Eligible int
	Chosen   int
	Sent     int
	Failed   int
	Fallback bool
	Stats    FilterStats
	Took     time.Duration
}

// Cycle runs fetch, filter, sample and send for one channel at a time.
// Runs for the same channel key are serialized.
type Cycle struct {
	cfg  CycleConfig
	deps CycleDeps
	log  logx.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCycle(deps CycleDeps, cfg CycleConfig) *Cycle {
	if deps.Ledger == nil {
		deps.Ledger = NewLedger(0)
	}
	if deps.Random == nil {
		deps.Random = NewRandom()
	}
	if deps.Sleep == nil {
		deps.Sleep = Sleep
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Cycle{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		log:   deps.Log,
		locks: map[string]*sync.Mutex{},
	}
}

func (c *Cycle) Ledger() *Ledger { return c.deps.Ledger }

func (c *Cycle) channelLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// Run waits for any in-flight run of the same channel, then runs.
func (c *Cycle) Run(ctx context.Context, p ChannelPolicy) (Result, error) {
	l := c.channelLock(p.Key)
	l.Lock()
	defer l.Unlock()
	return c.run(ctx, p)
}

// TryRun runs only if the channel is idle, returning ErrCycleBusy otherwise.
func (c *Cycle) TryRun(ctx context.Context, p ChannelPolicy) (Result, error) {
	l := c.channelLock(p.Key)
	if !l.TryLock() {
		return Result{Channel: p.Key}, ErrCycleBusy
	}
	defer l.Unlock()
	return c.run(ctx, p)
}

func (c *Cycle) run(ctx context.Context, p ChannelPolicy) (res Result, err error) {
	start := c.deps.Now()
	res = Result{RunID: uuid.NewString(), Channel: p.Key}
	log := c.log.With(logx.String("channel", p.Key), logx.String("run_id", res.RunID))
	defer func() {
		res.Took = c.deps.Now().Sub(start)
		c.publish(eventbus.CycleDone, res)
		log.Info("cycle finished",
			logx.Int("fetched", res.Fetched),
			logx.Int("eligible", res.Eligible),
			logx.Int("sent", res.Sent),
			logx.Int("failed", res.Failed),
			logx.Bool("fallback", res.Fallback),
			logx.Duration("took", res.Took),
		)
	}()

	cands := c.fetch(ctx, log, p, c.keywordHint(p.Keywords))
	items, st := Select(cands, p, c.deps.Ledger, SelectOptions{})
	res.Fetched = len(cands)

	if len(items) == 0 && len(p.Keywords) > 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log.Debug("no eligible items; retrying once without keyword hint", logx.Any("filter", st))
		cands = c.fetch(ctx, log, p, nil)
		items, st = Select(cands, p, c.deps.Ledger, SelectOptions{SkipKeywords: true})
		res.Fetched += len(cands)
		res.Fallback = true
	}
	res.Stats = st
	res.Eligible = len(items)
	if len(items) == 0 {
		log.Info("no eligible items", logx.Any("filter", st))
		return res, nil
	}

	chosen := Sample(c.deps.Random, items, c.batchSize(p, len(items)))
	res.Chosen = len(chosen)

	for _, item := range chosen {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		// a concurrent run may have sent it meanwhile
		if c.deps.Ledger.Contains(item.ID) {
			log.Debug("item already sent; skipping", logx.String("item", item.ID))
			continue
		}
		link := item.Link
		if c.deps.Shortener != nil {
			link = c.deps.Shortener.Shorten(ctx, item.Link)
		}

		ref, err := c.deps.Publisher.PublishDeal(ctx, p.Destination, FormatPost(item, link, c.cfg.ButtonText))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return res, err
			}
			res.Failed++
			log.Warn("send failed", logx.String("item", item.ID), logx.Err(err))
			c.publish(eventbus.DealFailed, SendEvent{Channel: p.Key, ItemID: item.ID, Err: err.Error()})
			continue
		}

		c.deps.Ledger.Insert(item.ID)
		res.Sent++
		c.record(ctx, log, p, res.RunID, item, link, ref)
		c.publish(eventbus.DealSent, SendEvent{Channel: p.Key, ItemID: item.ID, Title: item.Title})
		log.Info("deal sent", logx.String("item", item.ID), logx.String("title", item.Title))

		if err := c.deps.Sleep(ctx, Jitter(c.deps.Random, c.cfg.PostDelayMin, c.cfg.PostDelayMax)); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (c *Cycle) fetch(ctx context.Context, log logx.Logger, p ChannelPolicy, hint []string) []Candidate {
	cands, err := c.deps.Catalog.Query(ctx, Query{
		Keywords:      hint,
		MinPrice:      p.MinPrice,
		MaxPrice:      p.MaxPrice,
		MinCommission: p.MinCommission,
		PageSize:      c.cfg.PageSize,
	})
	if err != nil {
		log.Warn("catalog query failed", logx.Err(err), logx.Strs("keywords", hint))
		return nil
	}
	log.Debug("catalog query", logx.Int("items", len(cands)), logx.Strs("keywords", hint))
	return cands
}

// keywordHint picks a random subset of the include keywords for the query.
func (c *Cycle) keywordHint(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	n := min(Between(c.deps.Random, c.cfg.HintMin, c.cfg.HintMax), len(keywords))
	return Sample(c.deps.Random, keywords, n)
}

func (c *Cycle) batchSize(p ChannelPolicy, avail int) int {
	if p.Hot {
		return Between(c.deps.Random, min(c.cfg.HotMin, avail), min(c.cfg.HotMax, avail))
	}
	return Between(c.deps.Random, 1, min(c.cfg.MaxPerRun, avail))
}

func (c *Cycle) record(ctx context.Context, log logx.Logger, p ChannelPolicy, runID string, item Candidate, link string, ref kit.MessageRef) {
	if c.deps.Store == nil {
		return
	}
	err := c.deps.Store.AppendSend(ctx, storage.SendRecord{
		At:          c.deps.Now(),
		RunID:       runID,
		Channel:     p.Key,
		Destination: p.Destination,
		ProductID:   item.ID,
		Title:       item.Title,
		Price:       item.Sale(),
		Link:        link,
		MessageID:   ref.MessageID,
	})
	if err != nil {
		log.Warn("send history append failed", logx.Err(err))
	}
}

func (c *Cycle) publish(typ string, data any) {
	if c.deps.Bus != nil {
		c.deps.Bus.Publish(eventbus.Event{Type: typ, Time: c.deps.Now(), Data: data})
	}
}

// SendEvent is the payload of DealSent and DealFailed events.
type SendEvent struct {
	Channel string
	ItemID  string
	Title   string
	Err     string
}
