package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	kit "dealbot/internal/transport"
	logx "dealbot/pkg/logx"
	"dealbot/pkg/tgui"
)

type Config struct {
	Token string
	// SendRatePerSec paces outbound sends across all chats. Zero means 1/s.
	SendRatePerSec float64
	// APIURL overrides the Bot API endpoint (self-hosted bot API servers).
	APIURL string
}

// Adapter is a telebot-backed kit.Adapter. It never starts telebot's own
// poller; updates are pulled explicitly through PollUpdates so the caller
// owns the cursor.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		URL:   cfg.APIURL,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
	}, nil
}

// channelRecipient addresses a chat by "@username" or numeric id string.
type channelRecipient string

func (c channelRecipient) Recipient() string { return string(c) }

type getUpdatesResponse struct {
	Result []tele.Update `json:"result"`
}

func (a *Adapter) PollUpdates(ctx context.Context, after int, timeout time.Duration) ([]kit.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := map[string]string{
		"offset":          strconv.Itoa(after + 1),
		"timeout":         strconv.Itoa(int(timeout / time.Second)),
		"allowed_updates": `["message","callback_query"]`,
	}
	data, err := a.bot.Raw("getUpdates", params)
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %w", err)
	}
	var resp getUpdatesResponse
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("getUpdates decode: %w", err)
	}
	out := make([]kit.Update, 0, len(resp.Result))
	for i := range resp.Result {
		out = append(out, convertUpdate(&resp.Result[i]))
	}
	return out, nil
}

func convertUpdate(u *tele.Update) kit.Update {
	up := kit.Update{ID: u.ID, Kind: kit.UpdateOther}
	switch {
	case u.Callback != nil:
		cb := u.Callback
		c := &kit.Callback{ID: cb.ID, Data: cb.Data}
		if cb.Sender != nil {
			c.FromID = cb.Sender.ID
			c.FromUsername = cb.Sender.Username
		}
		if m := cb.Message; m != nil {
			c.MessageID = m.ID
			c.ThreadID = m.ThreadID
			if m.Chat != nil {
				c.ChatID = m.Chat.ID
			}
		}
		up.Kind = kit.UpdateCallback
		up.Callback = c
	case u.Message != nil:
		m := u.Message
		msg := &kit.Message{ID: m.ID, ThreadID: m.ThreadID, Text: m.Text}
		if m.Chat != nil {
			msg.ChatID = m.Chat.ID
		}
		if m.Sender != nil {
			msg.FromID = m.Sender.ID
			msg.FromUsername = m.Sender.Username
		}
		up.Kind = kit.UpdateMessage
		up.Message = msg
	}
	return up
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := a.limiter.Wait(ctx); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		// markup rides on the first chunk only
		if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok && i == 0 {
			sendOpt.ReplyMarkup = rm
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	sendOpt := &tele.SendOptions{ParseMode: opt.ParseMode, DisableWebPagePreview: opt.DisablePreview}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
		sendOpt.ReplyMarkup = rm
	}
	_, err := a.bot.Edit(m, tgui.TruncRunes(text, telegramTextLimit), sendOpt)
	if isNotModified(err) {
		return kit.ErrNotModified
	}
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// captionLimit is Telegram's caption size for media messages.
const captionLimit = 1024

func (a *Adapter) PublishDeal(ctx context.Context, destination string, post kit.DealPost) (kit.MessageRef, error) {
	dest := strings.TrimSpace(destination)
	if dest == "" {
		return kit.MessageRef{}, errors.New("destination is empty")
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}

	opt := &tele.SendOptions{ParseMode: post.ParseMode}
	if post.ButtonURL != "" {
		opt.ReplyMarkup = tgui.NewInline().Row(tgui.URLBtn(post.ButtonText, post.ButtonURL)).Markup()
	}

	var what any = post.Caption
	if post.ImageURL != "" {
		what = &tele.Photo{File: tele.FromURL(post.ImageURL), Caption: tgui.TruncRunes(post.Caption, captionLimit)}
	}

	msg, err := a.bot.Send(channelRecipient(dest), what, opt)
	if err != nil {
		return kit.MessageRef{}, err
	}
	ref := kit.MessageRef{MessageID: msg.ID}
	if msg.Chat != nil {
		ref.ChatID = msg.Chat.ID
	}
	return ref, nil
}

func isNotModified(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

const telegramTextLimit = 4000

// splitTelegramText cuts s into chunks of at most limit runes, preferring
// newline boundaries in the last two thirds of each window.
func splitTelegramText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for len(rs) > 0 {
		end := min(limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimRight(string(rs[:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		rs = rs[end:]
	}
	return out
}
