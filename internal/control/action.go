package control

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies an operator action.
type Kind int

const (
	KindUnknown Kind = iota
	KindMainMenu
	KindStats
	KindTestAll
	KindToggleBot
	KindResetLedger
	KindChannelsMenu
	KindChannel
	KindFilters
	KindToggleChannel
	KindTimeMenu
	KindSetTime
	KindPriceMenu
	KindSetPrice
	KindTestChannel
)

var kindNames = map[Kind]string{
	KindMainMenu:      "main_menu",
	KindStats:         "stats",
	KindTestAll:       "test",
	KindToggleBot:     "toggle_bot",
	KindResetLedger:   "reset_duplicates",
	KindChannelsMenu:  "channels_menu",
	KindChannel:       "channel",
	KindFilters:       "filters",
	KindToggleChannel: "toggle",
	KindTimeMenu:      "time",
	KindSetTime:       "settime",
	KindPriceMenu:     "price",
	KindSetPrice:      "setprice",
	KindTestChannel:   "test",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Mutates reports whether the action changes shared state.
func (k Kind) Mutates() bool {
	switch k {
	case KindToggleBot, KindResetLedger, KindToggleChannel, KindSetTime, KindSetPrice:
		return true
	}
	return false
}

// Action is a parsed action token.
type Action struct {
	Kind     Kind
	Key      string
	Minutes  int
	MinPrice float64
	MaxPrice float64
}

var ErrBadToken = errors.New("malformed action token")

const sep = ":"

var global = map[string]Kind{
	"main_menu":        KindMainMenu,
	"stats":            KindStats,
	"test":             KindTestAll,
	"toggle_bot":       KindToggleBot,
	"reset_duplicates": KindResetLedger,
	"channels_menu":    KindChannelsMenu,
}

var keyed = map[string]Kind{
	"channel": KindChannel,
	"filters": KindFilters,
	"toggle":  KindToggleChannel,
	"time":    KindTimeMenu,
	"price":   KindPriceMenu,
	"test":    KindTestChannel,
}

// ParseAction decodes a token such as "settime:tech:180". Numeric suffixes
// are taken from the end so the channel key itself may contain ':'.
func ParseAction(token string) (Action, error) {
	token = strings.TrimSpace(token)
	if k, ok := global[token]; ok {
		return Action{Kind: k}, nil
	}

	verb, rest, ok := strings.Cut(token, sep)
	if !ok || rest == "" {
		return Action{}, fmt.Errorf("%w: %q", ErrBadToken, token)
	}

	switch verb {
	case "settime":
		key, mins, ok := cutLast(rest)
		if !ok {
			return Action{}, fmt.Errorf("%w: %q", ErrBadToken, token)
		}
		n, err := strconv.Atoi(mins)
		if err != nil || n <= 0 {
			return Action{}, fmt.Errorf("%w: minutes %q", ErrBadToken, mins)
		}
		return Action{Kind: KindSetTime, Key: key, Minutes: n}, nil

	case "setprice":
		head, maxRaw, ok := cutLast(rest)
		if !ok {
			return Action{}, fmt.Errorf("%w: %q", ErrBadToken, token)
		}
		key, minRaw, ok := cutLast(head)
		if !ok {
			return Action{}, fmt.Errorf("%w: %q", ErrBadToken, token)
		}
		lo, err1 := strconv.ParseFloat(minRaw, 64)
		hi, err2 := strconv.ParseFloat(maxRaw, 64)
		if err1 != nil || err2 != nil || lo < 0 || hi < 0 {
			return Action{}, fmt.Errorf("%w: price %q-%q", ErrBadToken, minRaw, maxRaw)
		}
		return Action{Kind: KindSetPrice, Key: key, MinPrice: lo, MaxPrice: hi}, nil
	}

	if k, ok := keyed[verb]; ok {
		return Action{Kind: k, Key: rest}, nil
	}
	return Action{}, fmt.Errorf("%w: unknown verb %q", ErrBadToken, verb)
}

// cutLast splits s at its last separator. Both halves must be non-empty.
func cutLast(s string) (head, tail string, ok bool) {
	i := strings.LastIndex(s, sep)
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// Token encodes the action back into its wire form.
func (a Action) Token() string {
	switch a.Kind {
	case KindMainMenu, KindStats, KindTestAll, KindToggleBot, KindResetLedger, KindChannelsMenu:
		return a.Kind.String()
	case KindSetTime:
		return "settime" + sep + a.Key + sep + strconv.Itoa(a.Minutes)
	case KindSetPrice:
		return "setprice" + sep + a.Key + sep + fmtPrice(a.MinPrice) + sep + fmtPrice(a.MaxPrice)
	case KindUnknown:
		return ""
	}
	return a.Kind.String() + sep + a.Key
}

func fmtPrice(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
