package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotModified is returned by EditText when the platform reports that the
// new content equals the old one. Callers usually treat it as success.
var ErrNotModified = errors.New("message is not modified")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	UpdateOther    UpdateKind = "other"
)

// Update is one inbound platform event. ID is monotonically increasing and
// drives the polling cursor, including for updates nobody handles.
type Update struct {
	ID       int
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

type Callback struct {
	ID           string
	FromID       int64
	FromUsername string
	ChatID       int64
	ThreadID     int
	MessageID    int
	Data         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// DealPost is a rendered channel post: a photo with caption when ImageURL is
// set, plain text otherwise, plus a single URL button.
type DealPost struct {
	Caption    string
	ParseMode  string
	ImageURL   string
	ButtonText string
	ButtonURL  string
}

// Adapter is the messaging platform as seen by the control loop and the
// distribution cycle.
type Adapter interface {
	// PollUpdates long-polls for updates with ID > after.
	PollUpdates(ctx context.Context, after int, timeout time.Duration) ([]Update, error)

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// PublishDeal posts to a channel addressed by name ("@channel") or numeric id.
	PublishDeal(ctx context.Context, destination string, post DealPost) (MessageRef, error)
}
