package adapter

import (
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "dealbot/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	if got := splitTelegramText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text split = %q", got)
	}

	long := strings.Repeat("line of text\n", 50)
	chunks := splitTelegramText(long, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if n := len([]rune(c)); n > 100 {
			t.Fatalf("chunk has %d runes, limit 100", n)
		}
		if strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk should not end in newline: %q", c)
		}
	}
}

func TestConvertUpdate(t *testing.T) {
	t.Parallel()
	cb := convertUpdate(&tele.Update{
		ID: 42,
		Callback: &tele.Callback{
			ID:      "cb1",
			Data:    "toggle:tech",
			Sender:  &tele.User{ID: 7, Username: "op"},
			Message: &tele.Message{ID: 9, Chat: &tele.Chat{ID: 100}},
		},
	})
	if cb.ID != 42 || cb.Kind != kit.UpdateCallback || cb.Callback == nil {
		t.Fatalf("unexpected callback update: %+v", cb)
	}
	if cb.Callback.FromID != 7 || cb.Callback.ChatID != 100 || cb.Callback.MessageID != 9 || cb.Callback.Data != "toggle:tech" {
		t.Fatalf("unexpected callback fields: %+v", cb.Callback)
	}

	msg := convertUpdate(&tele.Update{ID: 43, Message: &tele.Message{ID: 1, Text: "/menu", Chat: &tele.Chat{ID: 5}, Sender: &tele.User{ID: 7}}})
	if msg.Kind != kit.UpdateMessage || msg.Message.Text != "/menu" || msg.Message.FromID != 7 {
		t.Fatalf("unexpected message update: %+v", msg)
	}

	other := convertUpdate(&tele.Update{ID: 44})
	if other.Kind != kit.UpdateOther || other.ID != 44 {
		t.Fatalf("unexpected other update: %+v", other)
	}
}

func TestIsNotModified(t *testing.T) {
	t.Parallel()
	if isNotModified(nil) {
		t.Fatal("nil error is not a not-modified error")
	}
	if !isNotModified(errors.New("telegram: Bad Request: message is not modified: specified new message content (400)")) {
		t.Fatal("expected not-modified match")
	}
	if isNotModified(errors.New("chat not found")) {
		t.Fatal("unexpected not-modified match")
	}
}
