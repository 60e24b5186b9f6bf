package tgui

import (
	"context"
	"strings"
	"testing"

	kit "dealbot/internal/transport"
)

func TestBuilderEscapesHTML(t *testing.T) {
	t.Parallel()
	msg := New().
		Title("📊", "Stats <live>").
		KV("Channel", "Tech & Gadgets").
		Line("a < b").
		Build()

	want := "📊 <b>Stats &lt;live&gt;</b>\n• <b>Channel</b>: Tech &amp; Gadgets\na &lt; b"
	if msg.Text != want {
		t.Fatalf("Text =\n%q\nwant\n%q", msg.Text, want)
	}
	if msg.Opt == nil || msg.Opt.ParseMode != "HTML" || !msg.Opt.DisablePreview {
		t.Fatalf("unexpected options: %+v", msg.Opt)
	}
	if msg.Opt.ReplyMarkupAdapter != nil {
		t.Fatal("no keyboard attached, markup should be nil")
	}
}

func TestInlineGrid(t *testing.T) {
	t.Parallel()
	kb := NewInline().Grid(2, Btn("a", "a"), Btn("b", "b"), Btn("c", "c")).Row()
	rows := kb.Rows()
	if len(rows) != 2 || len(rows[0]) != 2 || len(rows[1]) != 1 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "hello…"},
		{"héllo", 2, "hé…"},
		{"x", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncRunes(tt.in, tt.n); got != tt.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestCheckData(t *testing.T) {
	t.Parallel()
	if err := CheckData("setprice:tech:10:200"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckData(strings.Repeat("x", MaxCallbackDataLen+1)); err != ErrCallbackDataTooLong {
		t.Fatalf("err = %v, want ErrCallbackDataTooLong", err)
	}
}

type notModifiedMessenger struct{}

func (notModifiedMessenger) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (notModifiedMessenger) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return kit.ErrNotModified
}

func TestEditIgnoresNotModified(t *testing.T) {
	t.Parallel()
	if err := New().Line("same").Build().Edit(context.Background(), notModifiedMessenger{}, kit.MessageRef{}); err != nil {
		t.Fatalf("Edit() = %v, want nil", err)
	}
}
