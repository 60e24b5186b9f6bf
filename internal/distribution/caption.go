package distribution

import (
	"fmt"
	"strings"

	kit "dealbot/internal/transport"
	"dealbot/pkg/tgui"
)

const (
	DefaultButtonText = "🛒 Buy Now"
	titleLimit        = 200
)

// FormatPost renders a candidate as a channel post with link as the buy
// button target. The caption is plain text.
func FormatPost(c Candidate, link, buttonText string) kit.DealPost {
	if strings.TrimSpace(buttonText) == "" {
		buttonText = DefaultButtonText
	}
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = "Great find"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🛍️ %s\n\n", tgui.TruncRunes(title, titleLimit))
	fmt.Fprintf(&b, "💰 Price: $%s USD\n", rawOr(c.SalePrice, "0"))
	fmt.Fprintf(&b, "💵 Original: $%s\n", rawOr(c.OriginalPrice, rawOr(c.SalePrice, "0")))
	fmt.Fprintf(&b, "🔥 Save %d%%!\n", c.DiscountPercent())
	fmt.Fprintf(&b, "⭐ Rating: %s%%\n\n", strings.TrimSuffix(rawOr(c.Rating, "0"), "%"))
	b.WriteString("✨ Limited Time Offer!\n⚡ Shop Now & Save Big!")

	return kit.DealPost{
		Caption:    b.String(),
		ImageURL:   strings.TrimSpace(c.ImageURL),
		ButtonText: buttonText,
		ButtonURL:  link,
	}
}

func rawOr(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
