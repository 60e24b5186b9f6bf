package distribution

import (
	"strings"
)

// SeenSet is the read side of the dedup ledger.
type SeenSet interface {
	Contains(id string) bool
}

// SelectOptions tweaks a single Select call.
type SelectOptions struct {
	// SkipKeywords disables the include-keyword stage (fallback pass).
	SkipKeywords bool
}

// FilterStats counts how many candidates each stage dropped.
type FilterStats struct {
	Input      int
	NoLink     int
	NoDiscount int
	Seen       int
	Price      int
	Commission int
	Keyword    int
	Excluded   int
	Kept       int
}

// Select runs candidates through the policy filters and returns the
// eligible ones in provider order. It never mutates seen.
//
// Stages, in order: link present, real discount, unseen, price band,
// commission floor, include keywords, exclude keywords.
func Select(cands []Candidate, p ChannelPolicy, seen SeenSet, opts SelectOptions) ([]Candidate, FilterStats) {
	st := FilterStats{Input: len(cands)}
	include := lowerAll(p.Keywords)
	exclude := lowerAll(p.ExcludeKeywords)
	checkInclude := !opts.SkipKeywords && len(include) > 0

	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if strings.TrimSpace(c.Link) == "" {
			st.NoLink++
			continue
		}
		sale := c.Sale()
		if c.Original() <= sale {
			st.NoDiscount++
			continue
		}
		if seen != nil && seen.Contains(c.ID) {
			st.Seen++
			continue
		}
		if (p.MinPrice > 0 && sale < p.MinPrice) || (p.Bounded() && sale > p.MaxPrice) {
			st.Price++
			continue
		}
		if c.Commission() < p.MinCommission {
			st.Commission++
			continue
		}
		title := strings.ToLower(c.Title)
		if checkInclude && !containsAny(title, include) {
			st.Keyword++
			continue
		}
		if containsAny(title, exclude) {
			st.Excluded++
			continue
		}
		out = append(out, c)
	}
	st.Kept = len(out)
	return out, st
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
