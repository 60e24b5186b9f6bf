package distribution

import (
	"math"
	"strconv"
	"strings"
)

// ChannelPolicy is the per-destination filter and cadence settings.
//
// Keywords and ExcludeKeywords are set at startup and never mutated, so
// copies handed out by Registry share them.
type ChannelPolicy struct {
	Key         string
	Name        string
	Destination string

	Active bool
	// Hot channels post a larger batch per cycle.
	Hot bool
	// FixedPrice channels have their price band locked (price menu disabled).
	FixedPrice bool

	CadenceMinutes int

	MinPrice float64
	// MaxPrice of 0 means unbounded.
	MaxPrice      float64
	MinCommission float64

	Keywords        []string
	ExcludeKeywords []string
}

// Bounded reports whether the policy has an upper price limit.
func (p ChannelPolicy) Bounded() bool { return p.MaxPrice > 0 }

// Label is the display name, falling back to the key.
func (p ChannelPolicy) Label() string {
	if n := strings.TrimSpace(p.Name); n != "" {
		return n
	}
	return p.Key
}

// PriceBand renders the band as "$min-$max" or "$min+".
func (p ChannelPolicy) PriceBand() string {
	if !p.Bounded() {
		return "$" + formatAmount(p.MinPrice) + "+"
	}
	return "$" + formatAmount(p.MinPrice) + "-$" + formatAmount(p.MaxPrice)
}

// Candidate is one catalog item as returned by the provider. Numeric fields
// stay raw and are parsed on demand.
type Candidate struct {
	ID             string
	Title          string
	SalePrice      string
	OriginalPrice  string
	CommissionRate string
	Rating         string
	ImageURL       string
	Link           string
}

// Sale is the sale price, 0 when unparseable.
func (c Candidate) Sale() float64 { return parseNumber(c.SalePrice) }

// Original is the list price, falling back to the sale price when missing.
func (c Candidate) Original() float64 {
	if strings.TrimSpace(c.OriginalPrice) == "" {
		return c.Sale()
	}
	return parseNumber(c.OriginalPrice)
}

// Commission is the commission percentage ("7.5%" -> 7.5), 0 when unparseable.
func (c Candidate) Commission() float64 { return parseNumber(c.CommissionRate) }

// DiscountPercent is the truncated percentage saved versus the list price.
func (c Candidate) DiscountPercent() int {
	orig := c.Original()
	if orig <= 0 {
		return 0
	}
	return int((orig - c.Sale()) / orig * 100)
}

// parseNumber accepts "12.5", "12.5%", "$1,299.00" and similar; anything else is 0.
func parseNumber(raw string) float64 {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimPrefix(s, "US"))
	s = strings.TrimSpace(strings.TrimPrefix(s, "$"))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func formatAmount(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
