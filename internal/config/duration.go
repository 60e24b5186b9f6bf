package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string at path. Empty is 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// Durations resolves several fields at once; the first error sticks and
// later calls become no-ops.
type Durations struct {
	err error
}

// Or parses raw, returning def for empty or zero values.
func (p *Durations) Or(path, raw string, def time.Duration) time.Duration {
	if p.err != nil {
		return def
	}
	d, err := ParseDurationField(path, raw)
	if err != nil {
		p.err = err
		return def
	}
	if d <= 0 {
		return def
	}
	return d
}

func (p *Durations) Err() error { return p.err }
