package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dealbot/pkg/tgui"
)

// Environment variables that override secrets from the file.
const (
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvCatalogKey    = "CATALOG_APP_KEY"
	EnvCatalogSecret = "CATALOG_APP_SECRET"
	EnvTrackingID    = "CATALOG_TRACKING_ID"
)

type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      *StorageConfig     `json:"storage,omitempty"`
	Catalog      CatalogConfig      `json:"catalog"`
	Shortener    ShortenerConfig    `json:"shortener"`
	Distribution DistributionConfig `json:"distribution"`
	Channels     []ChannelConfig    `json:"channels"`
}

type TelegramConfig struct {
	Token       string  `json:"token"`
	OperatorIDs []int64 `json:"operator_ids"`
	// GroupLog is the chat id receiving mirrored warnings and stats reports.
	GroupLog       string  `json:"group_log,omitempty"`
	PollTimeout    string  `json:"poll_timeout,omitempty"`
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"`
	APIURL         string  `json:"api_url,omitempty"`
}

// GroupLogID parses GroupLog. Empty yields 0.
func (t TelegramConfig) GroupLogID() (int64, error) {
	s := strings.TrimSpace(t.GroupLog)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: invalid chat id %q", t.GroupLog)
	}
	return id, nil
}

type LoggingConfig struct {
	Level    string                `json:"level"`
	Console  bool                  `json:"console"`
	File     LoggingFileConfig     `json:"file"`
	Telegram LoggingTelegramConfig `json:"telegram"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the audit and send-history store.
//
// Driver values: "file", "sqlite" or "none"/empty (disabled).
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string, sqlite only.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type CatalogConfig struct {
	AppKey     string  `json:"app_key"`
	AppSecret  string  `json:"app_secret"`
	TrackingID string  `json:"tracking_id"`
	Endpoint   string  `json:"endpoint,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	PageSize   int     `json:"page_size,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Currency   string  `json:"currency,omitempty"`
	Language   string  `json:"language,omitempty"`
	Sort       string  `json:"sort,omitempty"`
}

type ShortenerConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// DistributionConfig holds the cycle and scheduler knobs. Durations are Go
// duration strings; zero values fall back to package defaults.
type DistributionConfig struct {
	// Paused starts the bot with distribution globally off.
	Paused     bool   `json:"paused,omitempty"`
	LedgerSize int    `json:"ledger_size,omitempty"`
	ButtonText string `json:"button_text,omitempty"`

	PostDelayMin    string `json:"post_delay_min,omitempty"`
	PostDelayMax    string `json:"post_delay_max,omitempty"`
	ChannelGapMin   string `json:"channel_gap_min,omitempty"`
	ChannelGapMax   string `json:"channel_gap_max,omitempty"`
	InitialDelayMin string `json:"initial_delay_min,omitempty"`
	InitialDelayMax string `json:"initial_delay_max,omitempty"`

	FloorMinutes  int `json:"floor_minutes,omitempty"`
	SpreadMinutes int `json:"spread_minutes,omitempty"`

	// ReportCron sends the stats view to operators. Empty disables it.
	ReportCron string `json:"report_cron,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

type ChannelConfig struct {
	Key             string   `json:"key"`
	Name            string   `json:"name,omitempty"`
	Destination     string   `json:"destination"`
	Active          bool     `json:"active"`
	Hot             bool     `json:"hot,omitempty"`
	FixedPrice      bool     `json:"fixed_price,omitempty"`
	CadenceMinutes  int      `json:"cadence_minutes"`
	MinPrice        float64  `json:"min_price,omitempty"`
	MaxPrice        float64  `json:"max_price,omitempty"`
	MinCommission   float64  `json:"min_commission,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`
}

// longestToken is the widest callback token a channel key is embedded in.
func longestToken(key string) string { return "setprice:" + key + ":99999:99999" }

// ApplyEnv overrides secrets with non-empty environment values.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, name string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	set(&c.Telegram.Token, EnvTelegramToken)
	set(&c.Catalog.AppKey, EnvCatalogKey)
	set(&c.Catalog.AppSecret, EnvCatalogSecret)
	set(&c.Catalog.TrackingID, EnvTrackingID)
}

// Validate checks the whole config. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required (or set %s)", EnvTelegramToken)
	}
	if len(c.Telegram.OperatorIDs) == 0 {
		add("telegram.operator_ids must not be empty")
	}
	if _, err := c.Telegram.GroupLogID(); err != nil {
		errs = append(errs, err)
	}
	if c.Telegram.SendRatePerSec < 0 {
		add("telegram.send_rate_per_sec must be >= 0")
	}
	if strings.TrimSpace(c.Catalog.AppKey) == "" || strings.TrimSpace(c.Catalog.AppSecret) == "" {
		add("catalog.app_key and catalog.app_secret are required (or set %s/%s)", EnvCatalogKey, EnvCatalogSecret)
	}
	if c.Catalog.PageSize < 0 || c.Catalog.PageSize > 50 {
		add("catalog.page_size must be within [0, 50]")
	}
	if c.Catalog.RatePerSec < 0 {
		add("catalog.rate_per_sec must be >= 0")
	}
	if c.Distribution.LedgerSize < 0 {
		add("distribution.ledger_size must be >= 0")
	}
	if c.Distribution.FloorMinutes < 0 || c.Distribution.SpreadMinutes < 0 {
		add("distribution.floor_minutes and spread_minutes must be >= 0")
	}
	if tz := strings.TrimSpace(c.Distribution.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("distribution.timezone: invalid %q: %w", tz, err)
		}
	}
	for path, raw := range c.durationFields() {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if st := c.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add("storage.path is required for driver %q", st.Driver)
			}
		default:
			add("storage.driver: unknown %q", st.Driver)
		}
	}
	errs = append(errs, c.validateChannels()...)
	return errors.Join(errs...)
}

func (c *Config) validateChannels() []error {
	var errs []error
	if len(c.Channels) == 0 {
		return []error{errors.New("channels must not be empty")}
	}
	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		key := strings.TrimSpace(ch.Key)
		path := fmt.Sprintf("channels[%d]", i)
		if key == "" {
			errs = append(errs, fmt.Errorf("%s.key is required", path))
			continue
		}
		path = fmt.Sprintf("channels[%s]", key)
		if seen[key] {
			errs = append(errs, fmt.Errorf("%s: duplicate key", path))
		}
		seen[key] = true
		if err := tgui.CheckData(longestToken(key)); err != nil {
			errs = append(errs, fmt.Errorf("%s: key too long for callback data: %w", path, err))
		}
		if strings.TrimSpace(ch.Destination) == "" {
			errs = append(errs, fmt.Errorf("%s.destination is required", path))
		}
		if ch.CadenceMinutes <= 0 {
			errs = append(errs, fmt.Errorf("%s.cadence_minutes must be > 0", path))
		}
		if ch.MinPrice < 0 || ch.MaxPrice < 0 {
			errs = append(errs, fmt.Errorf("%s: prices must be >= 0", path))
		} else if ch.MaxPrice > 0 && ch.MinPrice > ch.MaxPrice {
			errs = append(errs, fmt.Errorf("%s: min_price %.2f > max_price %.2f", path, ch.MinPrice, ch.MaxPrice))
		}
		if ch.MinCommission < 0 {
			errs = append(errs, fmt.Errorf("%s.min_commission must be >= 0", path))
		}
	}
	return errs
}

func (c *Config) durationFields() map[string]string {
	m := map[string]string{
		"telegram.poll_timeout":          c.Telegram.PollTimeout,
		"catalog.timeout":                c.Catalog.Timeout,
		"shortener.timeout":              c.Shortener.Timeout,
		"distribution.post_delay_min":    c.Distribution.PostDelayMin,
		"distribution.post_delay_max":    c.Distribution.PostDelayMax,
		"distribution.channel_gap_min":   c.Distribution.ChannelGapMin,
		"distribution.channel_gap_max":   c.Distribution.ChannelGapMax,
		"distribution.initial_delay_min": c.Distribution.InitialDelayMin,
		"distribution.initial_delay_max": c.Distribution.InitialDelayMax,
	}
	if c.Storage != nil {
		m["storage.busy_timeout"] = c.Storage.BusyTimeout
	}
	return m
}
