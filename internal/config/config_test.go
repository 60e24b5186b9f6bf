package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
telegram:
  token: "file-token"
  operator_ids: [42]
  group_log: "-100123"
logging:
  level: info
  console: true
catalog:
  app_key: "key"
  app_secret: "secret"
  tracking_id: "track"
distribution:
  ledger_size: 500
channels:
  - key: tech
    name: Tech
    destination: "@tech_deals"
    active: true
    cadence_minutes: 120
    min_price: 5
    max_price: 100
    keywords: [phone, laptop]
  - key: hot
    destination: "@hot_deals"
    active: true
    hot: true
    fixed_price: true
    cadence_minutes: 60
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func noEnv(string) string { return "" }

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "t", OperatorIDs: []int64{1}},
		Catalog:  CatalogConfig{AppKey: "k", AppSecret: "s"},
		Channels: []ChannelConfig{{Key: "tech", Destination: "@tech", CadenceMinutes: 60}},
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.yaml", validYAML))
	m.SetEnv(noEnv)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "file-token" || len(cfg.Telegram.OperatorIDs) != 1 || cfg.Telegram.OperatorIDs[0] != 42 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if id, err := cfg.Telegram.GroupLogID(); err != nil || id != -100123 {
		t.Fatalf("GroupLogID = %d, %v", id, err)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[0].Key != "tech" || cfg.Channels[1].Key != "hot" {
		t.Fatalf("channel order not preserved: %+v", cfg.Channels)
	}
	if !cfg.Channels[1].Hot || !cfg.Channels[1].FixedPrice {
		t.Fatalf("hot channel flags = %+v", cfg.Channels[1])
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	body := `{"telegram":{"token":"t","operator_ids":[1]},"logging":{},"catalog":{"app_key":"k","app_secret":"s"},
"shortener":{"enabled":true},"distribution":{},"channels":[{"key":"a","destination":"@a","active":true,"cadence_minutes":30}]}`
	m := NewConfigManager(writeFile(t, "config.json", body))
	m.SetEnv(noEnv)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Shortener.Enabled {
		t.Fatalf("shortener not enabled")
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unknown field yaml", "c.yaml", validYAML + "\nbogus: 1\n"},
		{"unknown nested field", "c.json", `{"telegram":{"owner_user_ids":[1]}}`},
		{"trailing data", "c.json", `{"telegram":{}} {}`},
		{"bad yaml", "c.yml", "telegram: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewConfigManager(writeFile(t, tt.file, tt.body))
			m.SetEnv(noEnv)
			if _, err := m.Parse(); err == nil {
				t.Fatalf("Parse succeeded, want error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvTelegramToken: "env-token",
		EnvCatalogSecret: "env-secret",
		EnvCatalogKey:    "  ",
	}
	m := NewConfigManager(writeFile(t, "config.yaml", validYAML))
	m.SetEnv(func(k string) string { return env[k] })
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Catalog.AppSecret != "env-secret" {
		t.Fatalf("secret = %q", cfg.Catalog.AppSecret)
	}
	if cfg.Catalog.AppKey != "key" {
		t.Fatalf("blank env must not override: app_key = %q", cfg.Catalog.AppKey)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(c *Config) {}, ""},
		{"no token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"no operators", func(c *Config) { c.Telegram.OperatorIDs = nil }, "operator_ids"},
		{"bad group log", func(c *Config) { c.Telegram.GroupLog = "@logs" }, "group_log"},
		{"no catalog secret", func(c *Config) { c.Catalog.AppSecret = "" }, "catalog.app_key"},
		{"page size", func(c *Config) { c.Catalog.PageSize = 51 }, "page_size"},
		{"no channels", func(c *Config) { c.Channels = nil }, "channels must not be empty"},
		{"empty key", func(c *Config) { c.Channels[0].Key = " " }, "key is required"},
		{"dup key", func(c *Config) { c.Channels = append(c.Channels, c.Channels[0]) }, "duplicate key"},
		{"long key", func(c *Config) { c.Channels[0].Key = strings.Repeat("k", 50) }, "callback data"},
		{"no destination", func(c *Config) { c.Channels[0].Destination = "" }, "destination"},
		{"zero cadence", func(c *Config) { c.Channels[0].CadenceMinutes = 0 }, "cadence_minutes"},
		{"inverted band", func(c *Config) { c.Channels[0].MinPrice, c.Channels[0].MaxPrice = 50, 10 }, "min_price"},
		{"negative price", func(c *Config) { c.Channels[0].MinPrice = -1 }, "prices must be >= 0"},
		{"unbounded band ok", func(c *Config) { c.Channels[0].MinPrice, c.Channels[0].MaxPrice = 50, 0 }, ""},
		{"bad duration", func(c *Config) { c.Distribution.PostDelayMax = "soon" }, "distribution.post_delay_max"},
		{"negative duration", func(c *Config) { c.Catalog.Timeout = "-1s" }, "catalog.timeout"},
		{"bad timezone", func(c *Config) { c.Distribution.Timezone = "Mars/Base" }, "timezone"},
		{"storage path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"storage driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis", Path: "x"} }, "storage.driver"},
		{"storage none", func(c *Config) { c.Storage = &StorageConfig{Driver: "none"} }, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Telegram.Token = ""
	c.Channels[0].Destination = ""
	err := c.Validate()
	if err == nil {
		t.Fatalf("Validate succeeded")
	}
	for _, want := range []string{"telegram.token", "destination"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestDurations(t *testing.T) {
	t.Parallel()
	var d Durations
	if got := d.Or("a", "", 3*time.Second); got != 3*time.Second {
		t.Fatalf("empty = %v", got)
	}
	if got := d.Or("b", "0s", 3*time.Second); got != 3*time.Second {
		t.Fatalf("zero = %v", got)
	}
	if got := d.Or("c", "90s", time.Second); got != 90*time.Second {
		t.Fatalf("90s = %v", got)
	}
	if d.Err() != nil {
		t.Fatalf("Err = %v", d.Err())
	}
	d.Or("bad", "x", time.Second)
	d.Or("later", "also-bad", time.Second)
	if d.Err() == nil || !strings.Contains(d.Err().Error(), "bad: invalid duration") {
		t.Fatalf("Err = %v, want first failure", d.Err())
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	old := validConfig()

	same := validConfig()
	if ch := SummarizeChange(old, same); !ch.Empty() {
		t.Fatalf("identical configs reported %v", ch.Sections)
	}

	live := validConfig()
	live.Telegram.OperatorIDs = []int64{1, 2}
	live.Logging.Level = "debug"
	ch := SummarizeChange(old, live)
	if len(ch.Sections) != 2 || len(ch.Restart) != 0 {
		t.Fatalf("live change = %+v", ch)
	}

	restart := validConfig()
	restart.Channels[0].CadenceMinutes = 90
	restart.Catalog.AppSecret = "rotated"
	ch = SummarizeChange(old, restart)
	if strings.Join(ch.Restart, ",") != "catalog,channels" {
		t.Fatalf("restart sections = %v", ch.Restart)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", validYAML)
	m := NewConfigManager(path)
	m.SetEnv(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// invalid edit: rejected, nothing published
	write := func(body string) {
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	deadline := time.After(10 * time.Second)
	changed := strings.Replace(validYAML, "operator_ids: [42]", "operator_ids: [42, 7]", 1)
	broken := strings.Replace(validYAML, `destination: "@tech_deals"`, `destination: ""`, 1)

	// The watcher may not be registered yet; keep rewriting until a
	// publish arrives.
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	write(broken)
	for {
		select {
		case cfg := <-sub:
			if len(cfg.Telegram.OperatorIDs) != 2 {
				t.Fatalf("published config operators = %v", cfg.Telegram.OperatorIDs)
			}
			if got := m.Get(); got != cfg {
				t.Fatalf("published config not committed")
			}
			return
		case <-tick.C:
			write(changed)
		case <-deadline:
			t.Fatalf("no config published")
		}
	}
}
