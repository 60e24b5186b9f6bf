package app

import (
	"strings"
	"testing"
	"time"

	"dealbot/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "t", OperatorIDs: []int64{7, 9}},
		Catalog:  config.CatalogConfig{AppKey: "k", AppSecret: "s", PageSize: 40},
		Channels: []config.ChannelConfig{
			{Key: " tech ", Name: " Tech ", Destination: " @tech ", Active: true, CadenceMinutes: 120,
				MinPrice: 5, MaxPrice: 100, Keywords: []string{" phone ", "", "laptop"}},
			{Key: "hot", Destination: "@hot", Hot: true, FixedPrice: true, CadenceMinutes: 60},
		},
	}
}

func TestMapPolicies(t *testing.T) {
	t.Parallel()
	ps := mapPolicies(baseConfig())
	if len(ps) != 2 {
		t.Fatalf("len = %d", len(ps))
	}
	p := ps[0]
	if p.Key != "tech" || p.Name != "Tech" || p.Destination != "@tech" {
		t.Fatalf("not trimmed: %+v", p)
	}
	if strings.Join(p.Keywords, ",") != "phone,laptop" {
		t.Fatalf("keywords = %q", p.Keywords)
	}
	if !p.Active || p.CadenceMinutes != 120 || p.MinPrice != 5 || p.MaxPrice != 100 {
		t.Fatalf("policy = %+v", p)
	}
	if !ps[1].Hot || !ps[1].FixedPrice || ps[1].Active {
		t.Fatalf("hot policy = %+v", ps[1])
	}
}

func TestMapDurations(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Distribution.ChannelGapMin = "10s"
	cfg.Telegram.PollTimeout = "20s"

	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		t.Fatalf("mapSchedulerConfig: %v", err)
	}
	if sc.ChannelGapMin != 10*time.Second || sc.ChannelGapMax != 15*time.Second {
		t.Fatalf("gap = %v..%v", sc.ChannelGapMin, sc.ChannelGapMax)
	}
	if sc.InitialDelayMin != 20*time.Second || sc.InitialDelayMax != 60*time.Second {
		t.Fatalf("initial = %v..%v", sc.InitialDelayMin, sc.InitialDelayMax)
	}

	cc, err := mapControlConfig(cfg)
	if err != nil {
		t.Fatalf("mapControlConfig: %v", err)
	}
	if cc.PollTimeout != 20*time.Second || len(cc.Operators) != 2 {
		t.Fatalf("control = %+v", cc)
	}

	yc, err := mapCycleConfig(cfg)
	if err != nil {
		t.Fatalf("mapCycleConfig: %v", err)
	}
	if yc.PageSize != 40 || yc.PostDelayMin != 3*time.Second || yc.PostDelayMax != 8*time.Second {
		t.Fatalf("cycle = %+v", yc)
	}

	cat, err := mapCatalogConfig(cfg)
	if err != nil {
		t.Fatalf("mapCatalogConfig: %v", err)
	}
	if cat.Timeout != time.Minute {
		t.Fatalf("catalog timeout = %v", cat.Timeout)
	}

	cfg.Shortener.Timeout = "nope"
	if _, err := mapShortenerConfig(cfg); err == nil {
		t.Fatalf("bad shortener timeout accepted")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		st      *config.StorageConfig
		enabled bool
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{"absent", nil, false, "", 0, false},
		{"none", &config.StorageConfig{Driver: "None"}, false, "", 0, false},
		{"file", &config.StorageConfig{Driver: "file", Path: "data/bot.jsonl"}, true, "file", time.Second, false},
		{"sqlite", &config.StorageConfig{Driver: " SQLite ", Path: "bot.db", BusyTimeout: "3s"}, true, "sqlite", 3 * time.Second, false},
		{"bad busy", &config.StorageConfig{Driver: "sqlite", Path: "bot.db", BusyTimeout: "x"}, false, "", 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			cfg.Storage = tt.st
			sc, enabled, err := mapStorageConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if enabled != tt.enabled || sc.Driver != tt.driver || sc.BusyTimeout != tt.busy {
				t.Fatalf("got %+v enabled=%v", sc, enabled)
			}
		})
	}
}

func TestMapLogConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Logging = config.LoggingConfig{
		Level: "debug",
		File:  config.LoggingFileConfig{Enabled: true, Path: "bot.log"},
		Telegram: config.LoggingTelegramConfig{
			Enabled: true, ThreadID: 3, MinLevel: "error", RatePerSec: 2,
		},
	}
	lc := mapLogConfig(cfg)
	if lc.Level != "debug" || !lc.File.Enabled || lc.File.Path != "bot.log" {
		t.Fatalf("log = %+v", lc)
	}
	if !lc.Telegram.Enabled || lc.Telegram.ThreadID != 3 || lc.Telegram.MinLevel != "error" || lc.Telegram.RatePerSec != 2 {
		t.Fatalf("telegram sink = %+v", lc.Telegram)
	}
}
