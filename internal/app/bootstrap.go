package app

import (
	"strings"
	"time"

	"dealbot/internal/catalog/aliexpress"
	"dealbot/internal/config"
	"dealbot/internal/control"
	"dealbot/internal/distribution"
	"dealbot/internal/shortener/tinyurl"
	"dealbot/internal/storage"
	"dealbot/internal/task/scheduler"
	telegram "dealbot/internal/transport/telegram/adapter"
	logx "dealbot/pkg/logx"
)

// Config sections are turned into package configs here so the packages
// never import internal/config.

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:          cfg.Telegram.Token,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
		APIURL:         strings.TrimSpace(cfg.Telegram.APIURL),
	}
}

// mapStorageConfig reports enabled=false when no store is configured.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	var d config.Durations
	busy := d.Or("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err := d.Err(); err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

func mapCatalogConfig(cfg *config.Config) (aliexpress.Config, error) {
	c := cfg.Catalog
	var d config.Durations
	out := aliexpress.Config{
		Endpoint:   strings.TrimSpace(c.Endpoint),
		AppKey:     c.AppKey,
		AppSecret:  c.AppSecret,
		TrackingID: c.TrackingID,
		Timeout:    d.Or("catalog.timeout", c.Timeout, 60*time.Second),
		RatePerSec: c.RatePerSec,
		Currency:   c.Currency,
		Language:   c.Language,
		Sort:       c.Sort,
	}
	return out, d.Err()
}

func mapShortenerConfig(cfg *config.Config) (tinyurl.Config, error) {
	var d config.Durations
	out := tinyurl.Config{
		Enabled:  cfg.Shortener.Enabled,
		Endpoint: strings.TrimSpace(cfg.Shortener.Endpoint),
		Timeout:  d.Or("shortener.timeout", cfg.Shortener.Timeout, 5*time.Second),
	}
	return out, d.Err()
}

func mapCycleConfig(cfg *config.Config) (distribution.CycleConfig, error) {
	dc := cfg.Distribution
	var d config.Durations
	out := distribution.CycleConfig{
		PageSize:     cfg.Catalog.PageSize,
		PostDelayMin: d.Or("distribution.post_delay_min", dc.PostDelayMin, 3*time.Second),
		PostDelayMax: d.Or("distribution.post_delay_max", dc.PostDelayMax, 8*time.Second),
		ButtonText:   dc.ButtonText,
	}
	return out, d.Err()
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	dc := cfg.Distribution
	var d config.Durations
	out := scheduler.Config{
		InitialDelayMin: d.Or("distribution.initial_delay_min", dc.InitialDelayMin, 20*time.Second),
		InitialDelayMax: d.Or("distribution.initial_delay_max", dc.InitialDelayMax, 60*time.Second),
		ChannelGapMin:   d.Or("distribution.channel_gap_min", dc.ChannelGapMin, 8*time.Second),
		ChannelGapMax:   d.Or("distribution.channel_gap_max", dc.ChannelGapMax, 15*time.Second),
		FloorMinutes:    dc.FloorMinutes,
		SpreadMinutes:   dc.SpreadMinutes,
		ReportCron:      strings.TrimSpace(dc.ReportCron),
		Timezone:        strings.TrimSpace(dc.Timezone),
	}
	return out, d.Err()
}

func mapControlConfig(cfg *config.Config) (control.Config, error) {
	var d config.Durations
	out := control.Config{
		Operators:   append([]int64(nil), cfg.Telegram.OperatorIDs...),
		PollTimeout: d.Or("telegram.poll_timeout", cfg.Telegram.PollTimeout, 5*time.Second),
	}
	return out, d.Err()
}

func mapPolicies(cfg *config.Config) []distribution.ChannelPolicy {
	out := make([]distribution.ChannelPolicy, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		out = append(out, distribution.ChannelPolicy{
			Key:             strings.TrimSpace(ch.Key),
			Name:            strings.TrimSpace(ch.Name),
			Destination:     strings.TrimSpace(ch.Destination),
			Active:          ch.Active,
			Hot:             ch.Hot,
			FixedPrice:      ch.FixedPrice,
			CadenceMinutes:  ch.CadenceMinutes,
			MinPrice:        ch.MinPrice,
			MaxPrice:        ch.MaxPrice,
			MinCommission:   ch.MinCommission,
			Keywords:        cleanWords(ch.Keywords),
			ExcludeKeywords: cleanWords(ch.ExcludeKeywords),
		})
	}
	return out
}

// cleanWords trims and drops empty keywords, keeping order.
func cleanWords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, w := range in {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}
