package config

import (
	"reflect"
	"strings"

	logx "dealbot/pkg/logx"
)

// Change describes what differs between two configs. Fields never carry
// secrets.
type Change struct {
	Sections []string
	Fields   []logx.Field
	// Restart lists sections that only take effect after a restart.
	Restart []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Live sections are applied on reload: logging, operator_ids and group_log.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Fields = append(ch.Fields, fields...)
		if restart {
			ch.Restart = append(ch.Restart, section)
		}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if !reflect.DeepEqual(ot.OperatorIDs, nt.OperatorIDs) || strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) {
		mark("operators", false,
			logx.Int("telegram.operator_count", len(nt.OperatorIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || ot.SendRatePerSec != nt.SendRatePerSec || ot.APIURL != nt.APIURL {
		mark("telegram", true,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		mark("storage", true, logx.String("storage.driver", driver))
	}
	if oldCfg.Catalog != newCfg.Catalog {
		mark("catalog", true, logx.String("catalog.endpoint", newCfg.Catalog.Endpoint))
	}
	if oldCfg.Shortener != newCfg.Shortener {
		mark("shortener", true, logx.Bool("shortener.enabled", newCfg.Shortener.Enabled))
	}
	if oldCfg.Distribution != newCfg.Distribution {
		mark("distribution", true, logx.String("distribution.report_cron", newCfg.Distribution.ReportCron))
	}
	if !reflect.DeepEqual(oldCfg.Channels, newCfg.Channels) {
		mark("channels", true, logx.Int("channels.count", len(newCfg.Channels)))
	}
	return ch
}
