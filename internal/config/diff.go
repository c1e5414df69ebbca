package config

import (
	"strings"

	logx "auratask/pkg/logx"
)

// Change summarizes a reload. Attrs never carry secrets (DSN, passwords,
// tokens); only whether they are set.
type Change struct {
	// Sections lists every top-level section that differs.
	Sections []string
	// RestartRequired is the subset that only takes effect after a restart.
	RestartRequired []string
	Attrs           []logx.Field
}

// Live sections are applied on reload; everything else needs a restart.
var liveSections = map[string]bool{"logging": true, "channels": true, "jobs": true, "diagnostics": true}

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var ch Change
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if !liveSections[section] {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
		ch.Attrs = append(ch.Attrs, fields...)
	}

	ol, nl := oldCfg.Logging, newCfg.Logging
	if ol.Level != nl.Level || ol.ConsoleEnabled() != nl.ConsoleEnabled() || ol.File != nl.File || ol.Alerts != nl.Alerts {
		mark("logging",
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.ConsoleEnabled()),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.alerts_enabled", nl.Alerts.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		mark("storage",
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if oldCfg.Runtime != newCfg.Runtime {
		mark("runtime",
			logx.String("runtime.driver", newCfg.Runtime.Driver),
			logx.String("runtime.redis.addr", newCfg.Runtime.Redis.Addr),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		mark("engine",
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.Int("engine.retry_max", newCfg.Engine.RetryMax),
		)
	}

	if oldCfg.Jobs != newCfg.Jobs {
		mark("jobs",
			logx.String("jobs.rescan", newCfg.Jobs.Rescan),
			logx.String("jobs.cleanup", newCfg.Jobs.Cleanup),
		)
	}

	oc, nc := oldCfg.Channels, newCfg.Channels
	if oc.SendTimeout != nc.SendTimeout || oc.RatePerSec != nc.RatePerSec || oc.Burst != nc.Burst ||
		oc.Email != nc.Email || oc.Telegram != nc.Telegram || oc.Discord.UserAgent != nc.Discord.UserAgent ||
		oc.Discord.On() != nc.Discord.On() {
		mark("channels",
			logx.String("channels.send_timeout", nc.SendTimeout),
			logx.Float64("channels.rate_per_sec", nc.RatePerSec),
			logx.Bool("channels.email_configured", nc.Email.Configured()),
			logx.Bool("channels.telegram_token_set", nc.Telegram.Token != ""),
			logx.Bool("channels.discord_on", nc.Discord.On()),
		)
	}

	od, nd := oldCfg.Diagnostics, newCfg.Diagnostics
	if od != nd {
		mark("diagnostics",
			logx.Bool("diagnostics.enabled", nd.Enabled),
			logx.String("diagnostics.addr", nd.Addr),
			logx.Bool("diagnostics.pprof", nd.Pprof),
			logx.Bool("diagnostics.token_set", nd.Token != ""),
		)
	}

	return ch
}
