package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"auratask/internal/channel"
	"auratask/internal/config"
	"auratask/internal/delay"
	"auratask/internal/observability/diag"
	"auratask/internal/rescan"
	"auratask/internal/storage"
	"auratask/internal/task/engine"
	"auratask/internal/task/scheduler"
	logx "auratask/pkg/logx"
)

const (
	defaultSQLitePath   = "data/auratask.db"
	defaultRescanSpec   = "5m"
	defaultCleanupSpec  = "0 2 * * *"
	defaultRedisPrefix  = "auratask:delay"
	runtimeDriverMemory = "memory"
	runtimeDriverRedis  = "redis"
)

func mapLoggingConfig(cfg *Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.ConsoleEnabled(),
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    l.Alerts.Enabled,
			MinLevel:   l.Alerts.MinLevel,
			RatePerSec: l.Alerts.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = defaultSQLitePath
		}
		busy, err := config.Duration("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn (or %s) is required when storage.driver=postgres", config.EnvDatabaseDSN)
		}
		return storage.Config{Driver: "postgres", DSN: sc.DSN}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *Config) (engine.Config, error) {
	ec := cfg.Engine
	if ec.Workers < 0 || ec.QueueSize < 0 || ec.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("engine.workers, engine.queue_size and engine.history_size must be >= 0")
	}

	out := engine.Config{
		Enabled:     true,
		Workers:     ec.Workers,
		QueueSize:   ec.QueueSize,
		HistorySize: ec.HistorySize,
		RetryMax:    ec.RetryMax,
	}
	if out.Workers == 0 {
		out.Workers = 4
	}
	if out.QueueSize == 0 {
		out.QueueSize = 256
	}
	if out.HistorySize == 0 {
		out.HistorySize = 200
	}
	switch {
	case out.RetryMax < 0:
		out.RetryMax = 0
	case out.RetryMax == 0:
		out.RetryMax = 3
	}

	var err error
	if out.RetryDelay, err = config.Duration("engine.retry_delay", ec.RetryDelay, 60*time.Second); err != nil {
		return engine.Config{}, err
	}
	if out.DefaultTimeout, err = config.Duration("engine.default_timeout", ec.DefaultTimeout, 2*time.Minute); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// runtimeSettings is the resolved runtime section.
type runtimeSettings struct {
	Driver string
	Opt    delay.Options
	Redis  delay.RedisConfig
	Client *redis.Options
}

func mapRuntimeConfig(cfg *Config) (runtimeSettings, error) {
	rc := cfg.Runtime
	var rs runtimeSettings

	timeout, err := config.Duration("runtime.task_timeout", rc.TaskTimeout, 0)
	if err != nil {
		return rs, err
	}
	rs.Opt = delay.Options{TaskTimeout: timeout}

	switch driver := strings.ToLower(strings.TrimSpace(rc.Driver)); driver {
	case "", runtimeDriverMemory:
		rs.Driver = runtimeDriverMemory
		return rs, nil
	case runtimeDriverRedis:
		rs.Driver = runtimeDriverRedis
	default:
		return rs, fmt.Errorf("unknown runtime.driver: %s", rc.Driver)
	}

	r := rc.Redis
	if strings.TrimSpace(r.Addr) == "" {
		return rs, fmt.Errorf("runtime.redis.addr (or %s) is required when runtime.driver=redis", config.EnvRedisAddr)
	}
	if r.Batch < 0 || r.DB < 0 {
		return rs, fmt.Errorf("runtime.redis.batch and runtime.redis.db must be >= 0")
	}
	poll, err := config.Duration("runtime.redis.poll_interval", r.PollInterval, 0)
	if err != nil {
		return rs, err
	}
	lease, err := config.Duration("runtime.redis.lease", r.Lease, 0)
	if err != nil {
		return rs, err
	}
	prefix := strings.TrimSpace(r.Prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	rs.Redis = delay.RedisConfig{Prefix: prefix, PollInterval: poll, Lease: lease, Batch: r.Batch}
	rs.Client = &redis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB}
	return rs, nil
}

// jobSettings is the resolved jobs section.
type jobSettings struct {
	Timezone  string
	Rescan    string
	Cleanup   string
	Retention time.Duration
}

func mapJobsConfig(cfg *Config) (jobSettings, error) {
	jc := cfg.Jobs
	js := jobSettings{
		Timezone: strings.TrimSpace(jc.Timezone),
		Rescan:   strings.TrimSpace(jc.Rescan),
		Cleanup:  strings.TrimSpace(jc.Cleanup),
	}
	if js.Timezone != "" {
		if _, err := time.LoadLocation(js.Timezone); err != nil {
			return js, fmt.Errorf("jobs.timezone: invalid %q: %w", js.Timezone, err)
		}
	}
	if js.Rescan == "" {
		js.Rescan = defaultRescanSpec
	}
	if js.Cleanup == "" {
		js.Cleanup = defaultCleanupSpec
	}
	if _, err := scheduler.ParseSchedule(js.Rescan); err != nil {
		return js, fmt.Errorf("jobs.rescan: %w", err)
	}
	if _, err := scheduler.ParseSchedule(js.Cleanup); err != nil {
		return js, fmt.Errorf("jobs.cleanup: %w", err)
	}
	var err error
	js.Retention, err = config.Duration("jobs.log_retention", jc.LogRetention, rescan.DefaultRetention)
	return js, err
}

// channelSettings is the resolved channels section.
type channelSettings struct {
	Registry  channel.Config
	Email     channel.EmailConfig
	EmailOn   bool
	Telegram  channel.TelegramConfig
	Discord   channel.DiscordConfig
	DiscordOn bool
}

func mapChannelsConfig(cfg *Config) (channelSettings, error) {
	cc := cfg.Channels
	var cs channelSettings

	timeout, err := config.Duration("channels.send_timeout", cc.SendTimeout, 10*time.Second)
	if err != nil {
		return cs, err
	}
	if cc.RatePerSec < 0 || cc.Burst < 0 {
		return cs, fmt.Errorf("channels.rate_per_sec and channels.burst must be >= 0")
	}
	if cc.Email.SMTPPort < 0 || cc.Email.SMTPPort > 65535 {
		return cs, fmt.Errorf("channels.email.smtp_port out of range: %d", cc.Email.SMTPPort)
	}

	cs.Registry = channel.Config{SendTimeout: timeout, RatePerSec: cc.RatePerSec, Burst: cc.Burst}
	cs.EmailOn = cc.Email.Configured()
	cs.Email = channel.EmailConfig{
		SMTPHost:     strings.TrimSpace(cc.Email.SMTPHost),
		SMTPPort:     cc.Email.SMTPPort,
		SMTPUser:     cc.Email.SMTPUser,
		SMTPPassword: cc.Email.SMTPPassword,
		FromName:     cc.Email.FromName,
		FromEmail:    strings.TrimSpace(cc.Email.FromEmail),
	}
	cs.Telegram = channel.TelegramConfig{
		Token:     strings.TrimSpace(cc.Telegram.Token),
		OpsChatID: cc.Telegram.OpsChatID,
		APIURL:    strings.TrimSpace(cc.Telegram.APIURL),
	}
	cs.Discord = channel.DiscordConfig{UserAgent: cc.Discord.UserAgent}
	cs.DiscordOn = cc.Discord.On()
	return cs, nil
}

func mapDiagConfig(cfg *Config) (diag.Config, error) {
	dc := cfg.Diagnostics
	if addr := strings.TrimSpace(dc.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return diag.Config{}, fmt.Errorf("diagnostics.addr: %w", err)
		}
	}
	return diag.Config{
		Enabled:       dc.Enabled,
		Addr:          strings.TrimSpace(dc.Addr),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
		Pprof:         dc.Pprof,
	}, nil
}

// validateConfig runs every mapper; it is the reload validator.
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRuntimeConfig(cfg); err != nil {
		return err
	}
	if _, err := mapJobsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapChannelsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDiagConfig(cfg); err != nil {
		return err
	}
	return nil
}
