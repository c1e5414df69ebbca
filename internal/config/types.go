package config

// Config is the daemon configuration file. Durations are Go duration strings
// ("500ms", "10s", "5m"); an empty string selects the default.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Runtime  RuntimeConfig  `json:"runtime"`
	Engine   EngineConfig   `json:"engine"`
	Jobs     JobsConfig     `json:"jobs"`
	Channels ChannelsConfig `json:"channels"`

	Diagnostics DiagnosticsConfig `json:"diagnostics"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	// Console is a pointer so an omitted key can default to true.
	Console *bool        `json:"console,omitempty"`
	File    LoggingFile  `json:"file"`
	Alerts  LoggingAlert `json:"alerts"`
}

// ConsoleEnabled reports the effective console setting.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards error lines to channels.telegram.ops_chat_id.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the database.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/auratask.db }
//	storage: { driver: postgres, dsn: "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // secret, never logged
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RuntimeConfig selects where pending reminders live until they fire.
// "memory" loses them on restart; "redis" keeps them.
type RuntimeConfig struct {
	Driver      string      `json:"driver"`
	TaskTimeout string      `json:"task_timeout,omitempty"`
	Redis       RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr         string `json:"addr"`
	Password     string `json:"password,omitempty"`
	DB           int    `json:"db"`
	Prefix       string `json:"prefix,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	Lease        string `json:"lease,omitempty"`
	Batch        int    `json:"batch,omitempty"`
}

// EngineConfig sizes the worker pool that runs fired reminders.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - history_size: 200
//   - retry_max: 3 (negative disables retries)
//   - retry_delay: "60s"
//   - default_timeout: "2m"
type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryDelay     string `json:"retry_delay,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// JobsConfig controls the periodic jobs. Rescan and Cleanup accept any
// schedule the task scheduler parses (cron or interval).
type JobsConfig struct {
	Timezone     string `json:"timezone,omitempty"`
	Rescan       string `json:"rescan,omitempty"`
	Cleanup      string `json:"cleanup,omitempty"`
	LogRetention string `json:"log_retention,omitempty"`
}

type ChannelsConfig struct {
	SendTimeout string         `json:"send_timeout,omitempty"`
	RatePerSec  float64        `json:"rate_per_sec,omitempty"`
	Burst       int            `json:"burst,omitempty"`
	Email       EmailConfig    `json:"email"`
	Telegram    TelegramConfig `json:"telegram"`
	Discord     DiscordConfig  `json:"discord"`
}

type EmailConfig struct {
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port,omitempty"`
	SMTPUser     string `json:"smtp_user"`
	SMTPPassword string `json:"smtp_password,omitempty"`
	FromName     string `json:"from_name,omitempty"`
	FromEmail    string `json:"from_email"`
}

// Configured reports whether an SMTP sender can be built at all.
func (e EmailConfig) Configured() bool {
	return e.SMTPHost != "" && e.FromEmail != ""
}

type TelegramConfig struct {
	Token     string `json:"token,omitempty"`
	OpsChatID int64  `json:"ops_chat_id,omitempty"`
	APIURL    string `json:"api_url,omitempty"`
}

type DiscordConfig struct {
	Enabled   *bool  `json:"enabled,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// On reports whether the Discord sender is registered. Webhooks need no
// credentials, so it defaults to on.
func (d DiscordConfig) On() bool {
	return d.Enabled == nil || *d.Enabled
}

// DiagnosticsConfig controls the operator HTTP endpoints (/healthz,
// /debug/engine, /debug/schedules and optionally /debug/pprof/).
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:6060").
//   - A non-loopback address needs a token or allow_insecure.
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
