package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets from the config file.
const (
	EnvDatabaseDSN   = "AURATASK_DATABASE_DSN"
	EnvRedisAddr     = "AURATASK_REDIS_ADDR"
	EnvRedisPassword = "AURATASK_REDIS_PASSWORD"
	EnvSMTPPassword  = "AURATASK_SMTP_PASSWORD"
	EnvTelegramToken = "AURATASK_TELEGRAM_TOKEN"
)

// LoadDotEnv loads KEY=VALUE pairs from files (default ".env") into the
// process environment without overriding variables that are already set.
// A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overwrites secret fields with non-empty values from getenv.
// A nil getenv reads the process environment.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Storage.DSN, EnvDatabaseDSN)
	set(&cfg.Runtime.Redis.Addr, EnvRedisAddr)
	set(&cfg.Runtime.Redis.Password, EnvRedisPassword)
	set(&cfg.Channels.Email.SMTPPassword, EnvSMTPPassword)
	set(&cfg.Channels.Telegram.Token, EnvTelegramToken)
}
