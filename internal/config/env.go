package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets and endpoints from the file.
const (
	EnvMattermostURL    = "TOPICWATCH_MATTERMOST_URL"
	EnvMattermostToken  = "TOPICWATCH_MATTERMOST_TOKEN"
	EnvMattermostTeamID = "TOPICWATCH_MATTERMOST_TEAM_ID"
	EnvTelegramToken    = "TOPICWATCH_TELEGRAM_TOKEN"
	EnvTelegramChatID   = "TOPICWATCH_TELEGRAM_CHAT_ID"
	EnvLogLevel         = "TOPICWATCH_LOG_LEVEL"
	EnvDiagToken        = "TOPICWATCH_DIAG_TOKEN"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) {
	applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get(EnvMattermostURL); ok {
		cfg.Mattermost.URL = v
	}
	if v, ok := get(EnvMattermostToken); ok {
		cfg.Mattermost.Token = v
	}
	if v, ok := get(EnvMattermostTeamID); ok {
		cfg.Mattermost.TeamID = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get(EnvDiagToken); ok && cfg.Diagnostics != nil {
		cfg.Diagnostics.Token = v
	}
	if v, ok := get(EnvTelegramToken); ok {
		if cfg.Notifier == nil {
			cfg.Notifier = &NotifierConfig{}
		}
		if cfg.Notifier.Telegram == nil {
			cfg.Notifier.Telegram = &TelegramMirror{}
		}
		cfg.Notifier.Telegram.Token = v
	}
	if v, ok := get(EnvTelegramChatID); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && cfg.Notifier != nil && cfg.Notifier.Telegram != nil {
			cfg.Notifier.Telegram.ChatID = id
		}
	}
}
