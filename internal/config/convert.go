package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"topicwatch/internal/mattermost"
	"topicwatch/internal/monitor"
	"topicwatch/internal/notifier"
	"topicwatch/internal/observability/diag"
	"topicwatch/internal/storage"
	logx "topicwatch/pkg/logx"
)

func (c *Config) ToMonitor() monitor.Config {
	m := c.Monitoring
	return monitor.Config{
		Enabled:               m.Enabled,
		Schedule:              m.Schedule,
		Timezone:              m.Timezone,
		Channels:              append([]string(nil), m.Channels...),
		Topics:                append([]string(nil), m.Topics...),
		TopicAliases:          m.TopicAliases,
		MessageLimit:          m.MessageLimit,
		NotificationChannelID: m.NotificationChannelID,
		UserID:                m.UserID,
		Username:              m.Username,
		PreferredUsernames:    append([]string(nil), m.PreferredUsernames...),
		DefaultChannel:        m.DefaultChannel,
		ChannelPageSize:       m.ChannelPageSize,
	}
}

func (c *Config) ToMattermost() (mattermost.Config, error) {
	timeout, err := ParseDurationField("mattermost.timeout", c.Mattermost.Timeout)
	if err != nil {
		return mattermost.Config{}, err
	}
	return mattermost.Config{
		URL:        strings.TrimSpace(c.Mattermost.URL),
		Token:      strings.TrimSpace(c.Mattermost.Token),
		TeamID:     strings.TrimSpace(c.Mattermost.TeamID),
		RatePerSec: c.Mattermost.RatePerSec,
		Timeout:    timeout,
	}, nil
}

// ToLogx maps the logging section. Console output goes to stderr when stdout
// carries the MCP transport.
func (c *Config) ToLogx(consoleStderr bool) logx.Config {
	return logx.Config{
		Level:         c.Logging.Level,
		Console:       c.Logging.Console,
		ConsoleStderr: consoleStderr,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    c.Logging.Chat.Enabled,
			ChannelID:  c.Logging.Chat.ChannelID,
			MinLevel:   c.Logging.Chat.MinLevel,
			RatePerSec: c.Logging.Chat.RatePerSec,
		},
	}
}

func (c *Config) ToNotifier() (notifier.Config, error) {
	if c.Notifier == nil {
		return notifier.Config{}, nil
	}
	n := c.Notifier
	sendTimeout, err := ParseDurationField("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	out := notifier.Config{
		RatePerSec:  n.RatePerSec,
		SendTimeout: sendTimeout,
		DedupWindow: window,
		// An explicit zero window ("0s") turns dedup off; an omitted one
		// keeps the notifier default.
		DisableDedup:    strings.TrimSpace(n.DedupWindow) != "" && window == 0,
		DedupMaxEntries: n.DedupMaxEntries,
		HistorySize:     n.HistorySize,
	}
	if n.Telegram != nil {
		out.Telegram = notifier.TelegramConfig{
			Enabled: n.Telegram.Enabled,
			Token:   strings.TrimSpace(n.Telegram.Token),
			ChatID:  n.Telegram.ChatID,
		}
	}
	return out, nil
}

func (c *Config) ToStorage() (storage.Config, error) {
	if c.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	retention, err := ParseDurationField("storage.retention", c.Storage.Retention)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		BusyTimeout: busy,
		Retention:   retention,
	}, nil
}

func (c *Config) ToDiagnostics() diag.Config {
	if c.Diagnostics == nil {
		return diag.Config{}
	}
	d := c.Diagnostics
	return diag.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
	}
}

// MCPName returns the advertised MCP server name.
func (c *Config) MCPName() string {
	if c.MCP == nil || strings.TrimSpace(c.MCP.Name) == "" {
		return "topicwatch"
	}
	return strings.TrimSpace(c.MCP.Name)
}

// Validate checks everything that can be checked without the network. It is
// installed as the ConfigManager validator so a broken edit never reaches
// running services.
func Validate(_ context.Context, c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Mattermost.URL) == "" {
		errs = append(errs, errors.New("mattermost.url is required"))
	}
	if strings.TrimSpace(c.Mattermost.Token) == "" {
		errs = append(errs, errors.New("mattermost.token is required"))
	}
	if strings.TrimSpace(c.Mattermost.TeamID) == "" {
		errs = append(errs, errors.New("mattermost.team_id is required"))
	}
	if _, err := c.ToMattermost(); err != nil {
		errs = append(errs, err)
	}
	if err := c.ToMonitor().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("monitoring: %w", err))
	}
	if n, err := c.ToNotifier(); err != nil {
		errs = append(errs, err)
	} else if n.Telegram.Enabled && (n.Telegram.Token == "" || n.Telegram.ChatID == 0) {
		errs = append(errs, errors.New("notifier.telegram requires token and chat_id when enabled"))
	}
	if _, err := c.ToStorage(); err != nil {
		errs = append(errs, err)
	}
	if d := c.ToDiagnostics(); d.Enabled {
		if err := diag.CheckBind(d); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Logging.Chat.Enabled && strings.TrimSpace(c.Logging.Chat.ChannelID) == "" {
		errs = append(errs, errors.New("logging.chat.channel_id is required when chat logging is enabled"))
	}
	return errors.Join(errs...)
}
