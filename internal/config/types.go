package config

type Config struct {
	Mattermost MattermostConfig `json:"mattermost"`
	Logging    LoggingConfig    `json:"logging"`
	Monitoring MonitoringConfig `json:"monitoring"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	MCP      *MCPConfig      `json:"mcp,omitempty"`
	Systemd  *SystemdConfig  `json:"systemd,omitempty"`

	Diagnostics *DiagnosticsConfig `json:"diagnostics,omitempty"`
}

// MattermostConfig points at the Mattermost server.
//
// Token and URL may be left empty in the file and supplied through the
// environment (see ApplyEnv).
type MattermostConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	TeamID string `json:"team_id"`
	// RatePerSec paces REST calls. Default 10.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// Timeout is a Go duration string (e.g. "15s").
	Timeout string `json:"timeout,omitempty"`
}

// MonitoringConfig mirrors monitor.Config.
//
// Example:
//
//	"monitoring": {
//	  "enabled": true,
//	  "schedule": "*/5 * * * *",
//	  "channels": ["town-square"],
//	  "topics": ["release", "outage"],
//	  "message_limit": 30
//	}
type MonitoringConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`

	Channels     []string            `json:"channels"`
	Topics       []string            `json:"topics"`
	TopicAliases map[string][]string `json:"topic_aliases,omitempty"`
	MessageLimit int                 `json:"message_limit,omitempty"`

	NotificationChannelID string `json:"notification_channel_id,omitempty"`
	UserID                string `json:"user_id,omitempty"`
	Username              string `json:"username,omitempty"`

	PreferredUsernames []string `json:"preferred_usernames,omitempty"`
	DefaultChannel     string   `json:"default_channel,omitempty"`
	ChannelPageSize    int      `json:"channel_page_size,omitempty"`
}

// NotifierConfig controls notification dispatch.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - rate_per_sec: 3
//   - send_timeout: "10s"
//   - dedup_window: "24h" ("0s" disables dedup)
//   - dedup_max_entries: 2000
//   - history_size: 300
type NotifierConfig struct {
	RatePerSec      int             `json:"rate_per_sec,omitempty"`
	SendTimeout     string          `json:"send_timeout,omitempty"`
	DedupWindow     string          `json:"dedup_window,omitempty"`
	DedupMaxEntries int             `json:"dedup_max_entries,omitempty"`
	HistorySize     int             `json:"history_size,omitempty"`
	Telegram        *TelegramMirror `json:"telegram,omitempty"`
}

// TelegramMirror forwards every delivered notification to a Telegram chat.
// The token may come from TOPICWATCH_TELEGRAM_TOKEN.
type TelegramMirror struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id"`
}

// StorageConfig controls the optional audit trail.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/topicwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retention   string `json:"retention,omitempty"`    // Go duration string, "0s" keeps all
}

// MCPConfig controls the Model Context Protocol tool server.
type MCPConfig struct {
	Enabled bool   `json:"enabled"`
	Name    string `json:"name,omitempty"` // default: "topicwatch"
}

// SystemdConfig controls sd_notify integration. It is a no-op when the
// process is not started by systemd.
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog,omitempty"`
}

// DiagnosticsConfig exposes an operator HTTP endpoint (status, manual run,
// audit trail and optional pprof).
//
// Example:
//
//	"diagnostics": { "enabled": true, "addr": "127.0.0.1:6060", "pprof": true }
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"` // bearer token, or TOPICWATCH_DIAG_TOKEN
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat posts log lines at or above MinLevel into a Mattermost channel.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
