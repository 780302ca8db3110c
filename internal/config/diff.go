package config

import (
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "topicwatch/pkg/logx"
)

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging. Secrets (tokens) are never included; only
// whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)

	// Mattermost (never log token)
	om, nm := oldCfg.Mattermost, newCfg.Mattermost
	if strings.TrimSpace(om.URL) != strings.TrimSpace(nm.URL) ||
		strings.TrimSpace(om.TeamID) != strings.TrimSpace(nm.TeamID) ||
		om.RatePerSec != nm.RatePerSec ||
		strings.TrimSpace(om.Timeout) != strings.TrimSpace(nm.Timeout) ||
		strings.TrimSpace(om.Token) != strings.TrimSpace(nm.Token) {
		changed = append(changed, "mattermost")
		attrs = append(attrs,
			logx.String("mattermost.url", strings.TrimSpace(nm.URL)),
			logx.Bool("mattermost.token_set", strings.TrimSpace(nm.Token) != ""),
			logx.Bool("mattermost.token_changed", strings.TrimSpace(om.Token) != strings.TrimSpace(nm.Token)),
			logx.Int("mattermost.rate_per_sec", nm.RatePerSec),
		)
	}

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	// Monitoring
	if !reflect.DeepEqual(oldCfg.Monitoring, newCfg.Monitoring) {
		changed = append(changed, "monitoring")
		nmon := newCfg.Monitoring
		attrs = append(attrs,
			logx.Bool("monitoring.enabled", nmon.Enabled),
			logx.String("monitoring.schedule", nmon.Schedule),
			logx.Int("monitoring.channels", len(nmon.Channels)),
			logx.Int("monitoring.topics", len(nmon.Topics)),
			logx.Bool("monitoring.destination_set", strings.TrimSpace(nmon.NotificationChannelID) != ""),
		)
	}

	// Notifier. Nil means runtime defaults.
	oN := derefNotifier(oldCfg.Notifier)
	nN := derefNotifier(newCfg.Notifier)
	if !reflect.DeepEqual(oN, nN) || !reflect.DeepEqual(derefTelegram(oldCfg.Notifier), derefTelegram(newCfg.Notifier)) {
		changed = append(changed, "notifier")
		tg := derefTelegram(newCfg.Notifier)
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
			logx.String("notifier.dedup_window", strings.TrimSpace(nN.DedupWindow)),
			logx.Bool("notifier.telegram_enabled", tg.Enabled),
			logx.Bool("notifier.telegram_token_set", strings.TrimSpace(tg.Token) != ""),
		)
	}

	// Storage. Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if !reflect.DeepEqual(oS, nS) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.retention", strings.TrimSpace(nS.Retention)),
		)
	}

	if !reflect.DeepEqual(oldCfg.MCP, newCfg.MCP) {
		changed = append(changed, "mcp")
		attrs = append(attrs, logx.String("mcp.name", newCfg.MCPName()))
	}
	if !reflect.DeepEqual(oldCfg.Systemd, newCfg.Systemd) {
		changed = append(changed, "systemd")
	}
	if !reflect.DeepEqual(oldCfg.Diagnostics, newCfg.Diagnostics) {
		changed = append(changed, "diagnostics")
		d := newCfg.ToDiagnostics()
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", d.Enabled),
			logx.String("diagnostics.addr", d.Addr),
			logx.Bool("diagnostics.token_set", d.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// derefNotifier returns the section without the telegram pointer so
// reflect.DeepEqual compares values.
func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	cp := *n
	cp.Telegram = nil
	return cp
}

func derefTelegram(n *NotifierConfig) TelegramMirror {
	if n == nil || n.Telegram == nil {
		return TelegramMirror{}
	}
	return *n.Telegram
}

// RestartRequired reports sections that cannot be applied to running
// services and need a process restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "mattermost", "storage", "mcp", "systemd", "diagnostics":
			out = append(out, s)
		}
	}
	return out
}
