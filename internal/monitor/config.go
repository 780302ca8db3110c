package monitor

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMessageLimit    = 30
	DefaultChannelPageSize = 100
	DefaultChannelName     = "town-square"
	// SentinelUserID is the identity of last resort.
	SentinelUserID = "system"
	// DefaultMentionTarget is used when no username could be resolved.
	DefaultMentionTarget = "user"
)

// DefaultPreferredUsernames are tried first when picking an identity from the
// user listing.
var DefaultPreferredUsernames = []string{"system-bot"}

// Config is the monitoring configuration. It is treated as immutable; use
// Monitor.UpdateConfig to replace it.
type Config struct {
	Enabled  bool
	Schedule string
	// Timezone is an IANA zone name used for cron evaluation and timestamps.
	// Empty means the process local zone.
	Timezone string

	Channels []string
	Topics   []string
	// TopicAliases lists extra phrases that count as a mention of a topic.
	TopicAliases map[string][]string

	MessageLimit int

	NotificationChannelID string
	UserID                string
	Username              string

	PreferredUsernames []string
	DefaultChannel     string
	ChannelPageSize    int
}

func (c Config) withDefaults() Config {
	c.Schedule = strings.TrimSpace(c.Schedule)
	c.Timezone = strings.TrimSpace(c.Timezone)
	c.NotificationChannelID = strings.TrimSpace(c.NotificationChannelID)
	c.UserID = strings.TrimSpace(c.UserID)
	c.Username = strings.TrimPrefix(strings.TrimSpace(c.Username), "@")
	if c.MessageLimit == 0 {
		c.MessageLimit = DefaultMessageLimit
	}
	if c.ChannelPageSize <= 0 {
		c.ChannelPageSize = DefaultChannelPageSize
	}
	if strings.TrimSpace(c.DefaultChannel) == "" {
		c.DefaultChannel = DefaultChannelName
	}
	if len(c.PreferredUsernames) == 0 {
		c.PreferredUsernames = append([]string(nil), DefaultPreferredUsernames...)
	}
	c.Channels = append([]string(nil), c.Channels...)
	c.Topics = append([]string(nil), c.Topics...)
	return c
}

// Validate checks the invariants required before the resolver or scheduler
// may start. A disabled config is always valid.
func (c Config) Validate() error {
	c = c.withDefaults()
	if !c.Enabled {
		return nil
	}
	if c.Schedule == "" {
		return fmt.Errorf("%w: schedule is required", ErrInvalidConfig)
	}
	if len(nonEmpty(c.Channels)) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrInvalidConfig)
	}
	if len(nonEmpty(c.Topics)) == 0 {
		return fmt.Errorf("%w: at least one topic is required", ErrInvalidConfig)
	}
	if c.MessageLimit <= 0 {
		return fmt.Errorf("%w: message limit must be > 0", ErrInvalidConfig)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
		}
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
