package notifier

import "time"

// Config controls dispatch of monitoring notifications.
type Config struct {
	// RatePerSec bounds outgoing posts; burst equals the rate.
	RatePerSec int
	// SendTimeout bounds a single post call.
	SendTimeout time.Duration
	// DedupWindow suppresses a notification for the same destination and the
	// same set of posts. Zero means DefaultDedupWindow.
	DedupWindow time.Duration
	// DisableDedup turns suppression off; every Notify posts.
	DisableDedup    bool
	DedupMaxEntries int
	HistorySize     int

	Telegram TelegramConfig
}

// TelegramConfig enables the optional Telegram mirror of every delivered
// notification.
type TelegramConfig struct {
	Enabled bool
	Token   string
	ChatID  int64
}

// Notification is one composed message for one monitored channel.
type Notification struct {
	// Source is the monitored channel name, SourceID its id.
	Source   string
	SourceID string
	// Destination is the channel id the message is posted into.
	Destination string
	Text        string
	// PostIDs are the relevant posts the message reports on.
	PostIDs []string
}

type Result struct {
	Delivered bool
	Deduped   bool
	// PostID is the id of the created notification post.
	PostID   string
	Mirrored bool
}

type HistoryItem struct {
	At          time.Time `json:"at"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	PostID      string    `json:"post_id"`
	Posts       int       `json:"posts"`
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	Source      string    `json:"source"`
	SourceID    string    `json:"source_id,omitempty"`
	Destination string    `json:"destination"`
	PostID      string    `json:"post_id,omitempty"`
	Posts       int       `json:"posts"`
	Key         string    `json:"key"`
	At          time.Time `json:"at"`
	Error       string    `json:"error,omitempty"`
}
