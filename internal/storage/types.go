package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retention drops records older than this on open and periodically
	// afterwards. Zero keeps everything.
	Retention time.Duration
}

// Delivery status values.
const (
	DeliverySent    = "sent"
	DeliveryDeduped = "deduped"
	DeliveryFailed  = "failed"
)

// Delivery records one notification attempt.
// Keep it compact and schema-stable.
type Delivery struct {
	At          time.Time `json:"at"`
	Source      string    `json:"source"`
	SourceID    string    `json:"source_id,omitempty"`
	Destination string    `json:"destination"`
	PostID      string    `json:"post_id,omitempty"`
	Posts       int       `json:"posts"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// Cycle records the summary of one monitoring cycle.
type Cycle struct {
	Started  time.Time `json:"started"`
	TookMS   int64     `json:"took_ms"`
	Channels int       `json:"channels"`
	Notified int       `json:"notified"`
	Deduped  int       `json:"deduped"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Error    string    `json:"error,omitempty"`
	// OutcomesJSON is the per-channel breakdown as a JSON array.
	OutcomesJSON string `json:"outcomes,omitempty"`
}
