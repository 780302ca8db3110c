package monitor

import (
	"time"
)

// OutcomeStatus classifies what happened to one channel in one cycle.
type OutcomeStatus string

const (
	StatusNotified       OutcomeStatus = "notified"
	StatusDeduped        OutcomeStatus = "deduped"
	StatusUnknownChannel OutcomeStatus = "unknown-channel"
	StatusNoPosts        OutcomeStatus = "no-posts"
	StatusNoMatches      OutcomeStatus = "no-matches"
	StatusNoDestination  OutcomeStatus = "no-destination"
	StatusFailed         OutcomeStatus = "failed"
)

// ChannelOutcome is the result of scanning a single configured channel.
type ChannelOutcome struct {
	Channel   string
	ChannelID string
	Status    OutcomeStatus
	Fetched   int
	Relevant  int
	// PostID is the id of the notification post when Status is notified.
	PostID string
	Err    error
}

// CycleReport collects every channel outcome of one monitoring cycle.
type CycleReport struct {
	Started  time.Time
	Finished time.Time
	// Err is set when the cycle aborted before scanning channels.
	Err      error
	Outcomes []ChannelOutcome
}

func (r CycleReport) Count(st OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == st {
			n++
		}
	}
	return n
}

// Outcome returns the outcome recorded for a channel name.
func (r CycleReport) Outcome(channel string) (ChannelOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Channel == channel {
			return o, true
		}
	}
	return ChannelOutcome{}, false
}

// CycleSummary is the serializable view of a CycleReport. It is published on
// the event bus and returned by Status.
type CycleSummary struct {
	Started  time.Time        `json:"started"`
	Took     time.Duration    `json:"took"`
	Channels int              `json:"channels"`
	Notified int              `json:"notified"`
	Deduped  int              `json:"deduped"`
	Skipped  int              `json:"skipped"`
	Failed   int              `json:"failed"`
	Error    string           `json:"error,omitempty"`
	Outcomes []OutcomeSummary `json:"outcomes,omitempty"`
}

type OutcomeSummary struct {
	Channel  string        `json:"channel"`
	Status   OutcomeStatus `json:"status"`
	Fetched  int           `json:"fetched,omitempty"`
	Relevant int           `json:"relevant,omitempty"`
	PostID   string        `json:"post_id,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func (r CycleReport) Summary() CycleSummary {
	s := CycleSummary{
		Started:  r.Started,
		Took:     r.Finished.Sub(r.Started),
		Channels: len(r.Outcomes),
		Notified: r.Count(StatusNotified),
		Deduped:  r.Count(StatusDeduped),
		Failed:   r.Count(StatusFailed),
	}
	s.Skipped = s.Channels - s.Notified - s.Deduped - s.Failed
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	for _, o := range r.Outcomes {
		os := OutcomeSummary{
			Channel:  o.Channel,
			Status:   o.Status,
			Fetched:  o.Fetched,
			Relevant: o.Relevant,
			PostID:   o.PostID,
		}
		if o.Err != nil {
			os.Error = o.Err.Error()
		}
		s.Outcomes = append(s.Outcomes, os)
	}
	return s
}
