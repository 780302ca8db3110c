package monitor

import (
	"fmt"
	"strings"
	"time"

	"topicwatch/internal/mattermost"
)

// timestampLayout renders post times in the notification body.
const timestampLayout = "1/2/2006, 3:04:05 PM"

// Analyzer decides topic relevance. The zero value matches plain topics only.
//
// Matching is case-insensitive substring containment without word
// boundaries: topic "art" matches "party".
type Analyzer struct {
	// aliases maps a lowercased topic to lowercased alternative phrases.
	aliases map[string][]string
}

// NewAnalyzer builds an Analyzer with optional topic aliases.
func NewAnalyzer(aliases map[string][]string) Analyzer {
	if len(aliases) == 0 {
		return Analyzer{}
	}
	m := make(map[string][]string, len(aliases))
	for topic, list := range aliases {
		key := strings.ToLower(strings.TrimSpace(topic))
		if key == "" {
			continue
		}
		for _, a := range list {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" {
				m[key] = append(m[key], a)
			}
		}
	}
	return Analyzer{aliases: m}
}

// Matches reports whether the post mentions any topic.
func (a Analyzer) Matches(p mattermost.Post, topics []string) bool {
	if len(topics) == 0 {
		return false
	}
	msg := strings.ToLower(p.Message)
	for _, t := range topics {
		t = strings.ToLower(t)
		if t == "" {
			continue
		}
		if strings.Contains(msg, t) {
			return true
		}
		for _, alias := range a.aliases[strings.TrimSpace(t)] {
			if strings.Contains(msg, alias) {
				return true
			}
		}
	}
	return false
}

// FilterRelevant returns the matching posts in input order.
func (a Analyzer) FilterRelevant(posts []mattermost.Post, topics []string) []mattermost.Post {
	out := make([]mattermost.Post, 0, len(posts))
	for _, p := range posts {
		if a.Matches(p, topics) {
			out = append(out, p)
		}
	}
	return out
}

// Matches reports whether p mentions any topic, without aliases.
func Matches(p mattermost.Post, topics []string) bool {
	return Analyzer{}.Matches(p, topics)
}

// FilterRelevant keeps the posts that mention a topic, preserving order.
// Aliases are not expanded.
func FilterRelevant(posts []mattermost.Post, topics []string) []mattermost.Post {
	return Analyzer{}.FilterRelevant(posts, topics)
}

// ComposeNotification renders the notification text. It returns "" when
// there is nothing to report; callers must not send an empty message.
func ComposeNotification(posts []mattermost.Post, channelName, mention string, loc *time.Location) string {
	if len(posts) == 0 {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	mention = strings.TrimPrefix(strings.TrimSpace(mention), "@")
	if mention == "" {
		mention = DefaultMentionTarget
	}

	var b strings.Builder
	fmt.Fprintf(&b, "@%s I found discussion about topics you're interested in!\n\n", mention)
	fmt.Fprintf(&b, "**Channel:** %s\n\n", channelName)
	for i, p := range posts {
		ts := time.UnixMilli(p.CreateAt).In(loc).Format(timestampLayout)
		fmt.Fprintf(&b, "**Message %d** (%s):\n", i+1, ts)
		b.WriteString(p.Message)
		b.WriteString("\n\n")
	}
	return b.String()
}
