package mattermost

import (
	"fmt"
	"sort"
)

// Channel types as reported by the server.
const (
	ChannelOpen    = "O"
	ChannelPrivate = "P"
	ChannelDirect  = "D"
	ChannelGroup   = "G"
)

type Channel struct {
	ID          string `json:"id"`
	TeamID      string `json:"team_id"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Header      string `json:"header,omitempty"`
	Purpose     string `json:"purpose,omitempty"`
	CreateAt    int64  `json:"create_at"`
	UpdateAt    int64  `json:"update_at"`
	DeleteAt    int64  `json:"delete_at"`
	CreatorID   string `json:"creator_id,omitempty"`
}

// Post is an immutable snapshot of a chat message.
type Post struct {
	ID         string `json:"id"`
	CreateAt   int64  `json:"create_at"`
	UpdateAt   int64  `json:"update_at,omitempty"`
	DeleteAt   int64  `json:"delete_at,omitempty"`
	UserID     string `json:"user_id"`
	ChannelID  string `json:"channel_id"`
	RootID     string `json:"root_id,omitempty"`
	Message    string `json:"message"`
	Type       string `json:"type,omitempty"`
	ReplyCount int    `json:"reply_count,omitempty"`
}

type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	Roles     string `json:"roles,omitempty"`
	Locale    string `json:"locale,omitempty"`
	IsBot     bool   `json:"is_bot"`
	DeleteAt  int64  `json:"delete_at,omitempty"`
}

type ChannelList struct {
	Channels   []Channel `json:"channels"`
	TotalCount int       `json:"total_count"`
}

type UserList struct {
	Users      []User `json:"users"`
	TotalCount int    `json:"total_count"`
}

// PostList is the server's posts page: a map keyed by id plus the display order.
type PostList struct {
	Posts      map[string]Post `json:"posts"`
	Order      []string        `json:"order"`
	NextPostID string          `json:"next_post_id,omitempty"`
	PrevPostID string          `json:"prev_post_id,omitempty"`
}

// Ordered returns the posts following Order. Ids missing from Posts are
// skipped. Posts not referenced by Order are appended newest first.
func (l PostList) Ordered() []Post {
	out := make([]Post, 0, len(l.Posts))
	seen := make(map[string]struct{}, len(l.Posts))
	for _, id := range l.Order {
		p, ok := l.Posts[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, p)
	}
	if len(out) == len(l.Posts) {
		return out
	}
	rest := make([]Post, 0, len(l.Posts)-len(out))
	for id, p := range l.Posts {
		if _, ok := seen[id]; !ok {
			rest = append(rest, p)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].CreateAt != rest[j].CreateAt {
			return rest[i].CreateAt > rest[j].CreateAt
		}
		return rest[i].ID < rest[j].ID
	})
	return append(out, rest...)
}

// APIError is returned for non-2xx responses. Err holds the underlying
// *model.AppError.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mattermost %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("mattermost %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}
