package mattermost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"golang.org/x/time/rate"
)

const apiPrefix = "/api/v4"

// Config controls the REST client.
type Config struct {
	// URL is the server base URL. A trailing "/api/v4" is accepted.
	URL    string
	Token  string
	TeamID string

	// RatePerSec paces outgoing requests (token bucket). 0 means 10/s.
	RatePerSec int
	// Timeout bounds a single HTTP round trip. 0 means 15s.
	Timeout time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client wraps model.Client4 with request pacing, a cached token owner and
// the small value types the monitor works with.
type Client struct {
	api     *model.Client4
	teamID  string
	limiter *rate.Limiter

	meMu sync.Mutex
	me   *User
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	base = strings.TrimSuffix(base, apiPrefix)
	if base == "" {
		return nil, errors.New("mattermost url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("mattermost url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("mattermost token required")
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	api := model.NewAPIv4Client(base)
	api.HTTPClient = hc
	api.SetToken(token)

	return &Client{
		api:     api,
		teamID:  strings.TrimSpace(cfg.TeamID),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// ListChannels returns one page of the team's public channels.
func (c *Client) ListChannels(ctx context.Context, limit, page int) (ChannelList, error) {
	if c.teamID == "" {
		return ChannelList{}, errors.New("mattermost team id required to list channels")
	}
	if err := c.wait(ctx); err != nil {
		return ChannelList{}, err
	}
	limit, page = pageArgs(limit, page)
	chans, resp, err := c.api.GetPublicChannelsForTeam(ctx, c.teamID, page, limit, "")
	if err != nil {
		return ChannelList{}, apiError("list channels", resp, err)
	}
	out := ChannelList{Channels: make([]Channel, 0, len(chans)), TotalCount: len(chans)}
	for _, ch := range chans {
		if ch != nil {
			out.Channels = append(out.Channels, channelFromModel(ch))
		}
	}
	return out, nil
}

// ListPosts returns the most recent posts of a channel.
func (c *Client) ListPosts(ctx context.Context, channelID string, limit, page int) (PostList, error) {
	if err := c.wait(ctx); err != nil {
		return PostList{Posts: map[string]Post{}}, err
	}
	limit, page = pageArgs(limit, page)
	pl, resp, err := c.api.GetPostsForChannel(ctx, channelID, page, limit, "", false, false)
	if err != nil {
		return PostList{Posts: map[string]Post{}}, apiError("list posts", resp, err)
	}
	return postListFromModel(pl), nil
}

// ListUsers returns one page of users.
func (c *Client) ListUsers(ctx context.Context, limit, page int) (UserList, error) {
	if err := c.wait(ctx); err != nil {
		return UserList{}, err
	}
	limit, page = pageArgs(limit, page)
	users, resp, err := c.api.GetUsers(ctx, page, limit, "")
	if err != nil {
		return UserList{}, apiError("list users", resp, err)
	}
	out := UserList{Users: make([]User, 0, len(users)), TotalCount: len(users)}
	for _, u := range users {
		if u != nil {
			out.Users = append(out.Users, userFromModel(u))
		}
	}
	return out, nil
}

func (c *Client) GetUserProfile(ctx context.Context, userID string) (User, error) {
	if err := c.wait(ctx); err != nil {
		return User{}, err
	}
	u, resp, err := c.api.GetUser(ctx, userID, "")
	if err != nil {
		return User{}, apiError("get user", resp, err)
	}
	return userFromModel(u), nil
}

// Me returns the account that owns the token. The result is cached.
func (c *Client) Me(ctx context.Context) (User, error) {
	c.meMu.Lock()
	defer c.meMu.Unlock()
	if c.me != nil {
		return *c.me, nil
	}
	if err := c.wait(ctx); err != nil {
		return User{}, err
	}
	u, resp, err := c.api.GetMe(ctx, "")
	if err != nil {
		return User{}, apiError("get me", resp, err)
	}
	me := userFromModel(u)
	c.me = &me
	return me, nil
}

func (c *Client) CreatePost(ctx context.Context, channelID, message, rootID string) (Post, error) {
	if err := c.wait(ctx); err != nil {
		return Post{}, err
	}
	p, resp, err := c.api.CreatePost(ctx, &model.Post{
		ChannelId: channelID,
		Message:   message,
		RootId:    rootID,
	})
	if err != nil {
		return Post{}, apiError("create post", resp, err)
	}
	return postFromModel(p), nil
}

// PostText implements logx.ChatPoster.
func (c *Client) PostText(ctx context.Context, channelID, text string) error {
	_, err := c.CreatePost(ctx, channelID, text, "")
	return err
}

// CreateDirectChannel opens (or returns the existing) direct channel between
// the token owner and userID.
func (c *Client) CreateDirectChannel(ctx context.Context, userID string) (Channel, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return Channel{}, err
	}
	if err := c.wait(ctx); err != nil {
		return Channel{}, err
	}
	ch, resp, err := c.api.CreateDirectChannel(ctx, me.ID, userID)
	if err != nil {
		return Channel{}, apiError("create direct channel", resp, err)
	}
	return channelFromModel(ch), nil
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// apiError maps a Client4 failure to *APIError. Transport errors that never
// produced a response are wrapped as is.
func apiError(op string, resp *model.Response, err error) error {
	var appErr *model.AppError
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if errors.As(err, &appErr) {
		if status == 0 {
			status = appErr.StatusCode
		}
		msg := appErr.Message
		if msg == "" {
			msg = appErr.DetailedError
		}
		if status != 0 {
			return &APIError{Op: op, StatusCode: status, Message: msg, Err: err}
		}
	}
	if status != 0 {
		return &APIError{Op: op, StatusCode: status, Message: err.Error(), Err: err}
	}
	return fmt.Errorf("mattermost %s: %w", op, err)
}

func pageArgs(limit, page int) (int, int) {
	if limit <= 0 {
		limit = 60
	}
	if page < 0 {
		page = 0
	}
	return limit, page
}

func channelFromModel(ch *model.Channel) Channel {
	if ch == nil {
		return Channel{}
	}
	return Channel{
		ID:          ch.Id,
		TeamID:      ch.TeamId,
		DisplayName: ch.DisplayName,
		Name:        ch.Name,
		Type:        string(ch.Type),
		Header:      ch.Header,
		Purpose:     ch.Purpose,
		CreateAt:    ch.CreateAt,
		UpdateAt:    ch.UpdateAt,
		DeleteAt:    ch.DeleteAt,
		CreatorID:   ch.CreatorId,
	}
}

func postFromModel(p *model.Post) Post {
	if p == nil {
		return Post{}
	}
	return Post{
		ID:         p.Id,
		CreateAt:   p.CreateAt,
		UpdateAt:   p.UpdateAt,
		DeleteAt:   p.DeleteAt,
		UserID:     p.UserId,
		ChannelID:  p.ChannelId,
		RootID:     p.RootId,
		Message:    p.Message,
		Type:       p.Type,
		ReplyCount: int(p.ReplyCount),
	}
}

func postListFromModel(pl *model.PostList) PostList {
	out := PostList{Posts: map[string]Post{}}
	if pl == nil {
		return out
	}
	out.Order = append([]string(nil), pl.Order...)
	out.NextPostID = pl.NextPostId
	out.PrevPostID = pl.PrevPostId
	for id, p := range pl.Posts {
		if p != nil {
			out.Posts[id] = postFromModel(p)
		}
	}
	return out
}

func userFromModel(u *model.User) User {
	if u == nil {
		return User{}
	}
	return User{
		ID:        u.Id,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Nickname:  u.Nickname,
		Roles:     u.Roles,
		Locale:    u.Locale,
		IsBot:     u.IsBot,
		DeleteAt:  u.DeleteAt,
	}
}
