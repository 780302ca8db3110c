package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"topicwatch/internal/mattermost"
	logx "topicwatch/pkg/logx"
)

// Identity is the resolved acting account and notification destination.
type Identity struct {
	UserID                string `json:"user_id,omitempty"`
	Username              string `json:"username,omitempty"`
	NotificationChannelID string `json:"notification_channel_id,omitempty"`

	// UserTier and TargetTier name the strategy that produced each value.
	UserTier   string `json:"user_tier,omitempty"`
	TargetTier string `json:"target_tier,omitempty"`
}

// resolveEnv is the shared input of every strategy. The channel listing is
// fetched at most once per resolution.
type resolveEnv struct {
	api API
	cfg Config

	user Identity

	channels    []mattermost.Channel
	channelsErr error
	listed      bool
}

func (e *resolveEnv) listChannels(ctx context.Context) ([]mattermost.Channel, error) {
	if !e.listed {
		e.listed = true
		list, err := e.api.ListChannels(ctx, e.cfg.ChannelPageSize, 0)
		e.channels, e.channelsErr = list.Channels, err
	}
	return e.channels, e.channelsErr
}

func (e *resolveEnv) defaultChannelID(ctx context.Context) (string, error) {
	channels, err := e.listChannels(ctx)
	if err != nil {
		return "", err
	}
	for _, ch := range channels {
		if ch.Name == e.cfg.DefaultChannel {
			return ch.ID, nil
		}
	}
	return "", nil
}

type userResult struct {
	id       string
	username string
}

// A strategy returns ok=false when it found nothing; an error is logged and
// treated the same way.
type userStrategy struct {
	name    string
	resolve func(ctx context.Context, env *resolveEnv) (userResult, bool, error)
}

type targetStrategy struct {
	name    string
	resolve func(ctx context.Context, env *resolveEnv) (string, bool, error)
}

var userStrategies = []userStrategy{
	{name: "configured", resolve: configuredUser},
	{name: "users-listing", resolve: listedUser},
	{name: "default-channel-author", resolve: defaultChannelAuthor},
	{name: "sentinel", resolve: sentinelUser},
}

var targetStrategies = []targetStrategy{
	{name: "direct-channel-listing", resolve: listedDirectChannel},
	{name: "direct-channel-create", resolve: createdDirectChannel},
	{name: "default-channel", resolve: defaultChannelTarget},
}

func configuredUser(_ context.Context, env *resolveEnv) (userResult, bool, error) {
	if env.cfg.UserID == "" {
		return userResult{}, false, nil
	}
	return userResult{id: env.cfg.UserID, username: env.cfg.Username}, true, nil
}

func listedUser(ctx context.Context, env *resolveEnv) (userResult, bool, error) {
	list, err := env.api.ListUsers(ctx, 100, 0)
	if err != nil {
		return userResult{}, false, err
	}
	if len(list.Users) == 0 {
		return userResult{}, false, nil
	}
	for _, u := range list.Users {
		for _, name := range env.cfg.PreferredUsernames {
			if strings.EqualFold(u.Username, strings.TrimSpace(name)) {
				return userResult{id: u.ID, username: u.Username}, true, nil
			}
		}
	}
	for _, u := range list.Users {
		if !u.IsBot {
			return userResult{id: u.ID, username: u.Username}, true, nil
		}
	}
	u := list.Users[0]
	return userResult{id: u.ID, username: u.Username}, true, nil
}

func defaultChannelAuthor(ctx context.Context, env *resolveEnv) (userResult, bool, error) {
	chID, err := env.defaultChannelID(ctx)
	if err != nil || chID == "" {
		return userResult{}, false, err
	}
	posts, err := env.api.ListPosts(ctx, chID, 1, 0)
	if err != nil {
		return userResult{}, false, err
	}
	ordered := posts.Ordered()
	if len(ordered) == 0 || ordered[0].UserID == "" {
		return userResult{}, false, nil
	}
	author := ordered[0].UserID
	username := author
	if u, err := env.api.GetUserProfile(ctx, author); err == nil && u.Username != "" {
		username = u.Username
	}
	return userResult{id: author, username: username}, true, nil
}

// sentinelUser carries no username so notifications fall back to the
// placeholder mention.
func sentinelUser(context.Context, *resolveEnv) (userResult, bool, error) {
	return userResult{id: SentinelUserID}, true, nil
}

func listedDirectChannel(ctx context.Context, env *resolveEnv) (string, bool, error) {
	channels, err := env.listChannels(ctx)
	if err != nil {
		return "", false, err
	}
	for _, ch := range channels {
		if ch.Type == mattermost.ChannelDirect && ch.ID != "" {
			return ch.ID, true, nil
		}
	}
	return "", false, nil
}

func createdDirectChannel(ctx context.Context, env *resolveEnv) (string, bool, error) {
	if env.user.UserID == "" {
		return "", false, nil
	}
	ch, err := env.api.CreateDirectChannel(ctx, env.user.UserID)
	if err != nil {
		return "", false, err
	}
	return ch.ID, ch.ID != "", nil
}

func defaultChannelTarget(ctx context.Context, env *resolveEnv) (string, bool, error) {
	id, err := env.defaultChannelID(ctx)
	if err != nil {
		return "", false, err
	}
	return id, id != "", nil
}

type resolver struct {
	log     logx.Logger
	users   []userStrategy
	targets []targetStrategy
}

func newResolver(log logx.Logger) *resolver {
	return &resolver{log: log, users: userStrategies, targets: targetStrategies}
}

// Resolve runs the user tiers, then (when no destination is configured) the
// target tiers. User resolution always yields an identity; an unresolvable
// target returns ErrNoTarget together with the partial identity.
func (r *resolver) Resolve(ctx context.Context, api API, cfg Config) (Identity, error) {
	env := &resolveEnv{api: api, cfg: cfg}

	for _, st := range r.users {
		res, ok, err := st.resolve(ctx, env)
		if err != nil {
			r.log.Warn("identity tier failed", logx.String("tier", st.name), logx.Err(err))
			continue
		}
		if !ok {
			r.log.Debug("identity tier found nothing", logx.String("tier", st.name))
			continue
		}
		env.user = Identity{UserID: res.id, Username: res.username, UserTier: st.name}
		break
	}
	if ctx.Err() != nil {
		return env.user, ctx.Err()
	}
	r.log.Info("identity resolved",
		logx.String("user_id", env.user.UserID),
		logx.String("username", env.user.Username),
		logx.String("tier", env.user.UserTier),
	)

	id := env.user
	if cfg.NotificationChannelID != "" {
		id.NotificationChannelID = cfg.NotificationChannelID
		id.TargetTier = "configured"
		return id, nil
	}

	var errs []error
	for _, st := range r.targets {
		chID, ok, err := st.resolve(ctx, env)
		if err != nil {
			r.log.Warn("notification target tier failed", logx.String("tier", st.name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
			continue
		}
		if !ok {
			r.log.Debug("notification target tier found nothing", logx.String("tier", st.name))
			continue
		}
		id.NotificationChannelID = chID
		id.TargetTier = st.name
		r.log.Info("notification target resolved", logx.String("channel_id", chID), logx.String("tier", st.name))
		return id, nil
	}
	if len(errs) > 0 {
		return id, fmt.Errorf("%w: %w", ErrNoTarget, errors.Join(errs...))
	}
	return id, ErrNoTarget
}
