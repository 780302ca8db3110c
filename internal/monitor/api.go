package monitor

import (
	"context"

	"topicwatch/internal/mattermost"
	"topicwatch/internal/notifier"
)

// API is the chat data-access collaborator. *mattermost.Client implements it.
type API interface {
	ListChannels(ctx context.Context, limit, page int) (mattermost.ChannelList, error)
	ListPosts(ctx context.Context, channelID string, limit, page int) (mattermost.PostList, error)
	ListUsers(ctx context.Context, limit, page int) (mattermost.UserList, error)
	GetUserProfile(ctx context.Context, userID string) (mattermost.User, error)
	CreatePost(ctx context.Context, channelID, message, rootID string) (mattermost.Post, error)
	CreateDirectChannel(ctx context.Context, userID string) (mattermost.Channel, error)
}

// Dispatcher delivers a composed notification. *notifier.Service implements it.
type Dispatcher interface {
	Notify(ctx context.Context, n notifier.Notification) (notifier.Result, error)
}
