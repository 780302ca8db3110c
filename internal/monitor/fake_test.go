package monitor

import (
	"context"
	"errors"
	"sync"

	"topicwatch/internal/mattermost"
	"topicwatch/internal/notifier"
)

var errFake = errors.New("fake failure")

// fakeAPI is a call-counting in-memory API.
type fakeAPI struct {
	mu sync.Mutex

	channels    []mattermost.Channel
	channelsErr error
	posts       map[string][]mattermost.Post
	postsErr    map[string]error
	users       []mattermost.User
	usersErr    error
	profiles    map[string]mattermost.User
	directID    string
	directErr   error
	panicOn     string

	calls   map[string]int
	created []createdPost
}

type createdPost struct {
	channelID string
	message   string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		posts:    map[string][]mattermost.Post{},
		postsErr: map[string]error{},
		profiles: map[string]mattermost.User{},
		calls:    map[string]int{},
	}
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) hit(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeAPI) ListChannels(context.Context, int, int) (mattermost.ChannelList, error) {
	f.hit("ListChannels")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channelsErr != nil {
		return mattermost.ChannelList{}, f.channelsErr
	}
	return mattermost.ChannelList{Channels: append([]mattermost.Channel(nil), f.channels...)}, nil
}

func (f *fakeAPI) ListPosts(_ context.Context, channelID string, limit, _ int) (mattermost.PostList, error) {
	f.hit("ListPosts")
	f.mu.Lock()
	defer f.mu.Unlock()
	if channelID == f.panicOn {
		panic("fake panic in " + channelID)
	}
	if err := f.postsErr[channelID]; err != nil {
		return mattermost.PostList{}, err
	}
	list := mattermost.PostList{Posts: map[string]mattermost.Post{}}
	for i, p := range f.posts[channelID] {
		if i >= limit {
			break
		}
		list.Posts[p.ID] = p
		list.Order = append(list.Order, p.ID)
	}
	return list, nil
}

func (f *fakeAPI) ListUsers(context.Context, int, int) (mattermost.UserList, error) {
	f.hit("ListUsers")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usersErr != nil {
		return mattermost.UserList{}, f.usersErr
	}
	return mattermost.UserList{Users: append([]mattermost.User(nil), f.users...)}, nil
}

func (f *fakeAPI) GetUserProfile(_ context.Context, userID string) (mattermost.User, error) {
	f.hit("GetUserProfile")
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.profiles[userID]
	if !ok {
		return mattermost.User{}, errFake
	}
	return u, nil
}

func (f *fakeAPI) CreatePost(_ context.Context, channelID, message, _ string) (mattermost.Post, error) {
	f.hit("CreatePost")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, createdPost{channelID: channelID, message: message})
	return mattermost.Post{ID: "created", ChannelID: channelID, Message: message}, nil
}

func (f *fakeAPI) CreateDirectChannel(_ context.Context, userID string) (mattermost.Channel, error) {
	f.hit("CreateDirectChannel")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.directErr != nil {
		return mattermost.Channel{}, f.directErr
	}
	return mattermost.Channel{ID: f.directID, Type: mattermost.ChannelDirect}, nil
}

// fakeDispatcher records notifications without dedup.
type fakeDispatcher struct {
	mu   sync.Mutex
	sent []notifier.Notification
	err  error
}

func (d *fakeDispatcher) Notify(_ context.Context, n notifier.Notification) (notifier.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return notifier.Result{}, d.err
	}
	d.sent = append(d.sent, n)
	return notifier.Result{Delivered: true, PostID: "np"}, nil
}

func (d *fakeDispatcher) notifications() []notifier.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notifier.Notification(nil), d.sent...)
}

func post(id, msg string, at int64) mattermost.Post {
	return mattermost.Post{ID: id, UserID: "author", Message: msg, CreateAt: at}
}
