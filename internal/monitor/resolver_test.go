package monitor

import (
	"context"
	"errors"
	"testing"

	"topicwatch/internal/mattermost"
	logx "topicwatch/pkg/logx"
)

func resolve(t *testing.T, api *fakeAPI, cfg Config) (Identity, error) {
	t.Helper()
	return newResolver(logx.Nop()).Resolve(context.Background(), api, cfg.withDefaults())
}

func TestResolveConfiguredUserSkipsOtherTiers(t *testing.T) {
	api := newFakeAPI()
	api.users = []mattermost.User{{ID: "u1", Username: "system-bot"}}

	id, err := resolve(t, api, Config{UserID: "me", Username: "@alice", NotificationChannelID: "dest"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.UserID != "me" || id.Username != "alice" || id.UserTier != "configured" {
		t.Fatalf("identity=%+v", id)
	}
	if id.NotificationChannelID != "dest" || id.TargetTier != "configured" {
		t.Fatalf("target=%+v", id)
	}
	for _, op := range []string{"ListUsers", "ListChannels", "ListPosts", "GetUserProfile", "CreateDirectChannel"} {
		if n := api.count(op); n != 0 {
			t.Fatalf("%s called %d times", op, n)
		}
	}
}

func TestResolveUsersListingPreference(t *testing.T) {
	cases := []struct {
		name  string
		users []mattermost.User
		want  string
	}{
		{"preferred", []mattermost.User{{ID: "h", Username: "human"}, {ID: "b", Username: "System-Bot", IsBot: true}}, "b"},
		{"first non-bot", []mattermost.User{{ID: "x", Username: "robot", IsBot: true}, {ID: "h", Username: "human"}}, "h"},
		{"any", []mattermost.User{{ID: "x", Username: "robot", IsBot: true}}, "x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newFakeAPI()
			api.users = tc.users
			id, _ := resolve(t, api, Config{NotificationChannelID: "dest"})
			if id.UserID != tc.want || id.UserTier != "users-listing" {
				t.Fatalf("identity=%+v want user %s", id, tc.want)
			}
		})
	}
}

func TestResolveDefaultChannelAuthor(t *testing.T) {
	api := newFakeAPI()
	api.usersErr = errFake
	api.channels = []mattermost.Channel{{ID: "ts", Name: "town-square", Type: mattermost.ChannelOpen}}
	api.posts["ts"] = []mattermost.Post{{ID: "p1", UserID: "author1"}}
	api.profiles["author1"] = mattermost.User{ID: "author1", Username: "carol"}

	id, err := resolve(t, api, Config{NotificationChannelID: "dest"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.UserID != "author1" || id.Username != "carol" || id.UserTier != "default-channel-author" {
		t.Fatalf("identity=%+v", id)
	}

	// Profile lookup failure falls back to the raw id.
	delete(api.profiles, "author1")
	id, _ = resolve(t, api, Config{NotificationChannelID: "dest"})
	if id.Username != "author1" {
		t.Fatalf("username=%q", id.Username)
	}
}

func TestResolveSentinel(t *testing.T) {
	api := newFakeAPI()
	api.channels = []mattermost.Channel{{ID: "ts", Name: "town-square"}}

	id, err := resolve(t, api, Config{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.UserID != SentinelUserID || id.Username != "" || id.UserTier != "sentinel" {
		t.Fatalf("identity=%+v", id)
	}
}

func TestResolveTargetTiers(t *testing.T) {
	t.Run("direct channel listing", func(t *testing.T) {
		api := newFakeAPI()
		api.users = []mattermost.User{{ID: "u", Username: "u"}}
		api.channels = []mattermost.Channel{
			{ID: "ts", Name: "town-square", Type: mattermost.ChannelOpen},
			{ID: "dm", Name: "u__v", Type: mattermost.ChannelDirect},
		}
		id, err := resolve(t, api, Config{})
		if err != nil || id.NotificationChannelID != "dm" || id.TargetTier != "direct-channel-listing" {
			t.Fatalf("id=%+v err=%v", id, err)
		}
		if api.count("CreateDirectChannel") != 0 {
			t.Fatalf("should not create a direct channel")
		}
	})
	t.Run("direct channel create", func(t *testing.T) {
		api := newFakeAPI()
		api.users = []mattermost.User{{ID: "u", Username: "u"}}
		api.channels = []mattermost.Channel{{ID: "ts", Name: "town-square"}}
		api.directID = "newdm"
		id, err := resolve(t, api, Config{})
		if err != nil || id.NotificationChannelID != "newdm" || id.TargetTier != "direct-channel-create" {
			t.Fatalf("id=%+v err=%v", id, err)
		}
	})
	t.Run("default channel", func(t *testing.T) {
		api := newFakeAPI()
		api.users = []mattermost.User{{ID: "u", Username: "u"}}
		api.channels = []mattermost.Channel{{ID: "ts", Name: "town-square"}}
		api.directErr = errFake
		id, err := resolve(t, api, Config{})
		if err != nil || id.NotificationChannelID != "ts" || id.TargetTier != "default-channel" {
			t.Fatalf("id=%+v err=%v", id, err)
		}
		// Channels are listed once and shared across tiers.
		if n := api.count("ListChannels"); n != 1 {
			t.Fatalf("ListChannels called %d times", n)
		}
	})
	t.Run("exhausted", func(t *testing.T) {
		api := newFakeAPI()
		api.users = []mattermost.User{{ID: "u", Username: "u"}}
		api.directErr = errFake
		id, err := resolve(t, api, Config{})
		if !errors.Is(err, ErrNoTarget) {
			t.Fatalf("err=%v", err)
		}
		if id.UserID != "u" {
			t.Fatalf("partial identity lost: %+v", id)
		}
	})
}
