package monitor

import (
	"context"
	"sync"
	"time"

	"topicwatch/internal/mattermost"
)

type channelLister interface {
	ListChannels(ctx context.Context, limit, page int) (mattermost.ChannelList, error)
}

// ChannelCache maps channel names to ids. Refresh replaces the whole map so
// renamed or removed channels never survive into the next cycle.
type ChannelCache struct {
	api channelLister

	mu        sync.RWMutex
	byName    map[string]string
	refreshed time.Time
}

func NewChannelCache(api channelLister) *ChannelCache {
	return &ChannelCache{api: api, byName: map[string]string{}}
}

// Refresh lists a single page of channels and swaps in a new index. On error
// the previous index is left untouched.
func (c *ChannelCache) Refresh(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = DefaultChannelPageSize
	}
	list, err := c.api.ListChannels(ctx, limit, 0)
	if err != nil {
		return err
	}
	next := make(map[string]string, len(list.Channels))
	for _, ch := range list.Channels {
		if ch.Name == "" || ch.ID == "" {
			continue
		}
		if _, dup := next[ch.Name]; dup {
			continue
		}
		next[ch.Name] = ch.ID
	}
	c.mu.Lock()
	c.byName = next
	c.refreshed = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *ChannelCache) Lookup(name string) (string, bool) {
	c.mu.RLock()
	id, ok := c.byName[name]
	c.mu.RUnlock()
	return id, ok
}

func (c *ChannelCache) Len() int {
	c.mu.RLock()
	n := len(c.byName)
	c.mu.RUnlock()
	return n
}

// Refreshed returns the time of the last successful refresh.
func (c *ChannelCache) Refreshed() time.Time {
	c.mu.RLock()
	t := c.refreshed
	c.mu.RUnlock()
	return t
}
