package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"topicwatch/internal/eventbus"
	"topicwatch/internal/mattermost"
	logx "topicwatch/pkg/logx"
)

// DefaultDedupWindow applies when Config.DedupWindow is unset.
const DefaultDedupWindow = 24 * time.Hour

var (
	ErrNoDestination = errors.New("notification has no destination")
	ErrEmpty         = errors.New("notification text is empty")
	ErrNoPoster      = errors.New("notifier has no poster")
)

// Poster creates a post in a channel. *mattermost.Client implements it.
type Poster interface {
	CreatePost(ctx context.Context, channelID, message, rootID string) (mattermost.Post, error)
}

// Mirror receives a copy of every delivered notification.
type Mirror interface {
	Mirror(ctx context.Context, n Notification) error
}

// Service posts notifications with rate limiting and dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	poster Poster
	mirror Mirror
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Service)

func WithEventBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

func WithMirror(m Mirror) Option { return func(s *Service) { s.mirror = m } }

func New(cfg Config, poster Poster, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		poster: poster,
		log:    log.With(logx.String("comp", "notifier")),
		dedup:  map[string]time.Time{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// SetMirror swaps the mirror; nil disables mirroring.
func (s *Service) SetMirror(m Mirror) {
	s.mu.Lock()
	s.mirror = m
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 300
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Notify posts n into its destination. A suppressed duplicate returns
// Result.Deduped and no error.
func (s *Service) Notify(ctx context.Context, n Notification) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	n.Destination = strings.TrimSpace(n.Destination)
	if n.Destination == "" {
		return Result{}, ErrNoDestination
	}
	if strings.TrimSpace(n.Text) == "" {
		return Result{}, ErrEmpty
	}

	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	poster := s.poster
	mirror := s.mirror
	s.mu.Unlock()
	if poster == nil {
		return Result{}, ErrNoPoster
	}

	key := dedupKey(n)
	if !cfg.DisableDedup {
		if !s.dedupAllow(key, cfg.DedupWindow, cfg.DedupMaxEntries) {
			s.publish(eventbus.TypeNotifierDeduped, n, key, "", nil)
			return Result{Deduped: true}, nil
		}
	}

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			s.forget(key)
			return Result{}, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	post, err := poster.CreatePost(callCtx, n.Destination, n.Text, "")
	cancel()
	if err != nil {
		s.forget(key)
		s.publish(eventbus.TypeNotifierFailed, n, key, "", err)
		return Result{}, fmt.Errorf("create post in %s: %w", n.Destination, err)
	}

	res := Result{Delivered: true, PostID: post.ID}
	s.appendHistory(n, post.ID, cfg.HistorySize)
	s.publish(eventbus.TypeNotifierSent, n, key, post.ID, nil)

	if mirror != nil {
		if err := mirror.Mirror(ctx, n); err != nil {
			s.log.Warn("notification mirror failed", logx.String("source", n.Source), logx.Err(err))
		} else {
			res.Mirrored = true
		}
	}
	return res, nil
}

func (s *Service) publish(typ string, n Notification, key, postID string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{
		Source:      n.Source,
		SourceID:    n.SourceID,
		Destination: n.Destination,
		PostID:      postID,
		Posts:       len(n.PostIDs),
		Key:         key,
		At:          now,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(n Notification, postID string, max int) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{
		At:          time.Now(),
		Source:      n.Source,
		Destination: n.Destination,
		PostID:      postID,
		Posts:       len(n.PostIDs),
	})
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

// dedupKey hashes the destination with the sorted post ids. Without post ids
// the text is hashed instead.
func dedupKey(n Notification) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.Destination))
	_, _ = h.Write([]byte("|"))
	if len(n.PostIDs) == 0 {
		_, _ = h.Write([]byte(n.Text))
		return fmt.Sprintf("%x", h.Sum64())
	}
	ids := append([]string(nil), n.PostIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		_, _ = h.Write([]byte(id))
		_, _ = h.Write([]byte(","))
	}
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, max int) bool {
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if s.dedup == nil {
		s.dedup = map[string]time.Time{}
	}
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}

	s.dedup[key] = now.Add(window)

	// Prune expired and cap.
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for max > 0 && len(s.dedup) > max {
		// Remove entries with earliest expiry until within cap.
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		if !set {
			break
		}
		delete(s.dedup, minKey)
	}
	return true
}

func (s *Service) forget(key string) {
	s.dmu.Lock()
	delete(s.dedup, key)
	s.dmu.Unlock()
}
