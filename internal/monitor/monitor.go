package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"topicwatch/internal/eventbus"
	"topicwatch/internal/mattermost"
	"topicwatch/internal/notifier"
	logx "topicwatch/pkg/logx"
)

// Monitor scans configured channels for topic mentions on a schedule and
// dispatches a notification per channel with relevant posts.
//
// A Monitor owns its identity, channel cache and scheduler; nothing is shared
// between instances.
type Monitor struct {
	api      API
	notifier Dispatcher
	log      logx.Logger
	bus      eventbus.Bus

	cache    *ChannelCache
	resolver *resolver
	sched    *Scheduler

	mu          sync.RWMutex
	cfg         Config
	analyzer    Analyzer
	identity    Identity
	initialized bool
	last        *CycleReport
}

type Option func(*Monitor)

// WithEventBus publishes a monitor.cycle event after every cycle.
func WithEventBus(bus eventbus.Bus) Option {
	return func(m *Monitor) { m.bus = bus }
}

func New(api API, n Dispatcher, cfg Config, log logx.Logger, opts ...Option) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	m := &Monitor{
		api:      api,
		notifier: n,
		log:      log.With(logx.String("comp", "monitor")),
		cache:    NewChannelCache(api),
		cfg:      cfg,
		analyzer: NewAnalyzer(cfg.TopicAliases),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.resolver = newResolver(m.log)
	m.sched = NewScheduler(cfg.Schedule, cfg.Timezone, m.scheduledCycle, m.log)
	return m
}

// Initialize resolves the acting identity and notification target. It runs
// once per Start; later cycles reuse the result.
func (m *Monitor) Initialize(ctx context.Context) error {
	cfg := m.config()
	id, err := m.resolver.Resolve(ctx, m.api, cfg)
	m.mu.Lock()
	m.identity = id
	m.initialized = err == nil
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}
	return nil
}

// Start validates the config, resolves the identity and starts the schedule.
// It returns ErrDisabled when monitoring is switched off. Starting a running
// monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	cfg := m.config()
	if !cfg.Enabled {
		m.log.Info("monitoring disabled; not starting")
		return ErrDisabled
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if m.sched.IsRunning() {
		m.log.Info("monitoring already running")
		return nil
	}
	if err := m.Initialize(ctx); err != nil {
		return err
	}
	if err := m.sched.Update(cfg.Schedule, cfg.Timezone); err != nil {
		return err
	}
	if err := m.sched.Start(ctx); err != nil {
		return err
	}
	m.log.Info("monitoring started",
		logx.String("schedule", cfg.Schedule),
		logx.Strings("channels", cfg.Channels),
		logx.Strings("topics", cfg.Topics),
	)
	return nil
}

// Stop halts the schedule. A cycle already running completes normally.
func (m *Monitor) Stop() {
	if !m.sched.IsRunning() {
		return
	}
	m.sched.Stop()
	m.log.Info("monitoring stopped")
}

func (m *Monitor) IsRunning() bool { return m.sched.IsRunning() }

// RunNow executes one cycle immediately, waiting for an in-flight cycle to
// finish first. It resolves the identity on first use when Start was never
// called; a failed resolution is logged and the cycle still runs.
func (m *Monitor) RunNow(ctx context.Context) (CycleReport, error) {
	cfg := m.config()
	if len(nonEmpty(cfg.Channels)) == 0 || len(nonEmpty(cfg.Topics)) == 0 {
		return CycleReport{}, fmt.Errorf("%w: channels and topics are required", ErrInvalidConfig)
	}
	m.mu.RLock()
	initialized := m.initialized
	m.mu.RUnlock()
	if !initialized {
		if err := m.Initialize(ctx); err != nil {
			m.log.Warn("identity resolution failed before manual run", logx.Err(err))
		}
	}

	var rep CycleReport
	err := m.sched.run(ctx, func(ctx context.Context) error {
		var err error
		rep, err = m.monitorChannels(ctx)
		return err
	})
	return rep, err
}

// UpdateConfig replaces the configuration. A running schedule is moved to the
// new expression; a disabled config stops it. The resolved identity is kept,
// configured ids take precedence at dispatch time.
func (m *Monitor) UpdateConfig(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Enabled {
		if err := m.sched.Update(cfg.Schedule, cfg.Timezone); err != nil {
			return err
		}
	} else if m.sched.IsRunning() {
		m.sched.Stop()
		m.log.Info("monitoring disabled by config update; scheduler stopped")
	}

	m.mu.Lock()
	m.cfg = cfg
	m.analyzer = NewAnalyzer(cfg.TopicAliases)
	m.mu.Unlock()
	m.log.Info("monitoring config updated",
		logx.Bool("enabled", cfg.Enabled),
		logx.String("schedule", cfg.Schedule),
		logx.Int("channels", len(cfg.Channels)),
		logx.Int("topics", len(cfg.Topics)),
	)
	return nil
}

func (m *Monitor) Config() Config { return m.config() }

func (m *Monitor) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Monitor) Identity() Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// Status is a point-in-time view for operators.
type Status struct {
	Enabled        bool          `json:"enabled"`
	Running        bool          `json:"running"`
	Schedule       string        `json:"schedule"`
	Timezone       string        `json:"timezone,omitempty"`
	Next           time.Time     `json:"next,omitempty"`
	Channels       []string      `json:"channels"`
	Topics         []string      `json:"topics"`
	MessageLimit   int           `json:"message_limit"`
	Identity       Identity      `json:"identity"`
	CachedChannels int           `json:"cached_channels"`
	CacheRefreshed time.Time     `json:"cache_refreshed,omitempty"`
	LastCycle      *CycleSummary `json:"last_cycle,omitempty"`
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	cfg := m.cfg
	id := m.identity
	last := m.last
	m.mu.RUnlock()

	st := Status{
		Enabled:        cfg.Enabled,
		Running:        m.sched.IsRunning(),
		Schedule:       cfg.Schedule,
		Timezone:       cfg.Timezone,
		Next:           m.sched.Next(),
		Channels:       append([]string(nil), cfg.Channels...),
		Topics:         append([]string(nil), cfg.Topics...),
		MessageLimit:   cfg.MessageLimit,
		Identity:       id,
		CachedChannels: m.cache.Len(),
		CacheRefreshed: m.cache.Refreshed(),
	}
	if last != nil {
		sum := last.Summary()
		st.LastCycle = &sum
	}
	return st
}

func (m *Monitor) scheduledCycle(ctx context.Context) error {
	_, err := m.monitorChannels(ctx)
	return err
}

// monitorChannels runs one cycle. Only a cache refresh failure aborts it;
// per-channel problems are recorded in the report.
func (m *Monitor) monitorChannels(ctx context.Context) (CycleReport, error) {
	m.mu.RLock()
	cfg := m.cfg
	id := m.identity
	an := m.analyzer
	m.mu.RUnlock()

	rep := CycleReport{Started: time.Now()}
	m.log.Debug("monitoring cycle started", logx.Int("channels", len(cfg.Channels)))

	if err := m.cache.Refresh(ctx, cfg.ChannelPageSize); err != nil {
		rep.Err = fmt.Errorf("refresh channel cache: %w", err)
		rep.Finished = time.Now()
		m.log.Error("monitoring cycle aborted", logx.Err(rep.Err))
		m.finishCycle(rep)
		return rep, rep.Err
	}

	for _, name := range cfg.Channels {
		if name == "" {
			continue
		}
		out := m.processChannel(ctx, cfg, id, an, name)
		m.logOutcome(out)
		rep.Outcomes = append(rep.Outcomes, out)
	}
	rep.Finished = time.Now()
	m.log.Info("monitoring cycle done",
		logx.Int("channels", len(rep.Outcomes)),
		logx.Int("notified", rep.Count(StatusNotified)),
		logx.Int("failed", rep.Count(StatusFailed)),
		logx.Duration("took", rep.Finished.Sub(rep.Started)),
	)
	m.finishCycle(rep)
	return rep, nil
}

func (m *Monitor) finishCycle(rep CycleReport) {
	m.mu.Lock()
	m.last = &rep
	m.mu.Unlock()
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeMonitorCycle, Time: rep.Finished, Data: rep.Summary()})
	}
}

func (m *Monitor) processChannel(ctx context.Context, cfg Config, id Identity, an Analyzer, name string) (out ChannelOutcome) {
	out = ChannelOutcome{Channel: name}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic while processing channel", logx.String("channel", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			out.Status = StatusFailed
			out.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	chID, ok := m.cache.Lookup(name)
	if !ok {
		out.Status = StatusUnknownChannel
		return out
	}
	out.ChannelID = chID

	list, err := m.api.ListPosts(ctx, chID, cfg.MessageLimit, 0)
	if err != nil {
		out.Status = StatusFailed
		out.Err = fmt.Errorf("list posts: %w", err)
		return out
	}
	posts := list.Ordered()
	out.Fetched = len(posts)
	if len(posts) == 0 {
		out.Status = StatusNoPosts
		return out
	}

	relevant := an.FilterRelevant(posts, cfg.Topics)
	out.Relevant = len(relevant)
	if len(relevant) == 0 {
		out.Status = StatusNoMatches
		return out
	}

	dest := cfg.NotificationChannelID
	if dest == "" {
		dest = id.NotificationChannelID
	}
	if dest == "" {
		out.Status = StatusNoDestination
		return out
	}
	if m.notifier == nil {
		out.Status = StatusFailed
		out.Err = errors.New("no notifier configured")
		return out
	}

	text := ComposeNotification(relevant, name, mentionFor(cfg, id), cfg.location())
	res, err := m.notifier.Notify(ctx, notifier.Notification{
		Source:      name,
		SourceID:    chID,
		Destination: dest,
		Text:        text,
		PostIDs:     postIDs(relevant),
	})
	if err != nil {
		out.Status = StatusFailed
		out.Err = fmt.Errorf("notify: %w", err)
		return out
	}
	if res.Deduped {
		out.Status = StatusDeduped
		return out
	}
	out.Status = StatusNotified
	out.PostID = res.PostID
	return out
}

func (m *Monitor) logOutcome(o ChannelOutcome) {
	log := m.log.With(logx.String("channel", o.Channel))
	switch o.Status {
	case StatusUnknownChannel:
		log.Warn("channel not found; skipping")
	case StatusNoDestination:
		log.Warn("relevant posts found but no notification channel is known", logx.Int("relevant", o.Relevant))
	case StatusFailed:
		log.Error("channel processing failed", logx.Err(o.Err))
	case StatusNotified:
		log.Info("notification sent", logx.Int("relevant", o.Relevant), logx.String("post_id", o.PostID))
	case StatusDeduped:
		log.Debug("notification suppressed as duplicate", logx.Int("relevant", o.Relevant))
	default:
		log.Debug("nothing to report", logx.String("status", string(o.Status)), logx.Int("fetched", o.Fetched))
	}
}

// mentionFor picks the @-mention target: configured username, then the
// resolved one, then the placeholder.
func mentionFor(cfg Config, id Identity) string {
	if cfg.Username != "" {
		return cfg.Username
	}
	if id.Username != "" {
		return id.Username
	}
	return DefaultMentionTarget
}

func postIDs(posts []mattermost.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}
