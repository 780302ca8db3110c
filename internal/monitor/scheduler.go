package monitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "topicwatch/pkg/logx"
)

// Task is the unit of work a Scheduler fires.
type Task func(ctx context.Context) error

// Scheduler fires a Task on a cron expression. Only one run is in flight at
// a time: a scheduled firing that would overlap is skipped, RunNow waits.
type Scheduler struct {
	log    logx.Logger
	parser cron.Parser
	task   Task

	mu       sync.Mutex
	schedule string
	timezone string
	c        *cron.Cron
	entry    cron.EntryID
	sched    cron.Schedule
	loc      *time.Location
	baseCtx  context.Context

	// runMu serializes task executions across cron firings and RunNow.
	runMu sync.Mutex
}

func NewScheduler(schedule, timezone string, task Task, log logx.Logger) *Scheduler {
	return &Scheduler{
		log: log.With(logx.String("comp", "scheduler")),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		task:     task,
		schedule: strings.TrimSpace(schedule),
		timezone: strings.TrimSpace(timezone),
	}
}

// Start begins firing. Calling Start on a running scheduler is a no-op. The
// context is handed to every scheduled run; cancelling it does not stop the
// schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		s.log.Info("scheduler already running", logx.String("schedule", s.schedule))
		return nil
	}
	return s.startLocked(ctx, s.schedule, s.timezone)
}

func (s *Scheduler) startLocked(ctx context.Context, schedule, timezone string) error {
	sched, loc, err := s.parse(schedule, timezone)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc), cron.WithLogger(cronLogger{log: s.log}))
	runCtx := ctx
	s.entry = c.Schedule(sched, cron.FuncJob(func() { s.fire(runCtx) }))
	c.Start()

	s.c = c
	s.sched = sched
	s.loc = loc
	s.baseCtx = ctx
	s.schedule = schedule
	s.timezone = timezone
	s.log.Info("scheduler started",
		logx.String("schedule", schedule),
		logx.String("tz", loc.String()),
		logx.Time("next", sched.Next(time.Now().In(loc))),
	)
	return nil
}

func (s *Scheduler) parse(schedule, timezone string) (cron.Schedule, *time.Location, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, nil, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidSchedule, tz, err)
		}
		loc = l
	}
	sched, err := s.parser.Parse(schedule)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, schedule, err)
	}
	return sched, loc, nil
}

// Stop halts future firings. A run already in progress finishes on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	s.stopLocked()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) stopLocked() {
	// The context returned by Stop is not awaited; an in-flight run finishes
	// on its own.
	s.c.Stop()
	s.c = nil
	s.entry = 0
	s.sched = nil
}

// Update swaps the expression and timezone. An invalid expression is rejected
// and the current schedule keeps running.
func (s *Scheduler) Update(schedule, timezone string) error {
	schedule = strings.TrimSpace(schedule)
	timezone = strings.TrimSpace(timezone)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, _, err := s.parse(schedule, timezone); err != nil {
		return err
	}
	if s.c == nil {
		s.schedule, s.timezone = schedule, timezone
		return nil
	}
	if schedule == s.schedule && timezone == s.timezone {
		return nil
	}
	ctx := s.baseCtx
	s.stopLocked()
	return s.startLocked(ctx, schedule, timezone)
}

// RunNow executes the task immediately, waiting for any in-flight run first.
// The next scheduled fire time is unaffected.
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.run(ctx, s.task)
}

func (s *Scheduler) run(ctx context.Context, fn Task) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.invoke(ctx, fn)
}

func (s *Scheduler) fire(ctx context.Context) {
	if !s.runMu.TryLock() {
		s.log.Warn("previous run still in progress; skipping firing")
		return
	}
	defer s.runMu.Unlock()
	start := time.Now()
	if err := s.invoke(ctx, s.task); err != nil {
		s.log.Error("scheduled run failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	s.log.Debug("scheduled run done", logx.Duration("took", time.Since(start)))
}

func (s *Scheduler) invoke(ctx context.Context, fn Task) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled task", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Next returns the next fire time, or the zero time when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	if next := s.c.Entry(s.entry).Next; !next.IsZero() {
		return next
	}
	return s.sched.Next(time.Now().In(s.loc))
}

// Schedule returns the current expression and timezone.
func (s *Scheduler) Schedule() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.timezone
}

func (s *Scheduler) entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return 0
	}
	return len(s.c.Entries())
}

// cronLogger routes robfig/cron's internal logging into logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
