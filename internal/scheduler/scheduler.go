package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

// DefaultSchedule fires one tick per minute
const DefaultSchedule = "@every 1m"

// Config holds scheduler dependencies and tuning
type Config struct {
	Logger      *slog.Logger
	Store       PostStore
	Credentials CredentialResolver
	Publisher   Publisher
	Activity    ActivityRecorder

	// Schedule is a cron expression or @every descriptor; DefaultSchedule when empty
	Schedule       string
	Tiers          TierPolicies
	RatePerSecond  float64 // publisher calls per second across all tiers, 0 disables
	RateBurst      int
	PublishTimeout time.Duration
	InstanceID     string
	Now            func() time.Time
}

// Status is a point-in-time view of the scheduler for operators
type Status struct {
	Running    bool        `json:"running"`
	Schedule   string      `json:"schedule"`
	InstanceID string      `json:"instance_id"`
	Ticks      int64       `json:"ticks"`
	InFlight   int         `json:"in_flight"`
	NextTickAt *time.Time  `json:"next_tick_at,omitempty"`
	LastTick   *TickReport `json:"last_tick,omitempty"`
}

// Scheduler periodically dispatches due scheduled posts.
// Every terminal write goes through PostStore.ConditionallyUpdate, which is
// the only mutual exclusion between concurrent ticks and instances.
type Scheduler struct {
	logger      *slog.Logger
	store       PostStore
	credentials CredentialResolver
	exec        *executor
	dispatcher  *dispatcher
	schedule    string
	instanceID  string
	now         func() time.Time
	classify    func(now, scheduledTime time.Time) Tier

	mu         sync.Mutex
	cron       *cron.Cron
	ticks      int64
	inFlight   int
	lastReport *TickReport
}

// New creates a scheduler from cfg
func New(cfg *Config) (*Scheduler, error) {
	switch {
	case cfg.Logger == nil:
		return nil, errors.New("scheduler logger is required")
	case cfg.Store == nil:
		return nil, errors.New("scheduler post store is required")
	case cfg.Credentials == nil:
		return nil, errors.New("scheduler credential resolver is required")
	case cfg.Publisher == nil:
		return nil, errors.New("scheduler publisher is required")
	case cfg.Activity == nil:
		return nil, errors.New("scheduler activity recorder is required")
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid scheduler schedule %q: %w", schedule, err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger.With(slog.String("instance_id", cfg.InstanceID))

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.RateBurst, 1))
	}

	exec := &executor{
		store:          cfg.Store,
		publisher:      cfg.Publisher,
		activity:       cfg.Activity,
		limiter:        limiter,
		publishTimeout: cfg.PublishTimeout,
		instanceID:     cfg.InstanceID,
		logger:         logger,
	}

	return &Scheduler{
		logger:      logger,
		store:       cfg.Store,
		credentials: cfg.Credentials,
		exec:        exec,
		dispatcher: &dispatcher{
			policies: cfg.Tiers.withDefaults(),
			runner:   &batchRunner{logger: logger, sleep: sleepContext, recovered: exec.failPanicked},
			exec:     exec,
			logger:   logger,
		},
		schedule:   schedule,
		instanceID: cfg.InstanceID,
		now:        now,
		classify:   Classify,
	}, nil
}

// Start begins firing ticks on the configured schedule.
// Each tick runs in its own goroutine, off the timer path.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	cronLog := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog)),
	)
	if _, err := c.AddFunc(s.schedule, s.scheduledTick); err != nil {
		return fmt.Errorf("failed to register scheduler tick: %w", err)
	}

	c.Start()
	s.cron = c

	s.logger.Info("Scheduler started",
		slog.String("schedule", s.schedule),
	)
	return nil
}

// Stop halts the timer and waits for in-flight ticks until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	s.logger.Info("Stopping scheduler...")

	select {
	case <-c.Stop().Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with ticks still running")
		return fmt.Errorf("timed out waiting for running ticks: %w", ctx.Err())
	}
}

// TriggerNow runs exactly one tick synchronously
func (s *Scheduler) TriggerNow(ctx context.Context) (*TickReport, error) {
	s.logger.Info("Manual tick triggered")
	return s.runTick(ctx)
}

// Status reports lifecycle state and the last completed tick
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:    s.cron != nil,
		Schedule:   s.schedule,
		InstanceID: s.instanceID,
		Ticks:      s.ticks,
		InFlight:   s.inFlight,
		LastTick:   s.lastReport,
	}
	if s.cron != nil {
		if entries := s.cron.Entries(); len(entries) > 0 && !entries[0].Next.IsZero() {
			next := entries[0].Next
			status.NextTickAt = &next
		}
	}
	return status
}

func (s *Scheduler) scheduledTick() {
	// errors are logged by runTick; the next tick retries
	_, _ = s.runTick(context.Background())
}

// runTick performs fetch → credential gate → classify → dispatch.
// Ticks are never cancelled midway.
func (s *Scheduler) runTick(ctx context.Context) (*TickReport, error) {
	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()
	report := newTickReport(now)

	s.mu.Lock()
	s.ticks++
	tick := s.ticks
	s.inFlight++
	s.mu.Unlock()

	logger := s.logger.With(slog.Int64("tick", tick))
	defer s.finishTick(report)

	posts, err := s.fetchDue(ctx, now)
	if err != nil {
		logger.Error("Tick abandoned, will retry on next tick",
			slog.Any("error", err),
		)
		report.Error = err.Error()
		return report, err
	}

	report.Due = len(posts)
	if len(posts) == 0 {
		logger.Debug("No due scheduled posts")
		return report, nil
	}

	ready, missing, skipped := s.credentialGate(ctx, posts)
	report.MissingCredential = len(missing)
	report.Skipped += len(skipped)

	groups := groupByTier(now, ready, s.classify)
	report.countTiers(groups)

	report.add(s.failMissingCredentials(ctx, missing)...)
	report.add(s.dispatcher.dispatch(ctx, now, groups)...)

	logger.Info("Tick finished",
		slog.Int("due", report.Due),
		slog.Int("missing_credential", report.MissingCredential),
		slog.Int("published", report.Published),
		slog.Int("failed", report.Failed),
		slog.Int("already_claimed", report.AlreadyClaimed),
		slog.Int("skipped", report.Skipped),
		slog.Duration("took", s.now().Sub(now)),
	)

	return report, nil
}

func (s *Scheduler) finishTick(report *TickReport) {
	report.FinishedAt = s.now().UTC()

	s.mu.Lock()
	s.inFlight--
	s.lastReport = report
	s.mu.Unlock()
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}
