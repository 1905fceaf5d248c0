package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/post-scheduler/internal/scheduler/domain"
)

func TestNew_Validation(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Logger:      discardLogger(),
			Store:       newMemStore(),
			Credentials: newFakeResolver(),
			Publisher:   newFakePublisher(),
			Activity:    &fakeRecorder{},
		}
	}

	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		errString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing logger", mutate: func(cfg *Config) { cfg.Logger = nil }, errString: "scheduler logger is required"},
		{name: "missing store", mutate: func(cfg *Config) { cfg.Store = nil }, errString: "scheduler post store is required"},
		{name: "missing resolver", mutate: func(cfg *Config) { cfg.Credentials = nil }, errString: "scheduler credential resolver is required"},
		{name: "missing publisher", mutate: func(cfg *Config) { cfg.Publisher = nil }, errString: "scheduler publisher is required"},
		{name: "missing activity", mutate: func(cfg *Config) { cfg.Activity = nil }, errString: "scheduler activity recorder is required"},
		{name: "bad schedule", mutate: func(cfg *Config) { cfg.Schedule = "every tuesday" }, errString: "invalid scheduler schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			s, err := New(cfg)
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, s)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, DefaultSchedule, s.Status().Schedule)
		})
	}
}

func TestScheduler_CriticallyOverdueIsFailedWithoutPublishing(t *testing.T) {
	store := newMemStore(duePost("p-old", "owner-1", 9*24*time.Hour))
	h := newHarness(t, store, newFakeResolver("owner-1"))

	report, err := h.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	post := store.get(t, "p-old")
	assert.Equal(t, domain.StatusFailed, post.Status)
	require.NotNil(t, post.ErrorMessage)
	assert.Contains(t, *post.ErrorMessage, "9 days")
	assert.Nil(t, post.PublishedID)
	assert.Zero(t, h.publisher.callCount())

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Tiers["critically_overdue"])

	entries := h.recorder.forPost("p-old")
	require.Len(t, entries, 1)
	assert.Equal(t, EventPostFailed, entries[0].eventType)
	assert.Equal(t, "owner-1", entries[0].ownerID)
	assert.Equal(t, "critically_overdue", entries[0].metadata["tier"])
}

func TestScheduler_ModeratelyOverdueIsAnnotated(t *testing.T) {
	store := newMemStore(duePost("p-late", "owner-1", 90*time.Minute))
	h := newHarness(t, store, newFakeResolver("owner-1"))

	report, err := h.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	post := store.get(t, "p-late")
	assert.Equal(t, domain.StatusPublished, post.Status)
	require.NotNil(t, post.PublishedID)
	assert.Equal(t, "ext-1", *post.PublishedID)
	assert.Nil(t, post.ErrorMessage)

	content := h.publisher.contentFor(t, "content of p-late")
	assert.Equal(t, "content of p-late\n\n[Delayed post: originally scheduled for 2026-10-14 10:30 UTC, published 1 hour 30 minutes late]", content)

	assert.Equal(t, 1, report.Published)
	assert.Equal(t, 1, report.Tiers["moderately_overdue"])

	entries := h.recorder.forPost("p-late")
	require.Len(t, entries, 1)
	assert.Equal(t, EventPostPublished, entries[0].eventType)
	assert.Equal(t, "ext-1", entries[0].metadata["published_id"])
}

func TestScheduler_HalfHourLateIsNotAnnotated(t *testing.T) {
	store := newMemStore(duePost("p-late", "owner-1", 30*time.Minute))
	h := newHarness(t, store, newFakeResolver("owner-1"))

	report, err := h.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPublished, store.get(t, "p-late").Status)
	assert.Equal(t, "content of p-late", h.publisher.contentFor(t, "content of p-late"))
	assert.Equal(t, 1, report.Tiers["recently_overdue"])
	assert.Zero(t, report.Tiers["moderately_overdue"])
}

func TestScheduler_ContentAnnotationByTier(t *testing.T) {
	tests := []struct {
		name     string
		overdue  time.Duration
		annotate bool
	}{
		{name: "on time", overdue: 2 * time.Minute},
		{name: "recently overdue", overdue: 20 * time.Minute},
		{name: "moderately overdue", overdue: 3 * time.Hour, annotate: true},
		{name: "severely overdue", overdue: 2 * 24 * time.Hour, annotate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(duePost("p-1", "owner-1", tt.overdue))
			h := newHarness(t, store, newFakeResolver("owner-1"))

			_, err := h.scheduler.TriggerNow(context.Background())
			require.NoError(t, err)

			content := h.publisher.contentFor(t, "content of p-1")
			if tt.annotate {
				assert.Contains(t, content, "[Delayed post: originally scheduled for")
			} else {
				assert.Equal(t, "content of p-1", content)
			}
			assert.Equal(t, domain.StatusPublished, store.get(t, "p-1").Status)
		})
	}
}

func TestScheduler_MissingCredentialSkipsClassifier(t *testing.T) {
	orphan := duePost("p-orphan", "owner-gone", time.Minute)
	store := newMemStore(orphan, duePost("p-ok", "owner-1", 2*time.Minute))
	h := newHarness(t, store, newFakeResolver("owner-1"))

	var (
		mu         sync.Mutex
		classified []time.Time
	)
	h.scheduler.classify = func(now, scheduledTime time.Time) Tier {
		mu.Lock()
		classified = append(classified, scheduledTime)
		mu.Unlock()
		return Classify(now, scheduledTime)
	}

	report, err := h.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	post := store.get(t, "p-orphan")
	assert.Equal(t, domain.StatusFailed, post.Status)
	require.NotNil(t, post.ErrorMessage)
	assert.Equal(t, domain.MsgNoCredential, *post.ErrorMessage)

	assert.Equal(t, []time.Time{testNow.Add(-2 * time.Minute)}, classified)
	assert.Equal(t, 1, h.publisher.callCount())
	assert.Equal(t, 1, report.MissingCredential)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Published)

	entries := h.recorder.forPost("p-orphan")
	require.Len(t, entries, 1)
	assert.Equal(t, EventPostFailed, entries[0].eventType)
	assert.Equal(t, "Scheduled post failed: "+domain.MsgNoCredential, entries[0].description)
}

func TestScheduler_NilCredentialCountsAsMissing(t *testing.T) {
	store := newMemStore(duePost("p-1", "owner-1", time.Minute))
	resolver := newFakeResolver()
	resolver.credentials["owner-1"] = nil
	h := newHarness(t, store, resolver)

	_, err := h.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, store.get(t, "p-1").Status)
	assert.Zero(t, h.publisher.callCount())
}

func TestScheduler_PublisherErrorIsIsolated(t *testing.T) {
	store := newMemStore(
		duePost("p-a", "owner-1", 10*time.Minute),
		duePost("p-b", "owner-2", 12*time.Minute),
	)
	h := newHarness(t, store, newFakeResolver("owner-1", "owner-2"))
	h.publisher.hooks["content of p-a"] = func() (string, error) {
		return "", errors.New("rate limited by platform")
	}

	report, err := h.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	failed := store.get(t, "p-a")
	assert.Equal(t, domain.StatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "rate limited by platform", *failed.ErrorMessage)

	assert.Equal(t, domain.StatusPublished, store.get(t, "p-b").Status)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Published)
	assert.Equal(t, 2, report.Tiers["recently_overdue"])
}

func TestScheduler_PublisherMisbehaviour(t *testing.T) {
	tests := []struct {
		name    string
		hook    func() (string, error)
		wantMsg string
	}{
		{
			name:    "panic",
			hook:    func() (string, error) { panic("boom") },
			wantMsg: "publisher panicked: boom",
		},
		{
			name:    "empty identifier",
			hook:    func() (string, error) { return "", nil },
			wantMsg: "publisher returned an empty identifier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(duePost("p-1", "owner-1", time.Minute))
			h := newHarness(t, store, newFakeResolver("owner-1"))
			h.publisher.hooks["content of p-1"] = tt.hook

			_, err := h.scheduler.TriggerNow(context.Background())
			require.NoError(t, err)

			post := store.get(t, "p-1")
			assert.Equal(t, domain.StatusFailed, post.Status)
			require.NotNil(t, post.ErrorMessage)
			assert.Equal(t, tt.wantMsg, *post.ErrorMessage)
		})
	}
}

func TestScheduler_ResolverErrorLeavesPostPending(t *testing.T) {
	store := newMemStore(duePost("p-1", "owner-1", time.Minute))
	resolver := newFakeResolver("owner-1")
	resolver.errs["owner-1"] = errors.New("connection reset")
	h := newHarness(t, store, resolver)

	report, err := h.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, store.get(t, "p-1").Status)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, store.attempts)
	assert.Empty(t, h.recorder.forPost("p-1"))
}

func TestScheduler_FinalizeStoreErrorLeavesPostPending(t *testing.T) {
	store := newMemStore(
		duePost("p-1", "owner-1", time.Minute),
		duePost("p-2", "owner-1", 2*time.Minute),
	)
	store.updateErr["p-1"] = errors.New("connection reset")
	h := newHarness(t, store, newFakeResolver("owner-1"))

	report, err := h.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, store.get(t, "p-1").Status)
	assert.Equal(t, domain.StatusPublished, store.get(t, "p-2").Status)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Published)

	entries := h.recorder.forPost("p-1")
	require.Len(t, entries, 1)
	assert.Equal(t, EventPostUnrecorded, entries[0].eventType)
	discarded, ok := entries[0].metadata["discarded_published_id"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, discarded)
	assert.NotEqual(t, *store.get(t, "p-2").PublishedID, discarded)
	assert.Equal(t, "connection reset", entries[0].metadata["error"])

	// the post is published again on the next tick; the first id stays traceable
	delete(store.updateErr, "p-1")
	_, err = h.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	post := store.get(t, "p-1")
	assert.Equal(t, domain.StatusPublished, post.Status)
	require.NotNil(t, post.PublishedID)
	assert.NotEqual(t, discarded, *post.PublishedID)
	assert.Equal(t, 3, h.publisher.callCount())

	entries = h.recorder.forPost("p-1")
	require.Len(t, entries, 2)
	assert.Equal(t, EventPostPublished, entries[1].eventType)
}

func TestScheduler_FetchErrorAbandonsTick(t *testing.T) {
	store := newMemStore(duePost("p-1", "owner-1", time.Minute))
	store.fetchErr = errors.New("connection refused")
	h := newHarness(t, store, newFakeResolver("owner-1"))

	report, err := h.scheduler.TriggerNow(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, report.Error, "connection refused")

	assert.Equal(t, domain.StatusPending, store.get(t, "p-1").Status)
	assert.Zero(t, store.attempts)
	assert.Zero(t, h.resolver.calls)
	assert.Zero(t, h.publisher.callCount())

	status := h.scheduler.Status()
	assert.Equal(t, int64(1), status.Ticks)
	assert.Zero(t, status.InFlight)
	require.NotNil(t, status.LastTick)
	assert.NotEmpty(t, status.LastTick.Error)
}

func TestScheduler_AlreadyClaimedDiscardsPublishedID(t *testing.T) {
	store := newMemStore(duePost("p-1", "owner-1", time.Minute))
	h := newHarness(t, store, newFakeResolver("owner-1"))

	// another instance finalizes the post while this one is publishing
	h.publisher.hooks["content of p-1"] = func() (string, error) {
		rows, err := store.ConditionallyUpdate(context.Background(), "p-1", domain.StatusPending, domain.Published("ext-other"))
		assert.NoError(t, err)
		assert.Equal(t, int64(1), rows)
		return "ext-mine", nil
	}

	report, err := h.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	post := store.get(t, "p-1")
	assert.Equal(t, domain.StatusPublished, post.Status)
	require.NotNil(t, post.PublishedID)
	assert.Equal(t, "ext-other", *post.PublishedID)

	assert.Equal(t, 1, report.AlreadyClaimed)
	assert.Zero(t, report.Published)

	entries := h.recorder.forPost("p-1")
	require.Len(t, entries, 1)
	assert.Equal(t, EventPostAlreadyClaimed, entries[0].eventType)
	assert.Equal(t, "ext-mine", entries[0].metadata["discarded_published_id"])
}

func TestScheduler_TerminalPostsAreNotRefetched(t *testing.T) {
	store := newMemStore(duePost("p-1", "owner-1", time.Minute))
	h := newHarness(t, store, newFakeResolver("owner-1"))

	_, err := h.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	report, err := h.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Due)
	assert.Equal(t, 1, h.publisher.callCount())
	assert.Equal(t, int64(2), h.scheduler.Status().Ticks)
}

func TestScheduler_ConcurrentInstancesCommitOncePerPost(t *testing.T) {
	var posts []domain.ScheduledPost
	for i := 0; i < 10; i++ {
		posts = append(posts, duePost(string(rune('a'+i)), "owner-1", time.Duration(i)*time.Minute))
	}
	posts = append(posts, duePost("z-critical", "owner-1", 8*24*time.Hour))

	store := newMemStore(posts...)
	resolver := newFakeResolver("owner-1")
	first := newHarness(t, store, resolver)
	second := newHarness(t, store, resolver)

	var (
		wg      sync.WaitGroup
		reports [2]*TickReport
	)
	for i, h := range []*harness{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := h.scheduler.TriggerNow(context.Background())
			assert.NoError(t, err)
			reports[i] = report
		}()
	}
	wg.Wait()

	assert.Equal(t, len(posts), store.committed)
	for _, p := range posts {
		assert.True(t, store.get(t, p.ID).Status.IsTerminal(), p.ID)
	}

	published := reports[0].Published + reports[1].Published
	failed := reports[0].Failed + reports[1].Failed
	assert.Equal(t, 10, published)
	assert.Equal(t, 1, failed)
}

func TestScheduler_TierBatchDelays(t *testing.T) {
	var posts []domain.ScheduledPost
	for i := 0; i < 5; i++ {
		posts = append(posts, duePost(string(rune('a'+i)), "owner-1", time.Minute))
	}
	for i := 0; i < 3; i++ {
		posts = append(posts, duePost(string(rune('s'+i)), "owner-1", 2*24*time.Hour))
	}

	store := newMemStore(posts...)
	h := newHarness(t, store, newFakeResolver("owner-1"))

	report, err := h.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 8, report.Published)
	assert.Equal(t, 5, report.Tiers["on_time"])
	assert.Equal(t, 3, report.Tiers["severely_overdue"])
	assert.ElementsMatch(t, []time.Duration{500 * time.Millisecond, 2 * time.Second, 2 * time.Second}, h.recordedSleeps())
}

func TestScheduler_CustomTierPolicy(t *testing.T) {
	store := newMemStore(
		duePost("a", "owner-1", 20*time.Minute),
		duePost("b", "owner-1", 20*time.Minute),
		duePost("c", "owner-1", 20*time.Minute),
	)

	recorder := &fakeRecorder{}
	s, err := New(&Config{
		Logger:      discardLogger(),
		Store:       store,
		Credentials: newFakeResolver("owner-1"),
		Publisher:   newFakePublisher(),
		Activity:    recorder,
		Tiers: TierPolicies{
			RecentlyOverdue: BatchPolicy{Concurrency: 1, Delay: 3 * time.Second},
		},
		Now: func() time.Time { return testNow },
	})
	require.NoError(t, err)

	var sleeps []time.Duration
	s.dispatcher.runner.sleep = func(_ context.Context, d time.Duration) { sleeps = append(sleeps, d) }

	_, err = s.TriggerNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, sleeps)
	assert.Equal(t, DefaultTierPolicies().OnTime, s.dispatcher.policies.OnTime)
}

func TestScheduler_StartStop(t *testing.T) {
	h := newHarness(t, newMemStore(), newFakeResolver())

	require.NoError(t, h.scheduler.Stop(context.Background()))

	require.NoError(t, h.scheduler.Start())
	require.NoError(t, h.scheduler.Start())

	status := h.scheduler.Status()
	assert.True(t, status.Running)
	assert.Equal(t, "test-instance", status.InstanceID)
	require.NotNil(t, status.NextTickAt)
	assert.True(t, status.NextTickAt.After(time.Now().Add(-time.Second)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.scheduler.Stop(ctx))

	status = h.scheduler.Status()
	assert.False(t, status.Running)
	assert.Nil(t, status.NextTickAt)
}

func TestScheduler_TriggerIgnoresCallerCancellation(t *testing.T) {
	store := newMemStore(duePost("p-1", "owner-1", 2*24*time.Hour), duePost("p-2", "owner-1", 2*24*time.Hour))
	h := newHarness(t, store, newFakeResolver("owner-1"))

	var sleeps int
	h.scheduler.dispatcher.runner.sleep = func(ctx context.Context, _ time.Duration) {
		sleeps++
		assert.NoError(t, ctx.Err())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.scheduler.TriggerNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Published)
	assert.Equal(t, 1, sleeps)
}
