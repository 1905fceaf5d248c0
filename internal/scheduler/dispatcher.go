package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/post-scheduler/internal/scheduler/domain"
)

// TierPolicies holds the batch policy of every publishing tier.
// Critically overdue posts are never published and need no policy.
type TierPolicies struct {
	OnTime            BatchPolicy
	RecentlyOverdue   BatchPolicy
	ModeratelyOverdue BatchPolicy
	SeverelyOverdue   BatchPolicy
}

// DefaultTierPolicies returns the reference batch sizes and delays
func DefaultTierPolicies() TierPolicies {
	return TierPolicies{
		OnTime:            BatchPolicy{Concurrency: 3, Delay: 500 * time.Millisecond},
		RecentlyOverdue:   BatchPolicy{Concurrency: 2, Delay: 750 * time.Millisecond},
		ModeratelyOverdue: BatchPolicy{Concurrency: 2, Delay: time.Second},
		SeverelyOverdue:   BatchPolicy{Concurrency: 1, Delay: 2 * time.Second},
	}
}

// withDefaults fills tiers left without a concurrency
func (p TierPolicies) withDefaults() TierPolicies {
	d := DefaultTierPolicies()
	if p.OnTime.Concurrency <= 0 {
		p.OnTime = d.OnTime
	}
	if p.RecentlyOverdue.Concurrency <= 0 {
		p.RecentlyOverdue = d.RecentlyOverdue
	}
	if p.ModeratelyOverdue.Concurrency <= 0 {
		p.ModeratelyOverdue = d.ModeratelyOverdue
	}
	if p.SeverelyOverdue.Concurrency <= 0 {
		p.SeverelyOverdue = d.SeverelyOverdue
	}
	return p
}

func (p TierPolicies) forTier(tier Tier) BatchPolicy {
	switch tier {
	case TierSeverelyOverdue:
		return p.SeverelyOverdue
	case TierModeratelyOverdue:
		return p.ModeratelyOverdue
	case TierRecentlyOverdue:
		return p.RecentlyOverdue
	default:
		return p.OnTime
	}
}

// annotates reports whether a tier publishes with a delay notice
func (t Tier) annotates() bool {
	return t == TierModeratelyOverdue || t == TierSeverelyOverdue
}

// dispatcher applies each tier's policy; tiers run concurrently
type dispatcher struct {
	policies TierPolicies
	runner   *batchRunner
	exec     *executor
	logger   *slog.Logger
}

func groupByTier(now time.Time, posts []gatedPost, classify func(now, scheduledTime time.Time) Tier) map[Tier][]gatedPost {
	groups := make(map[Tier][]gatedPost)
	for _, p := range posts {
		tier := classify(now, p.post.ScheduledTime)
		groups[tier] = append(groups[tier], p)
	}
	return groups
}

func (d *dispatcher) dispatch(ctx context.Context, now time.Time, groups map[Tier][]gatedPost) []Outcome {
	var (
		mu       sync.Mutex
		outcomes []Outcome
		g        errgroup.Group
	)

	for tier, posts := range groups {
		if len(posts) == 0 {
			continue
		}

		g.Go(func() error {
			d.logger.Info("Dispatching tier",
				slog.String("tier", tier.String()),
				slog.Int("posts", len(posts)),
			)

			var tierOutcomes []Outcome
			if tier == TierCriticallyOverdue {
				tierOutcomes = d.abandon(ctx, now, posts)
			} else {
				tierOutcomes = d.runner.run(ctx, tier, posts, d.policies.forTier(tier), func(ctx context.Context, p gatedPost) Outcome {
					content := p.post.Content
					if tier.annotates() {
						content = annotateDelay(content, p.post.ScheduledTime, now)
					}
					return d.exec.publish(ctx, tier, p, content)
				})
			}

			mu.Lock()
			outcomes = append(outcomes, tierOutcomes...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// abandon fails every critically overdue post without calling the publisher
func (d *dispatcher) abandon(ctx context.Context, now time.Time, posts []gatedPost) []Outcome {
	outcomes := make([]Outcome, 0, len(posts))
	for _, p := range posts {
		outcomes = append(outcomes, d.exec.fail(ctx, TierCriticallyOverdue, p.post, overdueMessage(p.post.ScheduledTime, now), domain.ErrTooOverdue))
	}
	return outcomes
}

func overdueMessage(scheduledTime, now time.Time) string {
	return fmt.Sprintf("post was %s overdue (scheduled for %s); posts more than 7 days late are not published",
		formatElapsed(now.Sub(scheduledTime)),
		scheduledTime.UTC().Format(time.RFC3339),
	)
}

func annotateDelay(content string, scheduledTime, now time.Time) string {
	return fmt.Sprintf("%s\n\n[Delayed post: originally scheduled for %s, published %s late]",
		content,
		scheduledTime.UTC().Format("2006-01-02 15:04 UTC"),
		formatElapsed(now.Sub(scheduledTime)),
	)
}

// formatElapsed renders the two most significant units, e.g. "9 days 3 hours"
func formatElapsed(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}

	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)

	switch {
	case days > 0 && hours > 0:
		return fmt.Sprintf("%s %s", plural(days, "day"), plural(hours, "hour"))
	case days > 0:
		return plural(days, "day")
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%s %s", plural(hours, "hour"), plural(minutes, "minute"))
	case hours > 0:
		return plural(hours, "hour")
	default:
		return plural(minutes, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
