package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchPolicy caps how many posts of a tier are dispatched at once and how
// long to pause between consecutive chunks.
type BatchPolicy struct {
	Concurrency int
	Delay       time.Duration
}

type batchTask func(ctx context.Context, p gatedPost) Outcome

// batchRunner dispatches posts in consecutive chunks of policy.Concurrency
type batchRunner struct {
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration)
	// recovered settles a post whose task panicked; nil skips it
	recovered func(ctx context.Context, tier Tier, p gatedPost, rec any) Outcome
}

func (r *batchRunner) run(ctx context.Context, tier Tier, posts []gatedPost, policy BatchPolicy, task batchTask) []Outcome {
	size := policy.Concurrency
	if size <= 0 {
		size = 1
	}

	outcomes := make([]Outcome, len(posts))
	batches := (len(posts) + size - 1) / size

	for batch := 0; batch < batches; batch++ {
		start := batch * size
		end := min(start+size, len(posts))

		r.logger.Debug("Dispatching batch",
			slog.String("tier", tier.String()),
			slog.Int("batch", batch+1),
			slog.Int("batches", batches),
			slog.Int("size", end-start),
		)

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				outcomes[i] = r.runOne(ctx, tier, posts[i], task)
				return nil
			})
		}
		_ = g.Wait()

		if batch < batches-1 && policy.Delay > 0 {
			r.sleep(ctx, policy.Delay)
		}
	}

	return outcomes
}

// runOne contains a panicking task so its siblings still settle
func (r *batchRunner) runOne(ctx context.Context, tier Tier, p gatedPost, task batchTask) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Recovered panic while dispatching post",
				slog.String("post_id", p.post.ID),
				slog.String("tier", tier.String()),
				slog.Any("panic", rec),
			)
			if r.recovered != nil {
				outcome = r.recovered(ctx, tier, p, rec)
				return
			}
			outcome = Outcome{
				PostID: p.post.ID,
				Tier:   tier,
				Result: ResultSkipped,
				Err:    fmt.Errorf("dispatch panicked: %v", rec),
			}
		}
	}()

	return task(ctx, p)
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
