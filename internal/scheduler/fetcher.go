package scheduler

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/cuongbtq/post-scheduler/internal/scheduler/domain"
)

// fetchDue returns due pending posts, oldest scheduled time first
func (s *Scheduler) fetchDue(ctx context.Context, now time.Time) ([]domain.ScheduledPost, error) {
	posts, err := s.store.FetchDuePending(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch due posts: %w", domain.ErrStoreUnavailable, err)
	}

	slices.SortStableFunc(posts, func(a, b domain.ScheduledPost) int {
		return a.ScheduledTime.Compare(b.ScheduledTime)
	})

	return posts, nil
}
