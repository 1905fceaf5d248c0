package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cuongbtq/post-scheduler/internal/scheduler/domain"
)

// credentialGate splits due posts by whether their owner has a credential.
// Lookups are independent reads and run concurrently without a cap.
func (s *Scheduler) credentialGate(ctx context.Context, posts []domain.ScheduledPost) (ready []gatedPost, missing []domain.ScheduledPost, skipped []domain.ScheduledPost) {
	type lookup struct {
		credential *domain.Credential
		err        error
	}

	results := make([]lookup, len(posts))

	var wg sync.WaitGroup
	for i := range posts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					results[i] = lookup{err: errors.New("credential resolver panicked")}
				}
			}()

			credential, err := s.credentials.Resolve(ctx, posts[i].OwnerID)
			if err == nil && credential == nil {
				err = domain.ErrCredentialNotFound
			}
			results[i] = lookup{credential: credential, err: err}
		}()
	}
	wg.Wait()

	for i, post := range posts {
		res := results[i]
		switch {
		case res.err == nil:
			ready = append(ready, gatedPost{post: post, credential: *res.credential})
		case errors.Is(res.err, domain.ErrCredentialNotFound):
			missing = append(missing, post)
		default:
			s.logger.Warn("Failed to resolve credential, post stays pending",
				slog.String("post_id", post.ID),
				slog.String("owner_id", post.OwnerID),
				slog.Any("error", res.err),
			)
			skipped = append(skipped, post)
		}
	}

	return ready, missing, skipped
}

// failMissingCredentials finalizes posts whose owner has no credential
func (s *Scheduler) failMissingCredentials(ctx context.Context, posts []domain.ScheduledPost) []Outcome {
	outcomes := make([]Outcome, 0, len(posts))
	for _, post := range posts {
		outcomes = append(outcomes, s.exec.fail(ctx, tierUnclassified, post, domain.MsgNoCredential, domain.ErrCredentialNotFound))
	}
	return outcomes
}
