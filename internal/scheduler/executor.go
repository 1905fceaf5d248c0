package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuongbtq/post-scheduler/internal/scheduler/domain"
)

// executor publishes one post and records its terminal state.
//
// The publisher is called before the conditional update, so two instances
// racing on the same post may both publish; only one finalize wins.
type executor struct {
	store          PostStore
	publisher      Publisher
	activity       ActivityRecorder
	limiter        *rate.Limiter
	publishTimeout time.Duration
	instanceID     string
	logger         *slog.Logger
}

// publish calls the publisher with content and settles the post
func (e *executor) publish(ctx context.Context, tier Tier, p gatedPost, content string) Outcome {
	post := p.post

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			e.logger.Warn("Publish rate limiter wait aborted, post stays pending",
				slog.String("post_id", post.ID),
				slog.Any("error", err),
			)
			return Outcome{PostID: post.ID, Tier: tier, Result: ResultSkipped, Err: err}
		}
	}

	publishedID, err := e.callPublisher(ctx, content, p.credential)
	if err != nil {
		e.logger.Warn("Publisher rejected scheduled post",
			slog.String("post_id", post.ID),
			slog.String("owner_id", post.OwnerID),
			slog.String("tier", tier.String()),
			slog.String("error", err.Error()),
		)
		return e.fail(ctx, tier, post, err.Error(), domain.NewPublishError(err))
	}

	rows, err := e.store.ConditionallyUpdate(ctx, post.ID, domain.StatusPending, domain.Published(publishedID))
	if err != nil {
		return e.storeFailure(tier, post, publishedID, err)
	}

	if rows == 0 {
		e.logger.Info("Post already finalized by another actor, discarding published id",
			slog.String("post_id", post.ID),
			slog.String("published_id", publishedID),
			slog.String("tier", tier.String()),
		)
		e.record(post, tier, EventPostAlreadyClaimed,
			"Scheduled post was already finalized by another scheduler instance",
			map[string]any{"discarded_published_id": publishedID},
		)
		return Outcome{PostID: post.ID, Tier: tier, Result: ResultAlreadyClaimed, PublishedID: publishedID, Err: domain.ErrAlreadyClaimed}
	}

	e.logger.Info("Scheduled post published",
		slog.String("post_id", post.ID),
		slog.String("owner_id", post.OwnerID),
		slog.String("published_id", publishedID),
		slog.String("tier", tier.String()),
	)
	e.record(post, tier, EventPostPublished,
		"Scheduled post published",
		map[string]any{"published_id": publishedID},
	)

	return Outcome{PostID: post.ID, Tier: tier, Result: ResultPublished, PublishedID: publishedID}
}

// fail moves the post pending → failed with message
func (e *executor) fail(ctx context.Context, tier Tier, post domain.ScheduledPost, message string, cause error) Outcome {
	rows, err := e.store.ConditionallyUpdate(ctx, post.ID, domain.StatusPending, domain.Failed(message))
	if err != nil {
		return e.storeFailure(tier, post, "", err)
	}

	if rows == 0 {
		e.logger.Debug("Post already finalized by another actor, skipping failure",
			slog.String("post_id", post.ID),
			slog.String("tier", tier.String()),
		)
		e.record(post, tier, EventPostAlreadyClaimed,
			"Scheduled post was already finalized by another scheduler instance",
			map[string]any{"discarded_error": message},
		)
		return Outcome{PostID: post.ID, Tier: tier, Result: ResultAlreadyClaimed, Err: domain.ErrAlreadyClaimed}
	}

	e.logger.Info("Scheduled post marked failed",
		slog.String("post_id", post.ID),
		slog.String("owner_id", post.OwnerID),
		slog.String("tier", tier.String()),
		slog.String("reason", message),
	)
	e.record(post, tier, EventPostFailed,
		fmt.Sprintf("Scheduled post failed: %s", message),
		map[string]any{"error": message},
	)

	return Outcome{PostID: post.ID, Tier: tier, Result: ResultFailed, Err: cause}
}

// callPublisher converts a publisher panic or empty id into an error
func (e *executor) callPublisher(ctx context.Context, content string, credential domain.Credential) (publishedID string, err error) {
	if e.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.publishTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			publishedID, err = "", fmt.Errorf("publisher panicked: %v", rec)
		}
	}()

	publishedID, err = e.publisher.Publish(ctx, content, credential)
	if err == nil && publishedID == "" {
		err = errors.New("publisher returned an empty identifier")
	}
	return publishedID, err
}

// storeFailure leaves the post pending. A publishedID that could not be
// stored is logged and recorded so the duplicate on the next tick is traceable.
func (e *executor) storeFailure(tier Tier, post domain.ScheduledPost, publishedID string, err error) Outcome {
	outcome := Outcome{
		PostID:      post.ID,
		Tier:        tier,
		Result:      ResultSkipped,
		PublishedID: publishedID,
		Err:         fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err),
	}

	if publishedID == "" {
		e.logger.Error("Failed to update scheduled post, it stays pending until the next tick",
			slog.String("post_id", post.ID),
			slog.String("tier", tier.String()),
			slog.Any("error", err),
		)
		return outcome
	}

	e.logger.Error("Post published but its status could not be stored, it stays pending until the next tick",
		slog.String("post_id", post.ID),
		slog.String("owner_id", post.OwnerID),
		slog.String("published_id", publishedID),
		slog.String("tier", tier.String()),
		slog.Any("error", err),
	)
	e.record(post, tier, EventPostUnrecorded,
		"Scheduled post was published but its status could not be saved",
		map[string]any{"discarded_published_id": publishedID, "error": err.Error()},
	)
	return outcome
}

// failPanicked settles a post whose dispatch panicked outside the publisher.
// A second panic from the store leaves the post pending.
func (e *executor) failPanicked(ctx context.Context, tier Tier, p gatedPost, rec any) (outcome Outcome) {
	cause := fmt.Errorf("dispatch panicked: %v", rec)

	defer func() {
		if again := recover(); again != nil {
			e.logger.Error("Failed to mark panicked post failed, it stays pending",
				slog.String("post_id", p.post.ID),
				slog.String("tier", tier.String()),
				slog.Any("panic", again),
			)
			outcome = Outcome{PostID: p.post.ID, Tier: tier, Result: ResultSkipped, Err: cause}
		}
	}()

	return e.fail(ctx, tier, p.post, cause.Error(), cause)
}

func (e *executor) record(post domain.ScheduledPost, tier Tier, eventType, description string, extra map[string]any) {
	metadata := map[string]any{
		"post_id":        post.ID,
		"tier":           tier.String(),
		"scheduled_time": post.ScheduledTime.UTC().Format(time.RFC3339),
		"instance_id":    e.instanceID,
	}
	for k, v := range extra {
		metadata[k] = v
	}
	e.activity.Record(post.OwnerID, eventType, description, metadata)
}
