package scheduler

import (
	"context"
	"time"

	"github.com/cuongbtq/post-scheduler/internal/scheduler/domain"
)

// PostStore is the persistent queue of scheduled posts
type PostStore interface {
	// FetchDuePending returns pending posts scheduled at or before now,
	// ordered by scheduled time ascending.
	FetchDuePending(ctx context.Context, now time.Time) ([]domain.ScheduledPost, error)

	// ConditionallyUpdate applies update only while the post is still in
	// status from, returning the number of affected rows.
	ConditionallyUpdate(ctx context.Context, id string, from domain.Status, update domain.PostUpdate) (int64, error)
}

// CredentialResolver looks up a publishing credential for an owner.
// It returns domain.ErrCredentialNotFound when none is usable.
type CredentialResolver interface {
	Resolve(ctx context.Context, ownerID string) (*domain.Credential, error)
}

// Publisher hands content to the external publishing API and returns its permanent identifier
type Publisher interface {
	Publish(ctx context.Context, content string, credential domain.Credential) (string, error)
}

// ActivityRecorder is the fire-and-forget audit trail
type ActivityRecorder interface {
	Record(ownerID, eventType, description string, metadata map[string]any)
}

// Activity event types
const (
	EventPostPublished      = "scheduled_post_published"
	EventPostFailed         = "scheduled_post_failed"
	EventPostAlreadyClaimed = "scheduled_post_already_claimed"
	EventPostUnrecorded     = "scheduled_post_publish_unrecorded"
)
