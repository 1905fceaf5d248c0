package domain

import "time"

// Status is the lifecycle state of a scheduled post
type Status string

// Post status constants. Only pending posts are ever read by the scheduler;
// published and failed are terminal.
const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusPublished || s == StatusFailed
}

// ScheduledPost is one unit of delayed-publish work
type ScheduledPost struct {
	ID            string    `db:"id" json:"id"`
	OwnerID       string    `db:"owner_id" json:"owner_id"`
	Content       string    `db:"content" json:"content"`
	ScheduledTime time.Time `db:"scheduled_time" json:"scheduled_time"`
	Status        Status    `db:"status" json:"status"`
	PublishedID   *string   `db:"published_id" json:"published_id,omitempty"`
	ErrorMessage  *string   `db:"error_message" json:"error_message,omitempty"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// PostUpdate carries the fields written by a conditional transition
type PostUpdate struct {
	Status       Status
	PublishedID  string
	ErrorMessage string
}

// Published builds the update for a successful publish
func Published(publishedID string) PostUpdate {
	return PostUpdate{Status: StatusPublished, PublishedID: publishedID}
}

// Failed builds the update for a failed post
func Failed(message string) PostUpdate {
	return PostUpdate{Status: StatusFailed, ErrorMessage: message}
}
