package domain

import "errors"

// Message recorded on posts whose owner has no usable credential
const MsgNoCredential = "no valid credential found for owner"

var (
	// ErrStoreUnavailable is returned when the post store cannot be queried
	ErrStoreUnavailable = errors.New("post store unavailable")

	// ErrCredentialNotFound is returned by resolvers when the owner has no usable credential
	ErrCredentialNotFound = errors.New(MsgNoCredential)

	// ErrTooOverdue marks posts abandoned because they are more than a week late
	ErrTooOverdue = errors.New("post is too far overdue to publish")

	// ErrAlreadyClaimed marks a conditional update that affected zero rows
	ErrAlreadyClaimed = errors.New("post already claimed or not in pending status")
)

// PublishError wraps a failure reported by the publisher for a single post
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return e.Err.Error()
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// NewPublishError creates a new publish error
func NewPublishError(err error) error {
	return &PublishError{Err: err}
}

// IsPublishRejected reports whether err came from the publisher
func IsPublishRejected(err error) bool {
	var publishErr *PublishError
	return errors.As(err, &publishErr)
}
