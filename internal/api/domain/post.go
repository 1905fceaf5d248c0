package domain

import (
	"errors"
)

const (
	PostStatusPending   = "pending"
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
)

var (
	ErrPostNotFound = errors.New("post not found")
)

// IsValidPostStatus reports whether status can be used as a list filter
func IsValidPostStatus(status string) bool {
	switch status {
	case PostStatusPending, PostStatusPublished, PostStatusFailed:
		return true
	default:
		return false
	}
}
