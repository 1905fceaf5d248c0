package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/post-scheduler/internal/scheduler/domain"
)

// Storage handles all database operations for the scheduler
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// FetchDuePending returns pending posts scheduled at or before now, oldest first
func (s *Storage) FetchDuePending(ctx context.Context, now time.Time) ([]domain.ScheduledPost, error) {
	query := `
		SELECT id, owner_id, content, scheduled_time, status, published_id, error_message, updated_at
		FROM scheduled_posts
		WHERE status = $1
		  AND scheduled_time <= $2
		ORDER BY scheduled_time ASC, id ASC
	`

	var posts []domain.ScheduledPost
	if err := s.db.SelectContext(ctx, &posts, query, domain.StatusPending, now); err != nil {
		return nil, fmt.Errorf("failed to fetch due posts: %w", err)
	}

	return posts, nil
}

// ConditionallyUpdate transitions a post only while it is still in status from.
// Zero affected rows means another actor already moved it.
func (s *Storage) ConditionallyUpdate(ctx context.Context, id string, from domain.Status, update domain.PostUpdate) (int64, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1,
		    published_id = $2,
		    error_message = $3,
		    updated_at = NOW()
		WHERE id = $4
		  AND status = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		update.Status,
		nullString(update.PublishedID),
		nullString(update.ErrorMessage),
		id,
		from,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update post status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Debug("Conditional post update affected no rows",
			slog.String("post_id", id),
			slog.String("from_status", string(from)),
			slog.String("to_status", string(update.Status)),
		)
	}

	return rowsAffected, nil
}

// Resolve returns the newest usable credential for ownerID
func (s *Storage) Resolve(ctx context.Context, ownerID string) (*domain.Credential, error) {
	query := `
		SELECT id, owner_id, access_token, expires_at
		FROM publishing_credentials
		WHERE owner_id = $1
		  AND revoked = FALSE
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY updated_at DESC
		LIMIT 1
	`

	var credential domain.Credential
	if err := s.db.GetContext(ctx, &credential, query, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}

	return &credential, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
