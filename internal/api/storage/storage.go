package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/post-scheduler/internal/api/domain"
	"github.com/cuongbtq/post-scheduler/internal/api/model"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

func (s *Storage) GetPostByID(ctx context.Context, postID string) (*model.Post, error) {
	var post model.Post
	query := `
		SELECT
			id, owner_id, content, scheduled_time, status,
			published_id, error_message, created_at, updated_at
		FROM scheduled_posts
		WHERE id = $1
	`

	err := s.db.GetContext(ctx, &post, query, postID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	return &post, nil
}

type PostFilter struct {
	OwnerID  string
	Status   string
	PageSize int
	Cursor   *PostCursor
}

type PostCursor struct {
	ScheduledTime time.Time
	PostID        string
}

func (s *Storage) ListPosts(ctx context.Context, filter PostFilter) ([]model.Post, error) {
	query := `
        SELECT
            id, owner_id, content, scheduled_time, status,
            published_id, error_message, created_at, updated_at
        FROM scheduled_posts
        WHERE 1=1
    `
	args := []interface{}{}
	argIdx := 1

	// Filters
	if filter.OwnerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (scheduled_time, id) > ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.ScheduledTime, filter.Cursor.PostID)
		argIdx += 2
	}

	// Same order the scheduler drains the queue in
	query += " ORDER BY scheduled_time ASC, id ASC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var posts []model.Post
	err := s.db.SelectContext(ctx, &posts, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	return posts, nil
}
