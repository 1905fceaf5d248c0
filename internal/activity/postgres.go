package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresSink appends entries to the activity_logs table
type PostgresSink struct {
	db *sqlx.DB
}

// NewPostgresSink creates a new PostgresSink
func NewPostgresSink(db *sqlx.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Write inserts one entry
func (s *PostgresSink) Write(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO activity_logs (
			id, owner_id, event_type, description, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`

	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal activity metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.OwnerID,
		entry.EventType,
		entry.Description,
		metadata,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity entry: %w", err)
	}

	return nil
}
