package model

import "time"

type Post struct {
	ID            string    `db:"id"`
	OwnerID       string    `db:"owner_id"`
	Content       string    `db:"content"`
	ScheduledTime time.Time `db:"scheduled_time"`
	Status        string    `db:"status"`
	PublishedID   *string   `db:"published_id"`
	ErrorMessage  *string   `db:"error_message"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
