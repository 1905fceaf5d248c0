package domain

import "time"

// Credential is a publishing credential resolved for a post owner
type Credential struct {
	ID          string     `db:"id"`
	OwnerID     string     `db:"owner_id"`
	AccessToken string     `db:"access_token"`
	ExpiresAt   *time.Time `db:"expires_at"`
}
