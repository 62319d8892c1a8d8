package models

import "time"

// RefreshToken is the server-side record of an issued refresh token. Only a
// keyed hash of the secret is stored; the raw secret lives with the client.
type RefreshToken struct {
	ID         string
	UserID     string
	SecretHash []byte
	ExpiresAt  time.Time
	Persistent bool
	CreatedAt  time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
