package refreshtokens

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a random UUID rendered as 32 lowercase hex characters, the
// public identifier of a refresh token. Postgres accepts this form for uuid columns.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
