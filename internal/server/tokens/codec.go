// Package tokens implements the refresh token lifecycle: the wire codec and
// the manager that issues, validates (rotating on every use) and revokes
// tokens against a refreshtokens.Repository.
package tokens

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/dmitrijs2005/polls/internal/common"
)

const idLength = 32

// Encode renders a refresh token as "{id}.{base64url(secret)}".
func Encode(id string, secret []byte) string {
	return id + common.RefreshTokenDelimiter + base64.RawURLEncoding.EncodeToString(secret)
}

// Decode splits an encoded refresh token. It fails with
// common.ErrMalformedToken unless the token holds exactly one delimiter, a
// 32 character hex id and a non-empty base64url secret.
func Decode(token string) (string, []byte, error) {
	if strings.Count(token, common.RefreshTokenDelimiter) != 1 {
		return "", nil, common.ErrMalformedToken
	}
	id, encoded, _ := strings.Cut(token, common.RefreshTokenDelimiter)

	if !validID(id) || encoded == "" {
		return "", nil, common.ErrMalformedToken
	}

	secret, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(secret) == 0 {
		return "", nil, common.ErrMalformedToken
	}
	return id, secret, nil
}

func validID(id string) bool {
	if len(id) != idLength {
		return false
	}
	if strings.ToLower(id) != id {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
