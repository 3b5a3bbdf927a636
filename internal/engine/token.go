package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// tokenLength is the truncated hex length of a minted discount token.
const tokenLength = 32

// MintToken derives a one-time discount token from the accepted session.
// The token is a one-way digest: possession proves nothing beyond knowing
// the token itself, and redemption is bound 1:1 to the session record.
func MintToken(sessionID string, finalPrice int64, at time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", sessionID, finalPrice, at.UnixNano())))
	return hex.EncodeToString(sum[:])[:tokenLength]
}
