package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"entityflow/internal/metadata"
)

// CSRF issues and verifies HMAC-SHA256 tokens bound to the actor's
// session. Anonymous actors share the empty session.
type CSRF struct {
	secret []byte
}

func NewCSRF(secret string) *CSRF {
	return &CSRF{secret: []byte(secret)}
}

// Token returns the token the actor must submit with writes.
func (c *CSRF) Token(actor *metadata.Actor) string {
	return hex.EncodeToString(c.sign(actor))
}

// Verify reports whether token was issued for the actor's session.
func (c *CSRF) Verify(token string, actor *metadata.Actor) bool {
	if token == "" {
		return false
	}
	got, err := hex.DecodeString(token)
	if err != nil {
		return false
	}
	return hmac.Equal(got, c.sign(actor))
}

func (c *CSRF) sign(actor *metadata.Actor) []byte {
	var id, sid string
	if actor != nil {
		id, sid = actor.ID, actor.SessionID
	}
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(sid))
	mac.Write([]byte{0})
	mac.Write([]byte(id))
	return mac.Sum(nil)
}
