// Package auth resolves the acting user from bearer tokens and issues
// and checks CSRF tokens for writes.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"entityflow/internal/metadata"
)

// Claims represents the JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Roles        []string `json:"roles"`
	Capabilities []string `json:"capabilities,omitempty"`
	SessionID    string   `json:"sid,omitempty"`
}

const AccessTokenTTL = 15 * time.Minute

// IssueToken signs a token for actor. A missing session id gets a fresh one.
func IssueToken(actor *metadata.Actor, secret string, ttl time.Duration) (string, error) {
	if actor == nil || actor.ID == "" {
		return "", fmt.Errorf("issue token: actor id is required")
	}
	if ttl <= 0 {
		ttl = AccessTokenTTL
	}
	sid := actor.SessionID
	if sid == "" {
		sid = uuid.New().String()
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles:        actor.Roles,
		Capabilities: actor.Capabilities,
		SessionID:    sid,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ParseToken validates and parses a JWT, returning the claims.
func ParseToken(tokenStr string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// Actor builds the acting user the engine sees.
func (c *Claims) Actor(ip string) *metadata.Actor {
	sid := c.SessionID
	if sid == "" {
		sid = c.Subject
	}
	return &metadata.Actor{
		ID:           c.Subject,
		Roles:        c.Roles,
		Capabilities: c.Capabilities,
		IP:           ip,
		SessionID:    sid,
	}
}
