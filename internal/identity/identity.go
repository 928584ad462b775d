// Package identity reads the local user out of the session token.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoUserID is returned when the token carries no usable user id claim.
var ErrNoUserID = errors.New("token has no user id claim")

// Claims are the fields of interest in a session token.
type Claims struct {
	UID    string `json:"id,omitempty"`
	UserID string `json:"userId,omitempty"`
	OID    string `json:"_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the local user as seen by the client.
type Identity struct {
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the token carried an expiry that has passed.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// FromToken decodes the token without verifying its signature; the server
// is the one that checks it. The user id is the first non-empty of the id,
// userId, _id and sub claims.
func FromToken(token string) (Identity, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	id := Identity{UserID: firstNonEmpty(claims.UID, claims.UserID, claims.OID, claims.Subject)}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	if id.UserID == "" {
		return id, ErrNoUserID
	}
	return id, nil
}

// Resolve prefers an explicit user id and falls back to the token's claims.
func Resolve(token, override string) (Identity, error) {
	if override != "" {
		id, err := FromToken(token)
		if err != nil {
			id = Identity{}
		}
		id.UserID = override
		return id, nil
	}
	return FromToken(token)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
