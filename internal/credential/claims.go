package credential

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields the backend puts in its access tokens.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the token payload without verifying the signature.
// The signing key lives on the backend; the client only inspects the claims
// for display and never trusts them for authorization.
func ParseClaims(token string) (*Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse token claims: %w", err)
	}
	return &claims, nil
}

// Expired reports whether the token carries an expiry that is before now.
// Tokens without an expiry never expire client-side.
func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return now.After(c.ExpiresAt.Time)
}
