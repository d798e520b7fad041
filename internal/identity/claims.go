package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the identity provider claims carried by a session token.
// TenantID is the identity provider's own tenant and is unrelated to the
// backend organization id sent in X-Organization-ID.
type Claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	TenantID string `json:"org_id,omitempty"`
	SID      string `json:"sid,omitempty"`
}

// ParseClaims decodes a token's claims without verifying its signature.
// Verification is the backend's job; the client only reads display fields.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return claims, nil
}
