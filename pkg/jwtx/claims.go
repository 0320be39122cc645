package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default lifetimes for the credentials the gateway manages. The backend
// decides the real lifetimes; these only size cookies and session tokens.
const (
	// DefaultAccessTokenTTL matches the backend access credential lifetime.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL matches the backend refresh credential lifetime.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims are the session descriptor claims. The subject is the user id.
// They describe who is signed in for routing decisions; they never grant
// access to the backend.
type Claims struct {
	jwt.RegisteredClaims

	TenantID           string `json:"tenantId"`
	Role               string `json:"role"`
	Username           string `json:"username"`
	Email              string `json:"email,omitempty"`
	MustChangePassword bool   `json:"mustChangePassword"`
	IsPrimaryTenant    bool   `json:"isPrimaryTenant"`
}

// Identity is the descriptor payload without registered claims.
type Identity struct {
	UserID             string `json:"userId"`
	TenantID           string `json:"tenantId"`
	Role               string `json:"role"`
	Username           string `json:"username"`
	Email              string `json:"email,omitempty"`
	MustChangePassword bool   `json:"mustChangePassword"`
	IsPrimaryTenant    bool   `json:"isPrimaryTenant"`
}

// NewSessionClaims builds claims for id valid for ttl from now.
func NewSessionClaims(id Identity, issuer string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		TenantID:           id.TenantID,
		Role:               id.Role,
		Username:           id.Username,
		Email:              id.Email,
		MustChangePassword: id.MustChangePassword,
		IsPrimaryTenant:    id.IsPrimaryTenant,
	}
}

// Identity returns the descriptor payload carried by c.
func (c *Claims) Identity() Identity {
	return Identity{
		UserID:             c.Subject,
		TenantID:           c.TenantID,
		Role:               c.Role,
		Username:           c.Username,
		Email:              c.Email,
		MustChangePassword: c.MustChangePassword,
		IsPrimaryTenant:    c.IsPrimaryTenant,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf.
func (c *Claims) ValidateExpiry() error {
	return c.ValidateExpiryWithLeeway(0)
}

// ValidateExpiryWithLeeway adds a small grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(leeway time.Duration) error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}
