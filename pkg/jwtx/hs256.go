package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretSize is the shortest accepted HMAC secret.
const MinSecretSize = 32

// HS256 signs and verifies session descriptors with a shared HMAC secret.
// The descriptor is only ever read back by the service that wrote it, so a
// symmetric key is sufficient.
type HS256 struct {
	secret []byte
	issuer string
	leeway time.Duration
}

var (
	_ Signer   = (*HS256)(nil)
	_ Verifier = (*HS256)(nil)
)

// NewHS256 returns an HS256 signer/verifier. issuer is stamped on signed
// tokens and enforced on verification when non-empty.
func NewHS256(secret []byte, issuer string) (*HS256, error) {
	if len(secret) < MinSecretSize {
		return nil, ErrWeakSecret
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	return &HS256{secret: key, issuer: issuer, leeway: 5 * time.Second}, nil
}

func (h *HS256) Alg() string { return jwt.SigningMethodHS256.Alg() }

// Sign takes your claims and turns them into a signed JWT string.
func (h *HS256) Sign(claims Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = h.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
}

// Verify validates signature, issuer and lifetime.
func (h *HS256) Verify(token string) (Claims, error) {
	c, err := h.VerifySignature(token)
	if err != nil {
		return Claims{}, err
	}
	if err := c.ValidateExpiryWithLeeway(h.leeway); err != nil {
		return Claims{}, err
	}
	return c, nil
}

// VerifySignature validates signature and issuer only.
func (h *HS256) VerifySignature(token string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	var claims Claims
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return h.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Claims{}, ErrMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return Claims{}, ErrInvalidSig
		default:
			return Claims{}, fmt.Errorf("jwtx: parse or verify: %w", err)
		}
	}
	if !parsed.Valid {
		return Claims{}, ErrInvalidSig
	}

	if err := claims.ValidateIssuer(h.issuer); err != nil {
		return Claims{}, err
	}

	return claims, nil
}
