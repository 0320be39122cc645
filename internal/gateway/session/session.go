// Package session issues and reads the signed session descriptor cookie.
// The descriptor tells the gateway and the browser app who is signed in; it
// is never sent to the backend.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/printdesk/internal/gateway/backend"
	"github.com/aussiebroadwan/printdesk/internal/gateway/credential"
	"github.com/aussiebroadwan/printdesk/pkg/jwtx"
)

// DefaultIssuer is the issuer stamped on descriptors.
const DefaultIssuer = "printdesk-gateway"

var ErrNoSession = errors.New("session: no session descriptor")

// Codec signs and verifies descriptors.
type Codec interface {
	jwtx.Signer
	jwtx.Verifier
}

// Issuer writes descriptors into a credential store.
type Issuer struct {
	Codec  Codec
	Policy credential.Policy
	Name   string

	now func() time.Time
}

// NewIssuer returns an issuer signing with codec and storing per policy.
func NewIssuer(codec Codec, policy credential.Policy) *Issuer {
	return &Issuer{Codec: codec, Policy: policy, Name: DefaultIssuer, now: time.Now}
}

// Issue signs a descriptor for id living as long as the access credential.
func (i *Issuer) Issue(store credential.Store, id jwtx.Identity) error {
	now := time.Now
	if i.now != nil {
		now = i.now
	}

	token, err := i.Codec.Sign(jwtx.NewSessionClaims(id, i.Name, i.Policy.AccessTTL, now()))
	if err != nil {
		return fmt.Errorf("session: sign descriptor: %w", err)
	}
	i.Policy.SetSession(store, token)
	return nil
}

// Current returns the identity of a valid, unexpired descriptor.
func (i *Issuer) Current(store credential.Store) (jwtx.Identity, error) {
	token, ok := i.Policy.Session(store)
	if !ok {
		return jwtx.Identity{}, ErrNoSession
	}
	claims, err := i.Codec.Verify(token)
	if err != nil {
		return jwtx.Identity{}, err
	}
	return claims.Identity(), nil
}

// Renew re-issues the descriptor after a credential refresh. The identity
// comes from user when the backend described one, otherwise from the
// existing descriptor, whose signature must verify but whose lifetime may
// have run out with the old access credential. With neither, the store is
// left untouched and ErrNoSession is returned.
func (i *Issuer) Renew(store credential.Store, user *backend.User) error {
	if user != nil {
		return i.Issue(store, user.Identity())
	}

	token, ok := i.Policy.Session(store)
	if !ok {
		return ErrNoSession
	}
	claims, err := i.Codec.VerifySignature(token)
	if err != nil {
		return fmt.Errorf("session: existing descriptor: %w", err)
	}
	return i.Issue(store, claims.Identity())
}
