// Package refresh exchanges a refresh credential for a new credential pair
// and persists the result. Concurrent requests presenting the same refresh
// credential share one exchange, so a backend that rotates refresh
// credentials on use does not log out the losers of the race.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/printdesk/internal/gateway/audit"
	"github.com/aussiebroadwan/printdesk/internal/gateway/backend"
	"github.com/aussiebroadwan/printdesk/internal/gateway/credential"
	"github.com/aussiebroadwan/printdesk/pkg/cryptox"
	"github.com/aussiebroadwan/printdesk/pkg/slogx"
)

const (
	// DefaultReuseWindow is how long a completed exchange is handed to late
	// requests that still present the refresh credential it consumed.
	DefaultReuseWindow = 10 * time.Second

	// DefaultTimeout bounds one shared exchange.
	DefaultTimeout = 30 * time.Second
)

var (
	// ErrNoRefreshCredential means there was nothing to refresh with. The
	// backend was not called.
	ErrNoRefreshCredential = errors.New("refresh: no refresh credential")

	// ErrRejected means the backend refused the refresh credential. The
	// session is over.
	ErrRejected = errors.New("refresh: rejected by backend")

	// ErrUnavailable means the backend could not be reached. The session
	// may still be valid.
	ErrUnavailable = errors.New("refresh: backend unavailable")
)

// Error is a failed refresh. Reason is one of the sentinels above; Err is
// the backend failure behind it, if any.
type Error struct {
	Reason error
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%v: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

// Terminal reports whether the failure ends the browser session.
func (e *Error) Terminal() bool {
	return errors.Is(e.Reason, ErrNoRefreshCredential) || errors.Is(e.Reason, ErrRejected)
}

// Exchanger performs the backend refresh call.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*backend.Tokens, error)
}

// SessionRenewer re-issues the session descriptor after a refresh.
type SessionRenewer interface {
	Renew(store credential.Store, user *backend.User) error
}

// Observer counts refresh results.
type Observer interface {
	RefreshResult(result string)
}

// Result is a successful refresh.
type Result struct {
	AccessToken string

	// RefreshToken is the rotated credential, or empty when the backend
	// kept the old one valid.
	RefreshToken string

	// Shared is true when another request performed the exchange.
	Shared bool
}

// Coordinator performs refreshes. The zero value is not usable; Backend and
// Policy are required, the rest optional.
type Coordinator struct {
	Backend  Exchanger
	Policy   credential.Policy
	Sessions SessionRenewer
	Audit    audit.Recorder
	Metrics  Observer

	// Singleflight makes concurrent refreshes of one credential share an
	// exchange.
	Singleflight bool
	// ReuseWindow hands a completed exchange to late arrivals. Zero disables it.
	ReuseWindow time.Duration
	// Timeout bounds a shared exchange independently of any one request.
	Timeout time.Duration

	group singleflight.Group

	mu     sync.Mutex
	recent map[string]completed
	now    func() time.Time
}

type completed struct {
	tokens *backend.Tokens
	at     time.Time
}

// New returns a coordinator with single-flight and the default reuse window.
func New(exchanger Exchanger, policy credential.Policy) *Coordinator {
	return &Coordinator{
		Backend:      exchanger,
		Policy:       policy,
		Singleflight: true,
		ReuseWindow:  DefaultReuseWindow,
		Timeout:      DefaultTimeout,
	}
}

// Refresh reads the refresh credential from store, exchanges it and writes
// the new credentials back with fresh lifetimes. It never retries and never
// clears the store; on failure the caller decides what happens to the
// session.
func (c *Coordinator) Refresh(ctx context.Context, store credential.Store) (Result, error) {
	log := slogx.FromContext(ctx)

	refreshToken, ok := c.Policy.Refresh(store)
	if !ok {
		c.observe("no_credential")
		return Result{}, &Error{Reason: ErrNoRefreshCredential}
	}
	fp := cryptox.FingerprintToken(refreshToken)

	tokens, shared, err := c.exchange(ctx, refreshToken, fp)
	if err != nil {
		var be *backend.Error
		if errors.As(err, &be) && be.Kind == backend.KindNetwork {
			c.observe("unavailable")
			log.Warn("credential refresh unavailable", "fingerprint", fp, "error", err)
			return Result{}, &Error{Reason: ErrUnavailable, Err: err}
		}

		c.observe("rejected")
		log.Info("credential refresh rejected", "fingerprint", fp, "error", err)
		return Result{}, &Error{Reason: ErrRejected, Err: err}
	}

	c.Policy.SetAccess(store, tokens.AccessToken)
	if tokens.RefreshToken != "" {
		c.Policy.SetRefresh(store, tokens.RefreshToken)
	}

	if c.Sessions != nil {
		if err := c.Sessions.Renew(store, tokens.User); err != nil {
			log.Debug("session descriptor not renewed", "error", err)
		}
	}

	if shared {
		c.observe("shared")
	} else {
		c.observe("success")
	}
	log.Debug("credential refreshed",
		"fingerprint", fp,
		"rotated", tokens.RefreshToken != "",
		"shared", shared,
	)

	return Result{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Shared:       shared,
	}, nil
}

// exchange returns the tokens for refreshToken, from a recent exchange, a
// concurrent one, or a new backend call.
func (c *Coordinator) exchange(ctx context.Context, refreshToken, fp string) (*backend.Tokens, bool, error) {
	if tokens, ok := c.reuse(fp); ok {
		return tokens, true, nil
	}

	if !c.Singleflight {
		tokens, err := c.call(ctx, refreshToken, fp)
		return tokens, false, err
	}

	// The shared call must outlive the request that started it: other
	// requests are waiting on its result.
	v, err, shared := c.group.Do(fp, func() (any, error) {
		// Double-check after joining the flight: the previous one may have
		// finished between the reuse check and here.
		if tokens, ok := c.reuse(fp); ok {
			return tokens, nil
		}

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout())
		defer cancel()
		return c.call(callCtx, refreshToken, fp)
	})
	if err != nil {
		return nil, shared, err
	}
	return v.(*backend.Tokens), shared, nil
}

func (c *Coordinator) call(ctx context.Context, refreshToken, fp string) (*backend.Tokens, error) {
	tokens, err := c.Backend.Refresh(ctx, refreshToken)
	if err != nil {
		var be *backend.Error
		if errors.As(err, &be) && be.Kind == backend.KindStatus {
			audit.Emit(ctx, c.Audit, audit.Event{
				Type:        audit.EventRefreshRejected,
				Fingerprint: fp,
				Status:      be.Status,
			})
		}
		return nil, err
	}

	c.remember(fp, tokens)

	ev := audit.Event{Type: audit.EventRefresh, Fingerprint: fp, Status: 200}
	if tokens.User != nil {
		id := tokens.User.Identity()
		ev.UserID, ev.TenantID = id.UserID, id.TenantID
	}
	audit.Emit(ctx, c.Audit, ev)

	return tokens, nil
}

func (c *Coordinator) reuse(fp string) (*backend.Tokens, bool) {
	if c.ReuseWindow <= 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	done, ok := c.recent[fp]
	if !ok || c.clock().Sub(done.at) > c.ReuseWindow {
		return nil, false
	}
	return done.tokens, true
}

func (c *Coordinator) remember(fp string, tokens *backend.Tokens) {
	if c.ReuseWindow <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if c.recent == nil {
		c.recent = make(map[string]completed)
	}
	for k, v := range c.recent {
		if now.Sub(v.at) > c.ReuseWindow {
			delete(c.recent, k)
		}
	}
	c.recent[fp] = completed{tokens: tokens, at: now}
}

func (c *Coordinator) observe(result string) {
	if c.Metrics != nil {
		c.Metrics.RefreshResult(result)
	}
}

func (c *Coordinator) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c *Coordinator) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}
