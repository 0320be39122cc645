// Package audit records authentication events: logins, refreshes and
// logouts. Events carry credential fingerprints, never credentials.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/printdesk/pkg/idx"
	"github.com/aussiebroadwan/printdesk/pkg/slogx"
)

var ErrNotFound = errors.New("audit: not found")

type EventType string

const (
	EventLogin           EventType = "login"
	EventLoginFailed     EventType = "login_failed"
	EventRefresh         EventType = "refresh"
	EventRefreshRejected EventType = "refresh_rejected"
	EventLogout          EventType = "logout"
)

// Event is one ledger row.
type Event struct {
	ID          idx.ID
	Type        EventType
	UserID      string
	TenantID    string
	Fingerprint string
	RemoteAddr  string
	RequestID   string
	Status      int
	CreatedAt   time.Time
}

// Recorder accepts events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Ledger is a queryable, prunable Recorder.
type Ledger interface {
	Recorder

	// Recent returns the newest events first.
	Recent(ctx context.Context, limit int) ([]Event, error)

	// Prune deletes events created before cutoff and returns how many.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	ApplyMigrations() error
	Ping(ctx context.Context) error
	Close() error
}

// Noop discards events.
type Noop struct{}

func (Noop) Record(context.Context, Event) error { return nil }

// Emit fills in the id, timestamp and request id of e and records it. A
// ledger failure never fails the request; it is logged and dropped.
func Emit(ctx context.Context, r Recorder, e Event) {
	if r == nil {
		return
	}
	if e.ID.IsZero() {
		e.ID = idx.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = e.ID.Time()
	}

	if err := r.Record(ctx, e); err != nil {
		slogx.FromContext(ctx).Error("failed to record audit event",
			"event", e.Type,
			"error", err,
		)
	}
}
