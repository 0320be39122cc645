// Package sqlite is the sqlite-backed audit ledger.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aussiebroadwan/printdesk/internal/gateway/audit"
	"github.com/aussiebroadwan/printdesk/pkg/idx"

	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	dsn string
}

var _ audit.Ledger = (*Store)(nil)

// DSN builds the connection string for a database file.
func DSN(file string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", file)
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dsn: dsn}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Record(ctx context.Context, e audit.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_events
			(id, type, user_id, tenant_id, fingerprint, remote_addr, request_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(),
		string(e.Type),
		e.UserID,
		e.TenantID,
		e.Fingerprint,
		e.RemoteAddr,
		e.RequestID,
		e.Status,
		e.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *Store) Recent(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, user_id, tenant_id, fingerprint, remote_addr, request_id, status, created_at
		FROM auth_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e     audit.Event
			id    string
			typ   string
			stamp int64
		)
		if err := rows.Scan(&id, &typ, &e.UserID, &e.TenantID, &e.Fingerprint,
			&e.RemoteAddr, &e.RequestID, &e.Status, &stamp); err != nil {
			return nil, err
		}
		if e.ID, err = idx.Parse(id); err != nil {
			return nil, fmt.Errorf("audit event %q: %w", id, err)
		}
		e.Type = audit.EventType(typ)
		e.CreatedAt = time.UnixMilli(stamp).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_events WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
