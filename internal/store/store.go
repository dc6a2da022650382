package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/presence"
	"github.com/andresmejia3/rollcall/internal/sink"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection holding the attendance ledger.
// A pgx.Conn is not safe for concurrent use, so every call is serialized.
type Store struct {
	mu      sync.Mutex
	conn    *pgx.Conn
	session uuid.UUID
}

// New establishes a connection to the database and ensures the schema is initialized.
// Every row written through the returned Store carries a fresh session ID.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn, session: uuid.New()}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS attendance (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL,
			identity TEXT NOT NULL,
			event TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS departures (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL,
			identity TEXT NOT NULL,
			departed_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS attendance_identity_idx ON attendance (identity, at);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// Session is the ID stamped on rows written by this Store.
func (s *Store) Session() uuid.UUID { return s.session }

// Append inserts a ledger row. It satisfies sink.Ledger.
func (s *Store) Append(ctx context.Context, e sink.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO attendance (session_id, identity, event, at)
		VALUES ($1, $2, $3, $4)
	`, s.session.String(), string(e.Identity), e.Label, e.At)
	return err
}

// Notify records a confirmed departure. It satisfies sink.Notifier so it can
// sit next to a real notifier in a sink.MultiNotifier.
func (s *Store) Notify(ctx context.Context, a sink.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO departures (session_id, identity, departed_at)
		VALUES ($1, $2, $3)
	`, s.session.String(), string(a.Identity), a.DepartedAt)
	return err
}

// Row is a ledger row as read back from the database.
type Row struct {
	Session  uuid.UUID
	Identity presence.Identity
	Event    string
	At       time.Time
}

// HistoryFilter narrows History. Zero values mean no filter.
type HistoryFilter struct {
	Identity presence.Identity
	Limit    int
}

// History returns entries and departures merged, newest first.
func (s *Store) History(ctx context.Context, f HistoryFilter) ([]Row, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(ctx, `
		SELECT session_id::text, identity, event, at FROM (
			SELECT session_id, identity, event, at FROM attendance
			UNION ALL
			SELECT session_id, identity, 'Departed' AS event, departed_at AS at FROM departures
		) h
		WHERE $1::text = '' OR identity = $1::text
		ORDER BY at DESC
		LIMIT $2
	`, string(f.Identity), limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Row, error) {
		var r Row
		var session, id string
		if err := row.Scan(&session, &id, &r.Event, &r.At); err != nil {
			return r, err
		}
		r.Identity = presence.Identity(id)
		parsed, perr := uuid.Parse(session)
		r.Session = parsed
		return r, perr
	})
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS attendance CASCADE;
		DROP TABLE IF EXISTS departures CASCADE;
	`)
	return err
}
