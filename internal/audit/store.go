// Package audit provides PostgreSQL-backed storage for the pipeline's
// outcomes: accepted moderation requests and the report events published
// for them. The store is for moderator review and is optional; the hot
// path never blocks on it and treats write failures as log-only.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/nbd-wtf/go-nostr"

	"github.com/reportinator/relay-bot/internal/moderation"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store records pipeline outcomes in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("audit: load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("audit: init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("audit: apply migrations: %w", err)
	}
	return nil
}

// RecordRequest inserts an accepted moderation request and the pub/sub
// message id it was published under.
func (s *Store) RecordRequest(ctx context.Context, req *moderation.Request, messageID string) error {
	const query = `
		INSERT INTO moderation_requests (request_id, reporter_pubkey, target_event_id, target_pubkey, reason_category, note, message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		req.RequestID,
		req.ReporterPubkey,
		req.TargetEventID,
		nullable(req.TargetPubkey),
		nullable(req.ReasonCategory),
		nullable(req.Note),
		messageID,
	)
	if err != nil {
		return fmt.Errorf("audit: insert request: %w", err)
	}
	return nil
}

// RecordReport inserts a published report event together with the decision
// that triggered it. The full event JSON is kept for reference.
func (s *Store) RecordReport(ctx context.Context, event *nostr.Event, decision moderation.Decision) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal report event: %w", err)
	}

	const query = `
		INSERT INTO published_reports (event_id, target_event_id, target_pubkey, category, event)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING`

	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		nullable(decision.TargetEventID),
		nullable(decision.TargetPubkey),
		decision.Category,
		eventJSON,
	)
	if err != nil {
		return fmt.Errorf("audit: insert report: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
