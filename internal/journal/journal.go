// Package journal keeps a SQLite audit log of delivered messages. The journal
// is write-behind observability: a failed write never fails a delivery, and
// the backfill engine deliberately does not consult it to skip messages, so a
// re-run duplicates rather than silently dropping.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"threadrelay/internal/domain"
)

// Store is the SQLite-backed delivery journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates the journal database at dbPath, creating parent directories as
// needed.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create journal directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open journal database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deliveries (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id    TEXT NOT NULL,
		channel_id   TEXT NOT NULL,
		message_id   TEXT NOT NULL,
		mode         TEXT NOT NULL,
		backfill     INTEGER NOT NULL DEFAULT 0,
		delivered_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_thread ON deliveries(thread_id, delivered_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends one delivery row.
func (s *Store) Record(ctx context.Context, rec domain.DeliveryRecord) error {
	if rec.DeliveredAt.IsZero() {
		rec.DeliveredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (thread_id, channel_id, message_id, mode, backfill, delivered_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ThreadID, rec.ChannelID, rec.MessageID, rec.Mode.String(), boolToInt(rec.Backfill), rec.DeliveredAt,
	)
	return err
}

// CountByThread returns how many deliveries have been journaled for a thread.
func (s *Store) CountByThread(ctx context.Context, threadID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE thread_id = ?`, threadID,
	).Scan(&n)
	return n, err
}

// Recent returns the newest journaled deliveries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, channel_id, message_id, mode, backfill, delivered_at
		 FROM deliveries ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.DeliveryRecord
	for rows.Next() {
		var rec domain.DeliveryRecord
		var mode string
		var backfill int
		if err := rows.Scan(&rec.ThreadID, &rec.ChannelID, &rec.MessageID, &mode, &backfill, &rec.DeliveredAt); err != nil {
			return nil, err
		}
		if mode == domain.IdentityPreservingPost.String() {
			rec.Mode = domain.IdentityPreservingPost
		}
		rec.Backfill = backfill != 0
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
