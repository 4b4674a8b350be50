// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides participant/check-in persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS paid_participants (
			row_hash TEXT PRIMARY KEY,
			row_number INTEGER NOT NULL,
			headers TEXT NOT NULL,
			data TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_participants_row_number
			ON paid_participants(row_number);

		CREATE TABLE IF NOT EXISTS checkins (
			row_hash TEXT PRIMARY KEY,
			checked_in_at DATETIME NOT NULL,
			checked_in_by TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetParticipant returns the paid participant for a row hash.
func (s *SQLiteStore) GetParticipant(ctx context.Context, rowHash string) (*Participant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT row_hash, row_number, headers, data FROM paid_participants WHERE row_hash = ?`,
		rowHash)

	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting participant: %w", err)
	}
	return p, nil
}

// ListParticipants returns all paid participants ordered by row number.
func (s *SQLiteStore) ListParticipants(ctx context.Context) ([]*Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_hash, row_number, headers, data FROM paid_participants ORDER BY row_number ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	defer rows.Close()

	var participants []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating participants: %w", err)
	}
	return participants, nil
}

// UpsertParticipants bulk-replaces participant rows by row hash.
func (s *SQLiteStore) UpsertParticipants(ctx context.Context, participants []*Participant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO paid_participants (row_hash, row_number, headers, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(row_hash) DO UPDATE SET
			row_number = excluded.row_number,
			headers = excluded.headers,
			data = excluded.data`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range participants {
		headers, err := json.Marshal(p.Headers)
		if err != nil {
			return fmt.Errorf("encoding headers for %s: %w", p.RowHash, err)
		}
		data, err := json.Marshal(p.Data)
		if err != nil {
			return fmt.Errorf("encoding data for %s: %w", p.RowHash, err)
		}
		if _, err := stmt.ExecContext(ctx, p.RowHash, p.RowNumber, string(headers), string(data)); err != nil {
			return fmt.Errorf("upserting participant %s: %w", p.RowHash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing participants: %w", err)
	}
	return nil
}

// GetCheckIn returns the check-in record for a row hash.
func (s *SQLiteStore) GetCheckIn(ctx context.Context, rowHash string) (*CheckIn, error) {
	var c CheckIn
	err := s.db.QueryRowContext(ctx,
		`SELECT row_hash, checked_in_at, checked_in_by FROM checkins WHERE row_hash = ?`,
		rowHash).Scan(&c.RowHash, &c.CheckedInAt, &c.CheckedInBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting check-in: %w", err)
	}
	c.CheckedInAt = c.CheckedInAt.UTC()
	return &c, nil
}

// UpsertCheckIn inserts or overwrites the check-in record for a row hash.
func (s *SQLiteStore) UpsertCheckIn(ctx context.Context, checkin *CheckIn) error {
	at := checkin.CheckedInAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkins (row_hash, checked_in_at, checked_in_by)
		VALUES (?, ?, ?)
		ON CONFLICT(row_hash) DO UPDATE SET
			checked_in_at = excluded.checked_in_at,
			checked_in_by = excluded.checked_in_by`,
		checkin.RowHash, at.UTC(), checkin.CheckedInBy)
	if err != nil {
		return fmt.Errorf("upserting check-in: %w", err)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic
type scanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row scanner) (*Participant, error) {
	var p Participant
	var headersJSON, dataJSON string
	if err := row.Scan(&p.RowHash, &p.RowNumber, &headersJSON, &dataJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headersJSON), &p.Headers); err != nil {
		return nil, fmt.Errorf("decoding headers: %w", err)
	}
	if err := json.Unmarshal([]byte(dataJSON), &p.Data); err != nil {
		return nil, fmt.Errorf("decoding data: %w", err)
	}
	return &p, nil
}
