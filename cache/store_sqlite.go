package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists cache entries in SQLite so warm caches survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) a SQLite database at dsn.
// Use ":memory:" for an ephemeral database.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing database handle and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS decision_cache (
		fingerprint TEXT PRIMARY KEY,
		agent_type TEXT NOT NULL,
		outcome TEXT NOT NULL,
		proposal JSON NOT NULL,
		created_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)

	return err
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_type, outcome, proposal, created_at FROM decision_cache WHERE fingerprint = ?`,
		fingerprint)

	var (
		agentType string
		outcome   string
		proposal  string
		created   string
	)

	if err := row.Scan(&agentType, &outcome, &proposal, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	e := &Entry{Fingerprint: fingerprint, AgentType: agentType}

	if err := e.Outcome.UnmarshalText([]byte(outcome)); err != nil {
		return nil, false, err
	}

	if err := json.Unmarshal([]byte(proposal), &e.Proposal); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached proposal: %w", err)
	}

	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		e.CreatedAt = t
	}

	return e, true, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, e *Entry) error {
	proposal, err := json.Marshal(e.Proposal)
	if err != nil {
		return fmt.Errorf("failed to encode proposal: %w", err)
	}

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decision_cache (fingerprint, agent_type, outcome, proposal, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			agent_type = excluded.agent_type,
			outcome = excluded.outcome,
			proposal = excluded.proposal,
			created_at = excluded.created_at`,
		e.Fingerprint, e.AgentType, e.Outcome.String(), string(proposal), created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}

	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM decision_cache WHERE fingerprint = ?`, fingerprint)
	return err
}

// DeleteIf implements Store.
func (s *SQLiteStore) DeleteIf(ctx context.Context, fingerprint string, createdAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM decision_cache WHERE fingerprint = ? AND created_at = ?`,
		fingerprint, createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()

	return n > 0, err
}

// Len implements Store.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decision_cache`).Scan(&n)

	return n, err
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
