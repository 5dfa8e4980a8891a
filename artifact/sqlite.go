package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hupe1980/govmesh/core"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists artifacts in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

var _ core.ArtifactStore = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (or creates) the database at dsn.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.ExecContext(context.Background(), `
	CREATE TABLE IF NOT EXISTS artifacts (
		scope TEXT NOT NULL,
		artifact_id TEXT NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (scope, artifact_id)
	);`)

	return err
}

// Save implements core.ArtifactStore.
func (s *SQLiteStore) Save(scope, artifactID string, data []byte) error {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO artifacts (scope, artifact_id, data) VALUES (?, ?, ?)
		ON CONFLICT(scope, artifact_id) DO UPDATE SET data = excluded.data`,
		scope, artifactID, data)
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}

	return nil
}

// Get implements core.ArtifactStore.
func (s *SQLiteStore) Get(scope, artifactID string) ([]byte, error) {
	var data []byte

	err := s.db.QueryRowContext(context.Background(),
		`SELECT data FROM artifacts WHERE scope = ? AND artifact_id = ?`, scope, artifactID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	return data, nil
}

// List implements core.ArtifactStore.
func (s *SQLiteStore) List(scope string) ([]string, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT artifact_id FROM artifacts WHERE scope = ? ORDER BY artifact_id`, scope)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Delete implements core.ArtifactStore.
func (s *SQLiteStore) Delete(scope, artifactID string) error {
	res, err := s.db.ExecContext(context.Background(),
		`DELETE FROM artifacts WHERE scope = ? AND artifact_id = ?`, scope, artifactID)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
