package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-based implementation of the results store
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL plus a busy timeout lets worker processes flush while the
	// front door reads
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer per process to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{sqlStore: newSQLStore(db, false)}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS validation_results (
		session_id TEXT NOT NULL,
		row_key TEXT NOT NULL,
		resource_provider TEXT NOT NULL DEFAULT '',
		api_version TEXT NOT NULL DEFAULT '',
		model_source_repo TEXT NOT NULL DEFAULT '',
		model_source_branch TEXT NOT NULL DEFAULT '',
		operation_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		success_rate REAL,
		success_request_count INTEGER NOT NULL DEFAULT 0,
		success_response_count INTEGER NOT NULL DEFAULT 0,
		written_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, row_key)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

var _ ResultsStore = (*SQLiteStore)(nil)
