package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLStore implements the results store using PostgreSQL
type PostgreSQLStore struct {
	sqlStore
}

// NewPostgreSQLStore creates a new PostgreSQL store
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}

	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}

	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{sqlStore: newSQLStore(db, true)}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates tables if they don't exist
func (s *PostgreSQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS validation_results (
		session_id TEXT NOT NULL,
		row_key TEXT NOT NULL,
		resource_provider TEXT NOT NULL DEFAULT '',
		api_version TEXT NOT NULL DEFAULT '',
		model_source_repo TEXT NOT NULL DEFAULT '',
		model_source_branch TEXT NOT NULL DEFAULT '',
		operation_count BIGINT NOT NULL DEFAULT 0,
		success_count BIGINT NOT NULL DEFAULT 0,
		success_rate DOUBLE PRECISION,
		success_request_count BIGINT NOT NULL DEFAULT 0,
		success_response_count BIGINT NOT NULL DEFAULT 0,
		written_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, row_key)
	);

	CREATE INDEX IF NOT EXISTS idx_validation_results_written_at ON validation_results(written_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

var _ ResultsStore = (*PostgreSQLStore)(nil)
