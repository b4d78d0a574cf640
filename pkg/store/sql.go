package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/vladbarosan/oav-express/pkg/models"
)

const resultColumns = `session_id, row_key, resource_provider, api_version, model_source_repo,
	model_source_branch, operation_count, success_count, success_rate,
	success_request_count, success_response_count, written_at`

const upsertResultQuery = `INSERT INTO validation_results (` + resultColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (session_id, row_key) DO UPDATE SET
		resource_provider = excluded.resource_provider,
		api_version = excluded.api_version,
		model_source_repo = excluded.model_source_repo,
		model_source_branch = excluded.model_source_branch,
		operation_count = excluded.operation_count,
		success_count = excluded.success_count,
		success_rate = excluded.success_rate,
		success_request_count = excluded.success_request_count,
		success_response_count = excluded.success_response_count,
		written_at = excluded.written_at`

const selectResultsQuery = `SELECT ` + resultColumns + `
	FROM validation_results WHERE session_id = ? ORDER BY row_key`

// sqlStore holds the statements shared by the SQLite and PostgreSQL stores
type sqlStore struct {
	db     *sql.DB
	upsert string
	query  string
}

func newSQLStore(db *sql.DB, numbered bool) sqlStore {
	s := sqlStore{db: db, upsert: upsertResultQuery, query: selectResultsQuery}
	if numbered {
		s.upsert = numberPlaceholders(s.upsert)
		s.query = numberPlaceholders(s.query)
	}
	return s
}

// numberPlaceholders rewrites ? placeholders as $1, $2, ...
func numberPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// WriteRows upserts every row in one transaction
func (s sqlStore) WriteRows(ctx context.Context, sessionID string, rows []models.ResultRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsert)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range keyed(sessionID, rows) {
		var rate sql.NullFloat64
		if row.SuccessRate != nil {
			rate = sql.NullFloat64{Float64: *row.SuccessRate, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			row.PartitionKey, row.RowKey, row.ResourceProvider, row.APIVersion,
			row.ModelSourceRepo, row.ModelSourceBranch,
			row.OperationCount, row.SuccessCount, rate,
			row.SuccessRequestCount, row.SuccessResponseCount, row.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to write row %s: %w", row.RowKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

// ListRows returns the rows of sessionID ordered by row key
func (s sqlStore) ListRows(ctx context.Context, sessionID string) ([]models.ResultRow, error) {
	result, err := s.db.QueryContext(ctx, s.query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer result.Close()

	rows := []models.ResultRow{}
	for result.Next() {
		var (
			row  models.ResultRow
			rate sql.NullFloat64
		)
		err := result.Scan(
			&row.PartitionKey, &row.RowKey, &row.ResourceProvider, &row.APIVersion,
			&row.ModelSourceRepo, &row.ModelSourceBranch,
			&row.OperationCount, &row.SuccessCount, &rate,
			&row.SuccessRequestCount, &row.SuccessResponseCount, &row.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		if rate.Valid {
			v := rate.Float64
			row.SuccessRate = &v
		}
		row.Timestamp = row.Timestamp.UTC()
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	return rows, nil
}

// HealthCheck pings the database
func (s sqlStore) HealthCheck() error {
	return s.db.Ping()
}

// Close closes the database connection
func (s sqlStore) Close() error {
	return s.db.Close()
}
