package store

import (
	"context"
	"sync"

	"github.com/vladbarosan/oav-express/pkg/models"
)

// MemoryStore is an in-memory implementation of the results store. It is
// only visible to the process that owns it.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]map[string]models.ResultRow
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]map[string]models.ResultRow),
	}
}

// WriteRows upserts the rows of sessionID
func (s *MemoryStore) WriteRows(ctx context.Context, sessionID string, rows []models.ResultRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.rows[sessionID]
	if !ok {
		session = make(map[string]models.ResultRow, len(rows))
		s.rows[sessionID] = session
	}
	for _, row := range keyed(sessionID, rows) {
		session[row.RowKey] = row
	}
	return nil
}

// ListRows returns the rows of sessionID sorted by row key
func (s *MemoryStore) ListRows(ctx context.Context, sessionID string) ([]models.ResultRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session := s.rows[sessionID]
	rows := make([]models.ResultRow, 0, len(session))
	for _, row := range session {
		rows = append(rows, row)
	}
	sortRows(rows)
	return rows, nil
}

// HealthCheck always succeeds
func (s *MemoryStore) HealthCheck() error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

var _ ResultsStore = (*MemoryStore)(nil)
