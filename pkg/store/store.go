package store

import (
	"context"
	"sort"
	"time"

	"github.com/vladbarosan/oav-express/pkg/models"
)

// ResultsStore persists the result rows of drained sessions.
// Every implementation writes one flush atomically and returns rows sorted
// by row key.
type ResultsStore interface {
	// WriteRows upserts the rows of one session keyed by (session, row key)
	WriteRows(ctx context.Context, sessionID string, rows []models.ResultRow) error
	// ListRows returns every row of a session. An unknown session yields no rows.
	ListRows(ctx context.Context, sessionID string) ([]models.ResultRow, error)

	// Lifecycle
	HealthCheck() error
	Close() error
}

// Config holds results store configuration
type Config struct {
	Type string // "memory", "sqlite", "postgres" or "redis"
	DSN  string // Connection string

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// SQLite specific
	Path string

	Redis RedisConfig
}

// RedisConfig holds the Redis connection settings
type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout time.Duration
	// KeyTTL expires result hashes, zero keeps them forever
	KeyTTL time.Duration
}

// NewStore creates a results store based on configuration
func NewStore(config Config) (ResultsStore, error) {
	switch config.Type {
	case "memory", "":
		return NewMemoryStore(), nil
	case "sqlite":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "oav-results.db"
		}
		return NewSQLiteStore(path)
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "redis":
		return NewRedisStore(config.Redis)
	default:
		return nil, ErrUnsupportedDatabase
	}
}

// IsShared reports whether a store type can be written by worker processes
// and read by the front door
func IsShared(storeType string) bool {
	switch storeType {
	case "memory", "":
		return false
	default:
		return true
	}
}

var (
	ErrUnsupportedDatabase = NewError("unsupported database type")
)

// NewError creates a new error with message
func NewError(message string) error {
	return &storeError{message: message}
}

type storeError struct {
	message string
}

func (e *storeError) Error() string {
	return e.message
}

// keyed stamps the partition key on every row
func keyed(sessionID string, rows []models.ResultRow) []models.ResultRow {
	out := make([]models.ResultRow, len(rows))
	for i, row := range rows {
		row.PartitionKey = sessionID
		out[i] = row
	}
	return out
}

func sortRows(rows []models.ResultRow) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].RowKey < rows[j].RowKey
	})
}
