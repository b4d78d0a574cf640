package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vladbarosan/oav-express/pkg/models"
	"github.com/vladbarosan/oav-express/pkg/retry"
)

// RedisStore keeps the rows of a session in one hash, field = row key
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	retry  retry.Config
}

// NewRedisStore connects to Redis and creates a store
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	poolTimeout := cfg.PoolTimeout
	if poolTimeout <= 0 {
		poolTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		DB:          cfg.DB,
		Password:    cfg.Password,
		PoolSize:    cfg.PoolSize,
		PoolTimeout: poolTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.KeyTTL), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		retry: retry.Config{
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2,
			Retryable:      retry.IsRetryable,
		},
	}
}

func resultsKey(sessionID string) string {
	return fmt.Sprintf("validation:%s:results", sessionID)
}

// WriteRows stores every row in one MULTI/EXEC, retrying transient failures
func (s *RedisStore) WriteRows(ctx context.Context, sessionID string, rows []models.ResultRow) error {
	key := resultsKey(sessionID)
	fields := make([]interface{}, 0, 2*len(rows))
	for _, row := range keyed(sessionID, rows) {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row %s: %w", row.RowKey, err)
		}
		fields = append(fields, row.RowKey, data)
	}
	if len(fields) == 0 {
		return nil
	}

	return retry.Do(ctx, s.retry, func() error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields...)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	})
}

// ListRows returns the rows of sessionID sorted by row key
func (s *RedisStore) ListRows(ctx context.Context, sessionID string) ([]models.ResultRow, error) {
	values, err := s.client.HGetAll(ctx, resultsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}

	rows := make([]models.ResultRow, 0, len(values))
	for field, value := range values {
		var row models.ResultRow
		if err := json.Unmarshal([]byte(value), &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal row %s: %w", field, err)
		}
		rows = append(rows, row)
	}
	sortRows(rows)
	return rows, nil
}

// HealthCheck pings Redis
func (s *RedisStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ ResultsStore = (*RedisStore)(nil)
