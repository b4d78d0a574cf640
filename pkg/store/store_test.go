package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladbarosan/oav-express/pkg/models"
)

func rate(v float64) *float64 { return &v }

func sampleRows(now time.Time) []models.ResultRow {
	base := models.ResultRow{
		ResourceProvider:  "Microsoft.Cache",
		APIVersion:        "2017-02-01",
		ModelSourceRepo:   "https://github.com/vladbarosan/sample-openapi-specs",
		ModelSourceBranch: "main",
		Timestamp:         now,
	}
	get := base
	get.RowKey = "Redis_Get"
	get.OperationCount, get.SuccessCount = 4, 3
	get.SuccessRequestCount, get.SuccessResponseCount = 4, 3
	get.SuccessRate = rate(75)

	total := base
	total.RowKey = models.TotalRowKey
	total.OperationCount, total.SuccessCount = 4, 3
	total.SuccessRequestCount, total.SuccessResponseCount = 4, 3
	total.SuccessRate = rate(75)

	// Deliberately out of order
	return []models.ResultRow{total, get}
}

// testResultsStore exercises the contract every backend must honour
func testResultsStore(t *testing.T, s ResultsStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	session := fmt.Sprintf("session-%d", time.Now().UnixNano())

	t.Run("UnknownSession", func(t *testing.T) {
		rows, err := s.ListRows(ctx, "does-not-exist-"+session)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("WriteAndList", func(t *testing.T) {
		require.NoError(t, s.WriteRows(ctx, session, sampleRows(now)))

		rows, err := s.ListRows(ctx, session)
		require.NoError(t, err)
		require.Len(t, rows, 2)

		want := sampleRows(now)
		want[0], want[1] = want[1], want[0]
		for i := range want {
			want[i].PartitionKey = session
		}
		if diff := cmp.Diff(want, rows); diff != "" {
			t.Errorf("rows mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("UndefinedSuccessRate", func(t *testing.T) {
		empty := session + "-empty"
		row := models.ResultRow{RowKey: models.TotalRowKey, Timestamp: now}
		require.NoError(t, s.WriteRows(ctx, empty, []models.ResultRow{row}))

		rows, err := s.ListRows(ctx, empty)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Nil(t, rows[0].SuccessRate)
		assert.Equal(t, int64(0), rows[0].OperationCount)
	})

	t.Run("RewriteUpserts", func(t *testing.T) {
		rows := sampleRows(now)
		rows[0].OperationCount = 10
		require.NoError(t, s.WriteRows(ctx, session, rows))

		got, err := s.ListRows(ctx, session)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(10), got[1].OperationCount)
	})

	t.Run("HealthCheck", func(t *testing.T) {
		assert.NoError(t, s.HealthCheck())
	})
}

func TestMemoryStore(t *testing.T) {
	testResultsStore(t, NewMemoryStore())
}

func TestMemoryStoreCancelledWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewMemoryStore().WriteRows(ctx, "s", sampleRows(time.Now()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	s, err := NewStore(Config{Type: "sqlite", Path: path})
	require.NoError(t, err)
	defer s.Close()

	testResultsStore(t, s)
}

func TestSQLiteStoreSharedBetweenHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	writer, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, writer.WriteRows(context.Background(), "s1", sampleRows(time.Now())))
	rows, err := reader.ListRows(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

// Set DATABASE_DSN to run: export DATABASE_DSN="postgresql://..."
func TestPostgreSQLStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL integration test: DATABASE_DSN not set")
	}
	s, err := NewStore(Config{Type: "postgres", DSN: dsn})
	require.NoError(t, err)
	defer s.Close()

	testResultsStore(t, s)
}

// Set REDIS_ADDR to run: export REDIS_ADDR="localhost:6379"
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping Redis integration test: REDIS_ADDR not set")
	}
	s, err := NewStore(Config{Type: "redis", Redis: RedisConfig{Address: addr, KeyTTL: time.Minute}})
	require.NoError(t, err)
	defer s.Close()

	testResultsStore(t, s)
}

func TestRedisStoreUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	s := NewRedisStoreWithClient(client, 0)
	s.retry.InitialBackoff = time.Millisecond
	s.retry.MaxBackoff = time.Millisecond
	defer s.Close()

	err := s.WriteRows(context.Background(), "s1", sampleRows(time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
	assert.Error(t, s.HealthCheck())
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore(Config{Type: "cassandra"})
	assert.ErrorIs(t, err, ErrUnsupportedDatabase)
}

func TestIsShared(t *testing.T) {
	tests := map[string]bool{
		"":         false,
		"memory":   false,
		"sqlite":   true,
		"postgres": true,
		"redis":    true,
	}
	for storeType, want := range tests {
		assert.Equal(t, want, IsShared(storeType), storeType)
	}
}
