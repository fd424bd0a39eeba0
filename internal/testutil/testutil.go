// Package testutil connects integration tests to the PostgreSQL and Redis
// instances named by TEST_DATABASE_URL and TEST_REDIS_ADDR. Tests calling
// these helpers are skipped when the backing service is not reachable.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisAddr = "localhost:6379"
	// Redis database reserved for tests; FlushDB runs against it
	testRedisDB = 15
)

// requireServices turns a missing backend into a failure instead of a skip (CI)
func requireServices() bool {
	return os.Getenv("TEST_REQUIRE_SERVICES") == "true"
}

func skipOrFail(t testing.TB, format string, args ...any) {
	t.Helper()
	if requireServices() {
		t.Fatalf(format, args...)
	}
	t.Skipf(format, args...)
}

// SetupTestDB opens the test database. The caller owns the schema and data.
func SetupTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		skipOrFail(t, "TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		skipOrFail(t, "PostgreSQL not available for testing: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

// SetupTestRedis connects to the test Redis and empties its test database
func SetupTestRedis(t testing.TB) *redis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = defaultRedisAddr
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: testRedisDB})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		skipOrFail(t, "Redis not available for testing at %s: %v", addr, err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("failed to flush test redis: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return client
}
