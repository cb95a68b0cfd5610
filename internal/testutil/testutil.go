// Package testutil provides testing utilities and helpers for the transcode engine.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	// Import pgx driver for database/sql compatibility in tests.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/mediaforge/transcoder/internal/migrate"
)

// RunMigrations applies the production schema to the test database.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}

// TestDBConfig describes how to reach the test Postgres instance.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads TEST_DB_* with local docker-compose defaults.
// The test profile maps Postgres to 55432; CI should set TEST_DB_PORT=5432.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "transcoder"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "transcoder"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "transcoder"),
	}
}

func buildDSN(cfg TestDBConfig) string {
	hostPort := net.JoinHostPort(cfg.Host, cfg.Port)
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		cfg.User, cfg.Password, hostPort, cfg.DBName)
}

// SetupTestDB opens the test database, migrates it, and clears prior data.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	db, err := sql.Open("pgx", buildDSN(DefaultTestDBConfig()))
	if err != nil {
		t.Fatal("open test database:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		t.Fatal("Failed to connect to test database. Make sure PostgreSQL is running (docker-compose up -d):", pingErr)
	}

	if migrateErr := RunMigrations(ctx, db); migrateErr != nil {
		t.Fatal("run migrations:", migrateErr)
	}

	CleanupTestDB(t, db)

	return db
}

// CleanupTestDB deletes every row the tests may have written.
func CleanupTestDB(t TestingTB, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// renditions references transcode_jobs; delete it first.
	if _, err := db.ExecContext(ctx, "DELETE FROM renditions"); err != nil {
		t.Fatalf("Failed to clean up table renditions: %v", err)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM transcode_jobs"); err != nil {
		t.Fatalf("Failed to clean up table transcode_jobs: %v", err)
	}
}

// TeardownTestDB clears test data and closes the connection.
func TeardownTestDB(t TestingTB, db *sql.DB) {
	t.Helper()
	if db != nil {
		CleanupTestDB(t, db)
		if err := db.Close(); err != nil {
			t.Fatal("close test database:", err)
		}
	}
}

// WithTestDB runs fn against a migrated test database and tears it down.
func WithTestDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	db := SetupTestDB(t)
	defer TeardownTestDB(t, db)
	fn(db)
}

// TestingTB is the subset of testing.TB these helpers need; it covers both
// *testing.T and *testing.B.
type TestingTB interface {
	Helper()
	Skip(args ...interface{})
	Skipf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

// SkipIfNoTestDB skips the test when no test database answers, or fails it
// when TEST_REQUIRE_DB/TEST_REQUIRE_INFRA demands one.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()

	db, err := sql.Open("pgx", buildDSN(DefaultTestDBConfig()))
	if err != nil {
		if requireDB() {
			t.Fatal("Test database not available:", err)
		}
		t.Skip("Test database not available:", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			t.Logf("test db close failed: %v", cerr)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if requireDB() {
			t.Fatal("Test database not available:", pingErr)
		}
		t.Skip("Test database not available:", pingErr)
	}
}

// SetupTestRedis connects to the test Redis instance and flushes the selected
// database. Tests are skipped when Redis is unavailable unless
// TEST_REQUIRE_REDIS or TEST_REQUIRE_INFRA is set.
func SetupTestRedis(t TestingTB) redis.UniversalClient {
	t.Helper()

	addr := getEnvOrDefault("TEST_REDIS_ADDR", "localhost:56379")
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if cerr := client.Close(); cerr != nil {
			t.Logf("warning: failed to close redis client: %v", cerr)
		}
		if requireRedis() {
			t.Fatal("Test Redis not available:", err)
		}
		t.Skip("Test Redis not available:", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatal("Failed to flush test Redis DB:", err)
	}

	return client
}

// TeardownTestRedis closes the Redis connection after flushing test data.
func TeardownTestRedis(t TestingTB, client redis.UniversalClient) {
	t.Helper()
	if client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Logf("warning: failed to flush test Redis DB: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Logf("warning: failed to close redis client: %v", err)
	}
}

// TestTime returns a fixed instant so assertions can compare timestamps.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envBool parses common truthy values from env vars.
func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }
