// Package testdb starts a throwaway PostgreSQL for integration tests.
package testdb

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ArionMiles/recsav/pkg/store/postgres"
)

const image = "postgres:16-alpine"

var (
	once    sync.Once
	connStr string
	initErr error
)

// tables lists every table in schema.sql, children before parents.
var tables = []string{
	"household_account_book",
	"income",
	"expense",
	"budget",
	"recurring_config",
	"category_mapping_config",
	"linking_data",
	"if_zaim",
	"if_zaim_budget",
	"if_rakuten_card",
	"store",
	"category",
}

// New returns a connection to an empty, migrated database. The container is
// shared by all tests of a package; tables are truncated on every call, so
// tests using it must not run in parallel.
func New(t *testing.T) *pgx.Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		ctr, err := tcpostgres.Run(ctx, image,
			tcpostgres.WithDatabase("recsav"),
			tcpostgres.WithUsername("recsav"),
			tcpostgres.WithPassword("recsav"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			initErr = err
			return
		}
		connStr, initErr = ctr.ConnectionString(ctx, "sslmode=disable")
	})
	if initErr != nil {
		t.Fatalf("starting postgres container: %v", initErr)
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { conn.Close(context.Background()) })

	if err := postgres.Migrate(ctx, conn, nil); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	if _, err := conn.Exec(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" RESTART IDENTITY CASCADE"); err != nil {
		t.Fatalf("truncating test database: %v", err)
	}
	// Truncation removed the seeded uncategorized category; migrate again.
	if err := postgres.Migrate(ctx, conn, nil); err != nil {
		t.Fatalf("re-migrating test database: %v", err)
	}
	return conn
}

// ConnString returns the connection string of the shared container.
// It is only valid after New has been called.
func ConnString() string {
	return connStr
}

// Count returns SELECT COUNT(*) for a query fragment such as
// "household_account_book WHERE linking_data_type = 1".
func Count(t *testing.T, conn *pgx.Conn, from string, args ...any) int {
	t.Helper()
	var n int
	if err := conn.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+from, args...).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", from, err)
	}
	return n
}

// Exec runs a setup statement and fails the test on error.
func Exec(t *testing.T, conn *pgx.Conn, sql string, args ...any) {
	t.Helper()
	if _, err := conn.Exec(context.Background(), sql, args...); err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}

// InTx runs fn in a transaction that is committed when fn succeeds.
func InTx(t *testing.T, conn *pgx.Conn, fn func(tx pgx.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
