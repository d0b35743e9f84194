package db_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/livewatch/db"
)

// TestRunMigrations applies the embedded migrations twice and checks the version.
func TestRunMigrations(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping migration test")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer database.Close()

	for i := 0; i < 2; i++ {
		if err := db.RunMigrations(database); err != nil {
			t.Fatalf("RunMigrations() run %d error = %v", i, err)
		}
	}

	for _, table := range []string{"chat_messages", "live_streams"} {
		var exists bool
		err := database.QueryRowContext(context.Background(), `SELECT EXISTS (
			SELECT FROM information_schema.tables WHERE table_name = $1
		)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s missing after migration", table)
		}
	}

	version, dirty, err := db.MigrationVersion(database)
	if err != nil {
		t.Fatalf("MigrationVersion() error = %v", err)
	}
	if dirty || version < 1 {
		t.Errorf("version = %d dirty = %v", version, dirty)
	}
}
