package store

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"slices"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

var shipflowTables = []string{
	"role_grants",
	"shipments",
	"shipment_stages",
	"stage_documents",
	"stage_approvals",
	"shipment_events",
}

func TestUpMigrationsSortsAndSkipsDownFiles(t *testing.T) {
	migrations := fstest.MapFS{
		"0002_shipments.up.sql":     {Data: []byte("SELECT 2")},
		"0001_role_grants.up.sql":   {Data: []byte("SELECT 1")},
		"0001_role_grants.down.sql": {Data: []byte("SELECT 0")},
		"README.md":                 {Data: []byte("notes")},
		"archive/0000_old.up.sql":   {Data: []byte("SELECT 0")},
	}
	got, err := upMigrations(migrations)
	if err != nil {
		t.Fatalf("upMigrations() error = %v", err)
	}
	want := []string{"0001_role_grants.up.sql", "0002_shipments.up.sql"}
	if !slices.Equal(got, want) {
		t.Fatalf("upMigrations() = %v, want %v", got, want)
	}
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := openMigrationTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	migrations := os.DirFS(testMigrationsDir)

	if err := applyMigrationsFS(ctx, db, migrations); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	assertShipflowTables(t, ctx, db, true)

	// A second run must be a no-op.
	if err := applyMigrationsFS(ctx, db, migrations); err != nil {
		t.Fatalf("reapply up migrations: %v", err)
	}

	if err := applyDownMigrations(ctx, db, migrations); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	assertShipflowTables(t, ctx, db, false)

	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if err := applyMigrationsFS(ctx, db, migrations); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
	assertShipflowTables(t, ctx, db, true)
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func openMigrationTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("SHIPFLOW_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SHIPFLOW_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func assertShipflowTables(t *testing.T, ctx context.Context, db *sql.DB, want bool) {
	t.Helper()
	for _, table := range shipflowTables {
		var exists bool
		if err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+table).Scan(&exists); err != nil {
			t.Fatalf("check table %s: %v", table, err)
		}
		if exists != want {
			t.Fatalf("table %s exists = %v, want %v", table, exists, want)
		}
	}
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrations fs.FS) error {
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return err
	}
	var downs []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".down.sql") {
			downs = append(downs, entry.Name())
		}
	}
	slices.Sort(downs)
	slices.Reverse(downs)

	for _, name := range downs {
		contents, err := fs.ReadFile(migrations, name)
		if err != nil {
			return err
		}
		if text := strings.TrimSpace(string(contents)); text != "" {
			if _, err := db.ExecContext(ctx, text); err != nil {
				return err
			}
		}
	}
	return nil
}
