package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
)

// migrationLockKey serializes ApplyMigrations across api instances that
// start against the same database.
const migrationLockKey int64 = 0x73686970666c6f77 // "shipflow"

func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	return applyMigrationsFS(ctx, db, os.DirFS(migrationsDir))
}

func applyMigrationsFS(ctx context.Context, db *sql.DB, migrations fs.FS) error {
	versions, err := upMigrations(migrations)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return fmt.Errorf("no shipflow migrations found")
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("lock shipflow migrations: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)

	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return err
	}
	for _, version := range versions {
		if err := applyMigration(ctx, conn, migrations, version); err != nil {
			return err
		}
	}
	return nil
}

func upMigrations(migrations fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("read shipflow migrations: %w", err)
	}
	var versions []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".up.sql") {
			versions = append(versions, entry.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

func applyMigration(ctx context.Context, conn *sql.Conn, migrations fs.FS, version string) error {
	var applied bool
	err := conn.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&applied)
	if err != nil {
		return fmt.Errorf("check shipflow migration %s: %w", version, err)
	}
	if applied {
		return nil
	}

	contents, err := fs.ReadFile(migrations, version)
	if err != nil {
		return fmt.Errorf("read shipflow migration %s: %w", version, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin shipflow migration %s: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return fmt.Errorf("apply shipflow migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, version); err != nil {
		return fmt.Errorf("record shipflow migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit shipflow migration %s: %w", version, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}
