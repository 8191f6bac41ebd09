package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/better-wallet/custody-core/internal/logger"
	"github.com/better-wallet/custody-core/internal/storage"
)

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

type migration struct {
	version string
	path    string
}

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
		dir       = flag.String("dir", "migrations", "Directory holding NNN_name.up.sql / .down.sql files")
		direction = flag.String("direction", "up", "Migration direction: up or down")
		steps     = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	if *direction != "up" && *direction != "down" {
		log.Fatalf("direction must be up or down, got %q", *direction)
	}
	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx := context.Background()
	store, err := storage.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if _, err := store.DB().Exec(ctx, createMigrationsTable); err != nil {
		log.Fatalf("Failed to create migrations table: %v", err)
	}

	applied, err := appliedVersions(ctx, store)
	if err != nil {
		log.Fatalf("Failed to read applied migrations: %v", err)
	}

	pending, err := plan(*dir, *direction, applied, *steps)
	if err != nil {
		log.Fatalf("Failed to plan migrations: %v", err)
	}
	if len(pending) == 0 {
		slog.Info("no migrations to apply", "direction", *direction)
		return
	}

	for _, m := range pending {
		if err := apply(ctx, store, m, *direction); err != nil {
			log.Fatalf("Migration %s failed: %v", m.version, err)
		}
		slog.Info("applied migration", "version", m.version, "direction", *direction)
	}
	slog.Info("migrations complete", "count", len(pending), "direction", *direction)
}

func appliedVersions(ctx context.Context, store *storage.Store) (map[string]bool, error) {
	rows, err := store.DB().Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// plan lists the migrations to run in order: ascending for up, descending for
// down, skipping what is already in the requested state.
func plan(dir, direction string, applied map[string]bool, steps int) ([]migration, error) {
	suffix := "." + direction + ".sql"
	files, err := filepath.Glob(filepath.Join(dir, "*"+suffix))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s files in %s", suffix, dir)
	}

	slices.Sort(files)
	if direction == "down" {
		slices.Reverse(files)
	}

	var out []migration
	for _, f := range files {
		version := strings.TrimSuffix(filepath.Base(f), suffix)
		if applied[version] == (direction == "up") {
			continue
		}
		out = append(out, migration{version: version, path: f})
		if steps > 0 && len(out) == steps {
			break
		}
	}
	return out, nil
}

func apply(ctx context.Context, store *storage.Store, m migration, direction string) error {
	content, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}

	return store.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			return err
		}
		if direction == "up" {
			_, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version)
		} else {
			_, err = tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", m.version)
		}
		return err
	})
}
