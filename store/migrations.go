package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// migration represents a single schema migration.
type migration struct {
	version     int
	description string
	apply       func(ctx context.Context, tx pgx.Tx) error
}

// migrations is the ordered list of all schema migrations.
// New migrations are appended at the end; never modify existing entries.
var migrations = []migration{
	{
		version:     1,
		description: "initial schema (applied via schemaSQL)",
		apply:       func(ctx context.Context, tx pgx.Tx) error { return nil },
	},
}

// Migrate runs all pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		slog.Info("applying migration", "version", m.version, "description", m.description)

		err := s.inTx(ctx, func(tx pgx.Tx) error {
			if err := m.apply(ctx, tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_version (version, description) VALUES ($1, $2)`,
				m.version, m.description); err != nil {
				return fmt.Errorf("recording migration %d: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}
