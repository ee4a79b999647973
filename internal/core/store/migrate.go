package store

import (
	"context"
	"errors"
	"fmt"
)

// migration is one forward-only schema step. Steps are applied in order and
// the highest applied version is kept in PRAGMA user_version.
type migration struct {
	version    int
	name       string
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create error_frequencies",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS error_frequencies (
				user_id TEXT NOT NULL,
				error_category TEXT NOT NULL,
				error_subcategory TEXT NOT NULL,
				frequency INTEGER NOT NULL DEFAULT 0 CHECK (frequency >= 0),
				PRIMARY KEY (user_id, error_category, error_subcategory)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_error_frequencies_rank
				ON error_frequencies(user_id, frequency DESC)`,
		},
	},
	{
		version: 2,
		name:    "track updated_at",
		statements: []string{
			`ALTER TABLE error_frequencies ADD COLUMN updated_at INTEGER`,
		},
	},
}

// SchemaVersion returns the highest migration applied to the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	var version int
	if err := s.DB.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Migrate applies every pending migration. Each step runs in its own
// transaction so a failed step leaves the previous version intact.
func (s *Store) Migrate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("store migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return err
	}
	return tx.Commit()
}
