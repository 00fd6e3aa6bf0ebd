package migrations

import (
	"context"
	"fmt"

	"github.com/nice-bills/chain-segment/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded job and cache schema.
// Every statement uses IF NOT EXISTS, so reapplying on restart is safe.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := loadFiles(PostgresFS, "postgres")
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, err := pool.Exec(ctx, f.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.name, err)
		}
	}
	return nil
}
