package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"go.uber.org/zap"

	"dex-indexer/internal/storage/postgres"
)

// RunPostgresMigrations applies all embedded Postgres files in lexical order.
// Each file is idempotent, so this runs on every start.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, logger *zap.Logger) error {
	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		// Simple protocol Exec accepts multi-statement files, including DO blocks.
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		logger.Debug("applied postgres migration", zap.String("file", file))
	}

	return nil
}
