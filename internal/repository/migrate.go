package repository

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/safetyhub/internal/logger"
)

// Migrate применяет все *.sql из files по порядку имён. Миграции идемпотентны
// (IF NOT EXISTS), поэтому выполняются при каждом старте.
func Migrate(ctx context.Context, pool *pgxpool.Pool, files fs.FS) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for _, name := range names {
		data, err := fs.ReadFile(files, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
		logger.Debugf("migration %s applied", name)
	}
	logger.Infof("migrations applied (%d)", len(names))
	return nil
}
