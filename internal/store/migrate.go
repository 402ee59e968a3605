package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ApplyMigrations runs the embedded SQL files in filename order. Every
// statement uses IF NOT EXISTS, so running them twice is harmless.
func ApplyMigrations(ctx context.Context, db Querier, log logger.Logger) error {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("store")

	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "read migrations", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		data, err := fs.ReadFile(migrations, "migrations/"+name)
		if err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "read migration "+name, err)
		}

		err = logger.TimedOperation("migration "+name, log, func() error {
			_, err := db.Exec(ctx, string(data))
			return err
		})
		if err != nil {
			return queryError(ctx, "migration "+name, err)
		}
		applied++
	}

	log.WithField("count", applied).Info("Migrations applied")
	return nil
}
