package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/example/access-control/internal/config"
	"github.com/example/access-control/internal/persistence/sqlite"
)

// MigrateCmd applies the embedded schema to a SQLite database.
type MigrateCmd struct {
	DSN string `help:"SQLite DSN. Defaults to ACCESS_SQLITE_DSN."`
}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, globals.Debug, os.Stdout)
	if err != nil {
		return err
	}

	dsn := c.DSN
	if dsn == "" {
		if cfg.Store != "sqlite" {
			return fmt.Errorf("store %q has no schema to migrate", cfg.Store)
		}
		dsn = cfg.SQLiteDSN
	}
	return runMigrations(ctx, dsn, logger)
}

func runMigrations(ctx context.Context, dsn string, logger *slog.Logger) (err error) {
	pool, err := sqlite.OpenPool(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, pool.Close())
	}()

	logger.Info("applying database migrations")
	if err := pool.Migrate(logger); err != nil {
		return err
	}
	return nil
}
