package database

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rajasatyajit/EstateHub/internal/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema migrations with goose.
func (d *DB) Migrate(ctx context.Context) error {
	if d.pool == nil {
		return ErrNotConfigured
	}

	// goose only speaks database/sql; share the pool's connections through the pgx bridge.
	sqlDB := stdlib.OpenDBFromPool(d.pool)
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logger.Error("Failed to close migration connection", "error", err)
		}
	}()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through the structured logger.
type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...any) { logger.Error(fmt.Sprintf(format, v...)) }
func (gooseLogger) Printf(format string, v ...any) { logger.Info(fmt.Sprintf(format, v...)) }
