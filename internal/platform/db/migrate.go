package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate runs the embedded goose migrations in the given direction
// ("up", "down", "status" or "reset").
func Migrate(ctx context.Context, dsn, command string) error {
	sqlDB, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("platform/db: open migrations db: %w", err)
	}
	defer func() {
		_ = sqlDB.Close()
	}()
	return runMigrations(ctx, sqlDB, command)
}

func runMigrations(ctx context.Context, sqlDB *sql.DB, command string) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("platform/db: goose dialect: %w", err)
	}
	var err error
	switch command {
	case "", "up":
		err = goose.UpContext(ctx, sqlDB, "migrations")
	case "down":
		err = goose.DownContext(ctx, sqlDB, "migrations")
	case "status":
		err = goose.StatusContext(ctx, sqlDB, "migrations")
	case "reset":
		err = goose.ResetContext(ctx, sqlDB, "migrations")
	default:
		return fmt.Errorf("platform/db: unknown migration command %q", command)
	}
	if err != nil {
		return fmt.Errorf("platform/db: migrate %s: %w", command, err)
	}
	return nil
}
