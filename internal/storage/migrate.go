package storage

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func runMigrations(db *sql.DB) error {
	const op = "storage.runMigrations"

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		if err == goose.ErrNoNextVersion {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
