// Package dbmigrate applies embedded SQL schema migrations to a Postgres
// database on startup, shared by the approval and sessions managed-mode
// stores (C14) so neither hand-rolls its own CREATE TABLE IF NOT EXISTS
// bootstrapping.
package dbmigrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// Up runs every pending up migration found under dir in fsys against dsn.
// dbName labels the migration instance (used for the migrations table name
// so approvals and sessions don't collide in the same database) and is
// otherwise cosmetic. migrate.ErrNoChange is not an error: it just means
// the schema was already current.
func Up(dsn, dbName string, fsys embed.FS, dir string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open %s database: %w", dbName, err)
	}
	defer db.Close()

	src, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("load %s migrations: %w", dbName, err)
	}

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{
		MigrationsTable: fmt.Sprintf("schema_migrations_%s", dbName),
	})
	if err != nil {
		return fmt.Errorf("init %s migration driver: %w", dbName, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dbName, driver)
	if err != nil {
		return fmt.Errorf("init %s migrator: %w", dbName, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply %s migrations: %w", dbName, err)
	}
	return nil
}
