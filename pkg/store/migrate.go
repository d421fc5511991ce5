package store

import (
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func (s *Store) runMigrations() error {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	version, err := goose.GetDBVersion(s.conn)
	if err != nil {
		s.logger.Info("no existing migration version", "error", err)
	} else {
		s.logger.Info("current migration version", "version", version)
	}

	return goose.Up(s.conn, "migrations")
}
