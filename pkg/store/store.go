// Package store is the durable, ACID-at-commit-boundary state store:
// the volume registry and the inode-record table (spec §4.B/§3). All
// mutation goes through *Store; the orchestrator reads through it when
// building equivalence classes and writes last_compared_generation after
// each class.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/btrdedup/btrdedup/pkg/config"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/fx"
)

var Module = fx.Module("store",
	fx.Provide(New),
)

type Store struct {
	conn   *sql.DB
	logger *slog.Logger
}

func New(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	logger = logger.With("component", "store")

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Store{conn: conn, logger: logger}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, err
	}

	if err := s.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("state store initialized", "path", cfg.DBPath)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("closing state store")
			return s.Close()
		},
	})

	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn exposes the raw connection for the queries subpackage, mirroring
// the teacher's db.Conn() accessor.
func (s *Store) Conn() *sql.DB {
	return s.conn
}
