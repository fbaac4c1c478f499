package sqlite

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrMigration    = errors.New("database migration error")
)

type Database struct {
	*sqlx.DB
}

func NewDatabase(path string) (*Database, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &Database{DB: db}

	if err := database.Migrate(); err != nil {
		db.Close()

		return nil, err
	}

	return database, nil
}

func (db *Database) Migrate() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_history",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS rounds (
						run_id TEXT NOT NULL,
						round_no INTEGER NOT NULL,
						status TEXT NOT NULL,
						excluded INTEGER NOT NULL DEFAULT 0,
						document TEXT NOT NULL,
						finished_at TIMESTAMP NOT NULL,
						PRIMARY KEY (run_id, round_no)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_rounds_status ON rounds(run_id, status)`,
					`CREATE TABLE IF NOT EXISTS models (
						run_id TEXT NOT NULL,
						round_no INTEGER NOT NULL,
						parameters BLOB NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (run_id, round_no)
					)`,
				},
				Down: []string{
					`DROP TABLE IF EXISTS models`,
					`DROP INDEX IF EXISTS idx_rounds_status`,
					`DROP TABLE IF EXISTS rounds`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB.DB, "sqlite3", migrations, migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}

	return nil
}
