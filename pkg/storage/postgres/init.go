package postgres

import (
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrMigration    = errors.New("database migration error")
)

type Config struct {
	Host    string `toml:"host"     yaml:"host"     env:"HOST"     envDefault:"localhost"`
	Port    string `toml:"port"     yaml:"port"     env:"PORT"     envDefault:"5432"`
	User    string `toml:"user"     yaml:"user"     env:"USER"     envDefault:"fedguard"`
	Pass    string `toml:"pass"     yaml:"pass"     env:"PASS"     envDefault:"fedguard"`
	Name    string `toml:"name"     yaml:"name"     env:"NAME"     envDefault:"fedguard"`
	SSLMode string `toml:"ssl_mode" yaml:"ssl_mode" env:"SSLMODE"  envDefault:"disable"`
}

func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", c.Host, c.Port, c.User, c.Pass, c.Name, c.SSLMode)
}

type Database struct {
	*sqlx.DB
}

func NewDatabase(cfg Config) (*Database, error) {
	db, err := sqlx.Connect("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
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
						run_id VARCHAR(64) NOT NULL,
						round_no BIGINT NOT NULL,
						status VARCHAR(16) NOT NULL,
						excluded INTEGER NOT NULL DEFAULT 0,
						document JSONB NOT NULL,
						finished_at TIMESTAMPTZ NOT NULL,
						PRIMARY KEY (run_id, round_no)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_rounds_status ON rounds(run_id, status)`,
					`CREATE TABLE IF NOT EXISTS models (
						run_id VARCHAR(64) NOT NULL,
						round_no BIGINT NOT NULL,
						parameters BYTEA NOT NULL,
						updated_at TIMESTAMPTZ NOT NULL,
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

	if _, err := migrate.Exec(db.DB.DB, "postgres", migrations, migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}

	return nil
}
