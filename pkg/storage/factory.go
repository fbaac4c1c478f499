package storage

import (
	"fmt"
	"io"

	"github.com/absmach/fedguard/pkg/storage/badger"
	"github.com/absmach/fedguard/pkg/storage/file"
	"github.com/absmach/fedguard/pkg/storage/postgres"
	"github.com/absmach/fedguard/pkg/storage/sqlite"
	"github.com/absmach/fedguard/pkg/storage/sqlstore"
)

const (
	TypeMemory   = "memory"
	TypeFile     = "file"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeBadger   = "badger"
)

type Config struct {
	Type string `toml:"type" yaml:"type" env:"TYPE" envDefault:"memory"`

	Dir        string `toml:"dir"         yaml:"dir"         env:"DIR"         envDefault:"./data/history"`
	SQLitePath string `toml:"sqlite_path" yaml:"sqlite_path" env:"SQLITE_PATH" envDefault:"./fedguard.db"`
	BadgerPath string `toml:"badger_path" yaml:"badger_path" env:"BADGER_PATH" envDefault:"./data/badger"`

	Postgres postgres.Config `toml:"postgres" yaml:"postgres" envPrefix:"POSTGRES_"`
}

type Repositories struct {
	Rounds RoundRepository
	Models ModelRepository
	// Closer closes the underlying persistent storage connection.
	// It is nil for the in-memory and file backends.
	Closer io.Closer
}

func NewRepositories(cfg Config) (*Repositories, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return &Repositories{
			Rounds: NewMemoryRoundRepository(NewInMemoryStorage()),
			Models: NewMemoryModelRepository(NewInMemoryStorage()),
		}, nil
	case TypeFile:
		s, err := file.New(cfg.Dir)
		if err != nil {
			return nil, err
		}

		return &Repositories{Rounds: s, Models: s}, nil
	case TypeSQLite:
		db, err := sqlite.NewDatabase(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		repo := sqlstore.New(db.DB)

		return &Repositories{Rounds: repo, Models: repo, Closer: db}, nil
	case TypePostgres:
		db, err := postgres.NewDatabase(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		repo := sqlstore.New(db.DB)

		return &Repositories{Rounds: repo, Models: repo, Closer: db}, nil
	case TypeBadger:
		db, err := badger.NewDatabase(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}

		return &Repositories{Rounds: db, Models: db, Closer: db}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
}
