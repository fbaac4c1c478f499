package postgres_test

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/absmach/fedguard/pkg/storage/postgres"
	"github.com/absmach/fedguard/pkg/storage/sqlstore"
	"github.com/absmach/fedguard/pkg/storage/testutil"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

var testDB *postgres.Database

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err == nil {
		err = pool.Client.Ping()
	}
	if err != nil {
		log.Printf("skipping postgres tests, docker unavailable: %s", err)
		os.Exit(0)
	}

	container, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16.2-alpine",
		Env: []string{
			"POSTGRES_USER=test",
			"POSTGRES_PASSWORD=test",
			"POSTGRES_DB=test",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start container: %s", err)
	}

	cfg := postgres.Config{
		Host:    "localhost",
		Port:    container.GetPort("5432/tcp"),
		User:    "test",
		Pass:    "test",
		Name:    "test",
		SSLMode: "disable",
	}

	pool.MaxWait = 120 * time.Second
	if err := pool.Retry(func() error {
		db, err := sql.Open("pgx", cfg.DSN())
		if err != nil {
			return err
		}
		defer db.Close()

		return db.Ping()
	}); err != nil {
		log.Fatalf("Could not connect to docker: %s", err)
	}

	testDB, err = postgres.NewDatabase(cfg)
	if err != nil {
		log.Fatalf("Could not setup test DB connection: %s", err)
	}

	code := m.Run()

	testDB.Close()
	if err := pool.Purge(container); err != nil {
		log.Fatalf("Could not purge container: %s", err)
	}

	os.Exit(code)
}

func TestRepository(t *testing.T) {
	repo := sqlstore.New(testDB.DB)
	testutil.RunRepositoryTests(t, repo, repo)
}

func TestConfigDSN(t *testing.T) {
	cfg := postgres.Config{Host: "db", Port: "5433", User: "u", Pass: "p", Name: "n", SSLMode: "require"}
	want := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", "db", "5433", "u", "p", "n", "require")
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
}
