package database

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/trezcool/masomo-dash/core"
)

const (
	driverName    = "postgres"
	migrationsDir = "migrations"

	// NotifyChannel receives the collection name of every changed document.
	NotifyChannel = "masomo_documents"
)

//go:embed migrations/*.sql
var Migrations embed.FS

// Open connects to the configured database and waits for it to answer.
func Open(conf *core.Config) (*sqlx.DB, error) {
	if conf.Database.URL == "" {
		return nil, errors.New("database url not configured")
	}
	db, err := sqlx.Open(driverName, conf.Database.URL)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = ping(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sql.DB) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}

	if err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}

func init() {
	goose.SetBaseFS(Migrations)
	_ = goose.SetDialect(driverName)
}

// RunMigrations runs a goose command (up, down, status, redo...) against the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB, command string, args ...string) error {
	if err := goose.RunContext(ctx, command, db, migrationsDir, args...); err != nil {
		return errors.Wrapf(err, "running migrations %q", command)
	}
	return nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	if err := RunMigrations(ctx, db, "up"); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}
