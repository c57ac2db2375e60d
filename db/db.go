package db

import (
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

//go:embed migrations/*.sql
var MigrationFiles embed.FS

// InitSQLite opens the database file with foreign keys enforced and a busy
// timeout. The pool is pinned to a single connection.
func InitSQLite(databaseName string) (*sqlx.DB, error) {
	conn, err := sqlx.Open(DriverName, databaseName+"?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	conn.SetMaxOpenConns(1)

	var enabled int
	if err = conn.Get(&enabled, "PRAGMA foreign_keys"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "error checking foreign keys")
	}
	if enabled != 1 {
		conn.Close()
		return nil, errors.New("foreign keys are not enabled")
	}

	return conn, nil
}

// InitDB opens the database and applies every pending migration.
func InitDB(databaseName string) (*sqlx.DB, error) {
	conn, err := InitSQLite(databaseName)
	if err != nil {
		return nil, err
	}
	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Migrate runs the embedded migrations up to the latest version.
func Migrate(conn *sqlx.DB) error {
	src, err := iofs.New(MigrationFiles, "migrations")
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}
	driver, err := sqlite3.WithInstance(conn.DB, &sqlite3.Config{})
	if err != nil {
		return errors.Wrap(err, "migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return errors.Wrap(err, "init migrations")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	version, dirty, _ := m.Version()
	jww.DEBUG.Printf("database schema at version %d (dirty=%t)", version, dirty)
	return nil
}

func CloseDB(databaseInstance *sqlx.DB) {
	if databaseInstance != nil {
		databaseInstance.Close()
		jww.INFO.Println("Database connection closed")
	}
}
