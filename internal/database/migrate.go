package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"

	"gatekeeper/internal/models"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// MigrateUp applies every pending migration for driver. It opens and closes
// its own connection from dsn.
func MigrateUp(driver, dsn string) error {
	runner, err := newMigrationRunner(driver, dsn)
	if err != nil {
		return err
	}
	defer closeMigrationRunner(runner)

	if err := runner.Up(); err != nil && !isNoChange(err) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back steps migrations.
func MigrateDown(driver, dsn string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("invalid migration steps %d: expected a positive integer", steps)
	}

	runner, err := newMigrationRunner(driver, dsn)
	if err != nil {
		return err
	}
	defer closeMigrationRunner(runner)

	if err := runner.Steps(-steps); err != nil && !isNoChange(err) {
		return fmt.Errorf("rollback migrations: %w", err)
	}
	return nil
}

// MigrationVersion reports the current schema version.
func MigrationVersion(driver, dsn string) (version uint, dirty bool, err error) {
	runner, err := newMigrationRunner(driver, dsn)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrationRunner(runner)

	version, dirty, err = runner.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func newMigrationRunner(driver, dsn string) (*migrate.Migrate, error) {
	if dsn == "" {
		return nil, errors.New("missing database DSN")
	}

	var (
		db       *sql.DB
		instance migratedb.Driver
		dir      string
		err      error
	)

	switch driver {
	case models.DatabaseDriverPostgres:
		dir = "migrations/postgres"
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		instance, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	case models.DatabaseDriverSQLite:
		dir = "migrations/sqlite"
		db, err = sql.Open("sqlite", SQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		instance, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create %s migration driver: %w", driver, err)
	}

	source, err := iofs.New(migrationFS, dir)
	if err != nil {
		instance.Close()
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	runner, err := migrate.NewWithInstance("iofs", source, driver, instance)
	if err != nil {
		source.Close()
		instance.Close()
		return nil, fmt.Errorf("create migrate runner: %w", err)
	}
	return runner, nil
}

func closeMigrationRunner(runner *migrate.Migrate) error {
	sourceErr, databaseErr := runner.Close()
	return errors.Join(sourceErr, databaseErr)
}

// golang-migrate returns bare os.ErrNotExist when a step command reaches the
// migration boundary.
func isNoChange(err error) bool {
	return errors.Is(err, migrate.ErrNoChange) || errors.Is(err, os.ErrNotExist)
}
