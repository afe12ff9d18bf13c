package marketapi

import (
	"database/sql"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// DBMigrationsPath is a file:// URL to the migration SQL files.
	DBMigrationsPath string
	DBPath           string
}

// EnsureMigrations brings the sqlite schema at cfg.DBPath up to the latest
// migration. A database that is already current is not an error.
func EnsureMigrations(cfg *Config) error {
	sqliteDb, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(sqliteDb, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.DBMigrationsPath, cfg.DBPath, driver)
	if err != nil {
		return err
	}
	log.Info().Str("source", cfg.DBMigrationsPath).Str("db", cfg.DBPath).Msg("bringing-up-migrations")
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
