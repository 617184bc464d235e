package datastore

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/myinspectra/inspectra-go/internal/conf"
)

// SQLiteStore implements DataStore for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

func validateSQLiteConfig(settings *conf.Settings) error {
	if settings.Output.SQLite.Path == "" {
		return fmt.Errorf("SQLite database path is not configured")
	}
	return nil
}

// Open sets up the SQLite database connection and runs migrations.
func (store *SQLiteStore) Open() error {
	if err := validateSQLiteConfig(store.Settings); err != nil {
		return err
	}

	path := store.Settings.Output.SQLite.Path
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: createGormLogger(store.Settings.Debug)})
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store.DB = db
	return performAutoMigration(db, store.Settings.Debug, "SQLite", path)
}

// Close closes the SQLite database connection.
func (store *SQLiteStore) Close() error {
	return closeDB(store.DB)
}
