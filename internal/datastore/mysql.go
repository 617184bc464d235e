package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/myinspectra/inspectra-go/internal/conf"
)

// MySQLStore implements DataStore for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

func validateMySQLConfig(settings *conf.Settings) error {
	c := &settings.Output.MySQL
	if c.Username == "" || c.Database == "" || c.Host == "" || c.Port == "" {
		return fmt.Errorf("incomplete MySQL configuration")
	}
	return nil
}

// Open sets up the MySQL database connection and runs migrations.
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.Settings); err != nil {
		return err
	}

	c := &store.Settings.Output.MySQL
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: createGormLogger(store.Settings.Debug)})
	if err != nil {
		return fmt.Errorf("failed to open MySQL database: %w", err)
	}

	store.DB = db
	return performAutoMigration(db, store.Settings.Debug, "MySQL",
		fmt.Sprintf("%s:%s/%s", c.Host, c.Port, c.Database))
}

// Close closes the MySQL database connection.
func (store *MySQLStore) Close() error {
	return closeDB(store.DB)
}
