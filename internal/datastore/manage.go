// manage.go: database connection lifecycle and schema migration helpers
package datastore

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/myinspectra/inspectra-go/internal/logging"
)

// DefaultSlowQueryThreshold defines the duration after which a query is
// considered slow by the GORM logger.
const DefaultSlowQueryThreshold = 1 * time.Second

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return gormlogger.New(slogWriter{logging.ForService("datastore")}, gormlogger.Config{
		SlowThreshold:             DefaultSlowQueryThreshold,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// slogWriter adapts a slog.Logger to the gorm logger writer interface.
type slogWriter struct {
	log *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	w.log.Info(fmt.Sprintf(format, args...))
}

// performAutoMigration runs GORM auto migration for all pipeline entities.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&CaseRequest{},
		&RawImage{},
		&DicomFile{},
		&Profile{},
		&CXREndpoint{},
		&DiseasePrediction{},
		&Heatmap{},
		&SegmentationMask{},
		&OverlayHeatmap{},
		&ProcessedHeatmap{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		logging.ForService("datastore").Debug("database connection initialized",
			"type", dbType, "connection", connectionInfo)
	}
	return nil
}

// closeDB closes the underlying sql.DB of a GORM connection.
func closeDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting database handle: %w", err)
	}
	return sqlDB.Close()
}
