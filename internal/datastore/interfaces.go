// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"github.com/myinspectra/inspectra-go/internal/conf"
	"gorm.io/gorm"
)

// ErrNotFound is returned (wrapped) when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// Interface abstracts the underlying database implementation and defines the
// persistence operations of the case processing pipeline. All upserts are
// idempotent and commutative per key, so any endpoint arrival order yields
// identical final state.
type Interface interface {
	Open() error
	Close() error

	// case lifecycle
	CreateCaseRequest(requestID string) (*CaseRequest, error)
	GetCaseRequest(requestID string) (*CaseRequest, error)
	MarkCaseUploaded(caseID uint) error
	MarkCaseProcessed(caseID uint) error
	MarkCaseResponded(caseID uint) error

	// input artifacts
	SaveRawImage(img *RawImage) error
	UpdateRawImageDimensions(imageID uint, width, height int) error
	GetRawImage(caseID uint) (*RawImage, error)
	SaveDicomFile(file *DicomFile) error

	// reference config
	SyncProfile(profile *Profile) error
	GetProfiles() ([]Profile, error)

	// prediction results, keyed (case, disease/class, version)
	UpsertDiseasePrediction(p *DiseasePrediction) (*DiseasePrediction, error)
	UpsertHeatmap(h *Heatmap) error
	UpsertSegmentationMask(m *SegmentationMask) error
	UpsertOverlayHeatmap(o *OverlayHeatmap) error
	UpsertProcessedHeatmap(p *ProcessedHeatmap) error

	// overlay selection queries
	GetPredictions(caseID uint, version string) ([]DiseasePrediction, error)
	GetSegmentationMasks(caseID uint, version string) ([]SegmentationMask, error)
	GetOverlayHeatmap(caseID uint, version string) (*OverlayHeatmap, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore based on the provided settings.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}
