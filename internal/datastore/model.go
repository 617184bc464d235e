// model.go this code defines the data model for the case processing pipeline
package datastore

import "time"

// CaseRequest represents one submitted radiograph scored across one or more
// model versions. The three success flags are monotonic, they only flip from
// false to true.
type CaseRequest struct {
	ID        uint   `gorm:"primaryKey"`
	RequestID string `gorm:"size:36;uniqueIndex"` // opaque UUID
	CreatedAt time.Time
	UpdatedAt time.Time

	SuccessUpload   bool // image stored successfully
	SuccessProcess  bool // all profile workflows succeeded
	SuccessResponse bool // response delivered successfully
}

// RawImage stores the displayable radiograph with metadata, one per case.
// For DICOM uploads this is the derived bitmap, not the original study.
type RawImage struct {
	ID            uint `gorm:"primaryKey"`
	CaseRequestID uint `gorm:"index;not null"`
	BlobPath      string

	Width    int
	Height   int
	FileSize int64

	OriginalFilename string `gorm:"size:255"`
	ContentType      string `gorm:"size:100"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DicomFile holds the original DICOM bytes when the upload was a DICOM study,
// distinct from the derived bitmap. Zero or one per case.
type DicomFile struct {
	ID            uint `gorm:"primaryKey"`
	CaseRequestID uint `gorm:"uniqueIndex;not null"`
	BlobPath      string
	FileSize      int64
	CreatedAt     time.Time
}

// Profile is the reference record of a named, versioned endpoint set.
type Profile struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:100"`
	Version   string `gorm:"size:20;uniqueIndex"`
	Active    bool
	Endpoints []CXREndpoint `gorm:"foreignKey:ProfileID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
}

// CXREndpoint is the reference record of one inference microservice endpoint.
type CXREndpoint struct {
	ID          uint   `gorm:"primaryKey"`
	ProfileID   uint   `gorm:"index;not null"`
	Name        string `gorm:"size:100"`
	Version     string `gorm:"size:20"`
	ServiceType string `gorm:"size:50"`
	URL         string `gorm:"size:500"`
	Active      bool
}

// DiseasePrediction stores one disease score for one case and model version.
// The (case, disease, version) key is unique, upserts overwrite fields.
type DiseasePrediction struct {
	ID            uint   `gorm:"primaryKey"`
	CaseRequestID uint   `gorm:"not null;uniqueIndex:idx_prediction_key"`
	DiseaseName   string `gorm:"size:100;uniqueIndex:idx_prediction_key"`
	ModelVersion  string `gorm:"size:20;uniqueIndex:idx_prediction_key"`

	PredictionValue       float64
	BalancedScore         float64
	ThresholdedPercentage string `gorm:"size:10"` // e.g. "62%", or the sentinel "Low"

	Heatmap *Heatmap `gorm:"foreignKey:DiseasePredictionID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Heatmap is the classifier attention image owned one-to-one by a prediction.
type Heatmap struct {
	ID                  uint `gorm:"primaryKey"`
	DiseasePredictionID uint `gorm:"uniqueIndex;not null"`
	BlobPath            string

	Width    int
	Height   int
	FileSize int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SegmentationMask stores one anatomy mask for one case and model version.
// The (case, class, version) key is unique, upserts overwrite fields.
type SegmentationMask struct {
	ID            uint   `gorm:"primaryKey"`
	CaseRequestID uint   `gorm:"not null;uniqueIndex:idx_mask_key"`
	ClassName     string `gorm:"size:100;uniqueIndex:idx_mask_key"`
	ModelVersion  string `gorm:"size:20;uniqueIndex:idx_mask_key"`
	BlobPath      string

	Width    int
	Height   int
	FileSize int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OverlayHeatmap is the single composited image for one profile run.
type OverlayHeatmap struct {
	ID            uint   `gorm:"primaryKey"`
	CaseRequestID uint   `gorm:"not null;uniqueIndex:idx_overlay_key"`
	ModelVersion  string `gorm:"size:20;uniqueIndex:idx_overlay_key"`
	BlobPath      string
	FileSize      int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProcessedHeatmap is one per-finding rendered overlay for one profile run.
type ProcessedHeatmap struct {
	ID            uint   `gorm:"primaryKey"`
	CaseRequestID uint   `gorm:"not null;uniqueIndex:idx_processed_key"`
	DiseaseName   string `gorm:"size:100;uniqueIndex:idx_processed_key"`
	ModelVersion  string `gorm:"size:20;uniqueIndex:idx_processed_key"`
	BlobPath      string
	FileSize      int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
