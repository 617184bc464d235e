// repository.go: shared GORM implementations of the datastore operations
package datastore

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/myinspectra/inspectra-go/internal/errors"
)

func (ds *DataStore) dbError(op string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", op, err)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Build()
}

// CreateCaseRequest inserts a new case with all success flags unset.
func (ds *DataStore) CreateCaseRequest(requestID string) (*CaseRequest, error) {
	cr := &CaseRequest{RequestID: requestID}
	if err := ds.DB.Create(cr).Error; err != nil {
		return nil, ds.dbError("creating case request", err)
	}
	return cr, nil
}

// GetCaseRequest retrieves a case by its request UUID.
func (ds *DataStore) GetCaseRequest(requestID string) (*CaseRequest, error) {
	var cr CaseRequest
	if err := ds.DB.Where("request_id = ?", requestID).First(&cr).Error; err != nil {
		return nil, ds.dbError(fmt.Sprintf("getting case request %s", requestID), err)
	}
	return &cr, nil
}

// markCaseFlag flips one monotonic success flag to true.
func (ds *DataStore) markCaseFlag(caseID uint, column string) error {
	if err := ds.DB.Model(&CaseRequest{}).Where("id = ?", caseID).Update(column, true).Error; err != nil {
		return ds.dbError(fmt.Sprintf("marking case %d %s", caseID, column), err)
	}
	return nil
}

func (ds *DataStore) MarkCaseUploaded(caseID uint) error {
	return ds.markCaseFlag(caseID, "success_upload")
}

func (ds *DataStore) MarkCaseProcessed(caseID uint) error {
	return ds.markCaseFlag(caseID, "success_process")
}

func (ds *DataStore) MarkCaseResponded(caseID uint) error {
	return ds.markCaseFlag(caseID, "success_response")
}

// SaveRawImage inserts the raw image record for a case.
func (ds *DataStore) SaveRawImage(img *RawImage) error {
	if err := ds.DB.Create(img).Error; err != nil {
		return ds.dbError("saving raw image", err)
	}
	return nil
}

// UpdateRawImageDimensions backfills width/height metadata after decode.
func (ds *DataStore) UpdateRawImageDimensions(imageID uint, width, height int) error {
	err := ds.DB.Model(&RawImage{}).Where("id = ?", imageID).
		Updates(map[string]any{"width": width, "height": height}).Error
	if err != nil {
		return ds.dbError("updating raw image dimensions", err)
	}
	return nil
}

// GetRawImage retrieves the raw image of a case.
func (ds *DataStore) GetRawImage(caseID uint) (*RawImage, error) {
	var img RawImage
	if err := ds.DB.Where("case_request_id = ?", caseID).First(&img).Error; err != nil {
		return nil, ds.dbError(fmt.Sprintf("getting raw image for case %d", caseID), err)
	}
	return &img, nil
}

// SaveDicomFile inserts the original DICOM record for a case.
func (ds *DataStore) SaveDicomFile(file *DicomFile) error {
	if err := ds.DB.Create(file).Error; err != nil {
		return ds.dbError("saving dicom file", err)
	}
	return nil
}

// SyncProfile upserts the reference profile row and replaces its endpoint set.
func (ds *DataStore) SyncProfile(profile *Profile) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var existing Profile
		res := tx.Where("version = ?", profile.Version).First(&existing)
		if res.Error != nil {
			if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return res.Error
			}
			return tx.Create(profile).Error
		}
		profile.ID = existing.ID
		if err := tx.Where("profile_id = ?", existing.ID).Delete(&CXREndpoint{}).Error; err != nil {
			return err
		}
		return tx.Save(profile).Error
	})
	if err != nil {
		return ds.dbError(fmt.Sprintf("syncing profile %s", profile.Version), err)
	}
	return nil
}

// GetProfiles returns all reference profiles with their endpoints.
func (ds *DataStore) GetProfiles() ([]Profile, error) {
	var profiles []Profile
	if err := ds.DB.Preload("Endpoints").Find(&profiles).Error; err != nil {
		return nil, ds.dbError("listing profiles", err)
	}
	return profiles, nil
}

// UpsertDiseasePrediction writes a prediction keyed by (case, disease,
// version), overwriting score fields on conflict.
func (ds *DataStore) UpsertDiseasePrediction(p *DiseasePrediction) (*DiseasePrediction, error) {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "case_request_id"}, {Name: "disease_name"}, {Name: "model_version"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"prediction_value", "balanced_score", "thresholded_percentage", "updated_at",
		}),
	}).Create(p).Error
	if err != nil {
		return nil, ds.dbError("upserting disease prediction", err)
	}
	// Re-read so the caller holds the row's actual primary key after a
	// conflicting insert.
	var saved DiseasePrediction
	err = ds.DB.Where("case_request_id = ? AND disease_name = ? AND model_version = ?",
		p.CaseRequestID, p.DiseaseName, p.ModelVersion).First(&saved).Error
	if err != nil {
		return nil, ds.dbError("reading upserted disease prediction", err)
	}
	return &saved, nil
}

// UpsertHeatmap writes the heatmap owned by a prediction.
func (ds *DataStore) UpsertHeatmap(h *Heatmap) error {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "disease_prediction_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"blob_path", "width", "height", "file_size", "updated_at",
		}),
	}).Create(h).Error
	if err != nil {
		return ds.dbError("upserting heatmap", err)
	}
	return nil
}

// UpsertSegmentationMask writes a mask keyed by (case, class, version).
func (ds *DataStore) UpsertSegmentationMask(m *SegmentationMask) error {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "case_request_id"}, {Name: "class_name"}, {Name: "model_version"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"blob_path", "width", "height", "file_size", "updated_at",
		}),
	}).Create(m).Error
	if err != nil {
		return ds.dbError("upserting segmentation mask", err)
	}
	return nil
}

// UpsertOverlayHeatmap writes the composited overlay keyed by (case, version).
func (ds *DataStore) UpsertOverlayHeatmap(o *OverlayHeatmap) error {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "case_request_id"}, {Name: "model_version"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"blob_path", "file_size", "updated_at",
		}),
	}).Create(o).Error
	if err != nil {
		return ds.dbError("upserting overlay heatmap", err)
	}
	return nil
}

// UpsertProcessedHeatmap writes a per-finding overlay keyed by
// (case, disease, version).
func (ds *DataStore) UpsertProcessedHeatmap(p *ProcessedHeatmap) error {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "case_request_id"}, {Name: "disease_name"}, {Name: "model_version"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"blob_path", "file_size", "updated_at",
		}),
	}).Create(p).Error
	if err != nil {
		return ds.dbError("upserting processed heatmap", err)
	}
	return nil
}

// GetPredictions returns all predictions of one case and version with their
// heatmaps preloaded.
func (ds *DataStore) GetPredictions(caseID uint, version string) ([]DiseasePrediction, error) {
	var predictions []DiseasePrediction
	err := ds.DB.Preload("Heatmap").
		Where("case_request_id = ? AND model_version = ?", caseID, version).
		Find(&predictions).Error
	if err != nil {
		return nil, ds.dbError("listing predictions", err)
	}
	return predictions, nil
}

// GetSegmentationMasks returns all masks of one case and version.
func (ds *DataStore) GetSegmentationMasks(caseID uint, version string) ([]SegmentationMask, error) {
	var masks []SegmentationMask
	err := ds.DB.Where("case_request_id = ? AND model_version = ?", caseID, version).
		Find(&masks).Error
	if err != nil {
		return nil, ds.dbError("listing segmentation masks", err)
	}
	return masks, nil
}

// GetOverlayHeatmap returns the composited overlay of one case and version.
func (ds *DataStore) GetOverlayHeatmap(caseID uint, version string) (*OverlayHeatmap, error) {
	var overlay OverlayHeatmap
	err := ds.DB.Where("case_request_id = ? AND model_version = ?", caseID, version).
		First(&overlay).Error
	if err != nil {
		return nil, ds.dbError("getting overlay heatmap", err)
	}
	return &overlay, nil
}
