package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"path"
	"strings"

	_ "image/jpeg" // raw image dimension probing
	_ "image/png"

	"github.com/myinspectra/inspectra-go/internal/blobstore"
	"github.com/myinspectra/inspectra-go/internal/conf"
	"github.com/myinspectra/inspectra-go/internal/datastore"
	"github.com/myinspectra/inspectra-go/internal/dicom"
	"github.com/myinspectra/inspectra-go/internal/logging"
	"github.com/myinspectra/inspectra-go/internal/prediction"
)

// Upload is the inbound image or DICOM byte stream of one case.
type Upload struct {
	Bytes       []byte
	Filename    string
	ContentType string
}

// Report combines the per-profile outcomes of one case run. Success is the
// logical AND over all profile workflow outcomes.
type Report struct {
	Success  bool
	Profiles map[string]Result // keyed by version tag
}

// Pipeline runs the case workflow once per configured version profile.
type Pipeline struct {
	settings *conf.Settings
	store    datastore.Interface
	blobs    blobstore.Store
	workflow *Workflow
	log      *slog.Logger
}

// New creates a pipeline.
func New(settings *conf.Settings, store datastore.Interface, blobs blobstore.Store, workflow *Workflow) *Pipeline {
	return &Pipeline{
		settings: settings,
		store:    store,
		blobs:    blobs,
		workflow: workflow,
		log:      logging.ForService("pipeline"),
	}
}

// Process ingests one upload for the given case request, normalizes DICOM
// input if needed, runs the workflow once per profile and records the overall
// process-success flag. versions selects profiles by explicit version tag;
// with none given every active profile runs. The returned error is non-nil
// only for fatal failures: malformed DICOM input, unknown version tags and
// persistence failures.
func (p *Pipeline) Process(ctx context.Context, requestID string, upload *Upload, versions ...string) (*Report, error) {
	caseReq, err := p.store.CreateCaseRequest(requestID)
	if err != nil {
		return nil, err
	}

	in, err := p.ingest(caseReq, upload)
	if err != nil {
		return nil, err
	}

	profiles, err := p.resolveProfiles(versions)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Success:  len(profiles) > 0,
		Profiles: make(map[string]Result, len(profiles)),
	}
	for _, profile := range profiles {
		result, err := p.workflow.Run(ctx, caseReq, profile, in)
		report.Profiles[profile.Version] = result
		if err != nil {
			report.Success = false
			return report, err
		}
		report.Success = report.Success && result.Success
	}

	if report.Success {
		if err := p.store.MarkCaseProcessed(caseReq.ID); err != nil {
			return report, err
		}
	}
	p.log.Info("case processed",
		"case", requestID, "profiles", len(profiles), "success", report.Success)
	return report, nil
}

// ingest persists the upload and returns the fan-out input. DICOM studies are
// stored verbatim and replaced by their normalized bitmap; a decode failure
// aborts the case before any fan-out.
func (p *Pipeline) ingest(caseReq *datastore.CaseRequest, upload *Upload) (*prediction.Input, error) {
	imageBytes := upload.Bytes
	filename := upload.Filename
	contentType := upload.ContentType
	var width, height int

	if dicom.IsDicom(upload.Bytes, upload.ContentType) {
		dicomPath := fmt.Sprintf("dicom/%s/%s", caseReq.RequestID, path.Base(filename))
		ref, err := p.blobs.Save(dicomPath, upload.Bytes)
		if err != nil {
			return nil, err
		}
		err = p.store.SaveDicomFile(&datastore.DicomFile{
			CaseRequestID: caseReq.ID,
			BlobPath:      string(ref),
			FileSize:      int64(len(upload.Bytes)),
		})
		if err != nil {
			return nil, err
		}

		bitmap, err := dicom.Normalize(upload.Bytes)
		if err != nil {
			return nil, err
		}
		imageBytes, err = bitmap.EncodePNG()
		if err != nil {
			return nil, err
		}
		filename = strings.TrimSuffix(path.Base(filename), path.Ext(filename)) + ".png"
		contentType = "image/png"
		width, height = bitmap.Width, bitmap.Height
	}

	rawPath := fmt.Sprintf("raw_images/%s/%s", caseReq.RequestID, path.Base(filename))
	ref, err := p.blobs.Save(rawPath, imageBytes)
	if err != nil {
		return nil, err
	}
	rawImage := &datastore.RawImage{
		CaseRequestID:    caseReq.ID,
		BlobPath:         string(ref),
		FileSize:         int64(len(imageBytes)),
		OriginalFilename: upload.Filename,
		ContentType:      contentType,
	}
	if err := p.store.SaveRawImage(rawImage); err != nil {
		return nil, err
	}

	// Dimension backfill is best effort, an undecodable bitmap is not fatal
	// to the upload.
	if width == 0 || height == 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(imageBytes)); err == nil {
			width, height = cfg.Width, cfg.Height
		}
	}
	if width > 0 && height > 0 {
		if err := p.store.UpdateRawImageDimensions(rawImage.ID, width, height); err != nil {
			return nil, err
		}
	}

	if err := p.store.MarkCaseUploaded(caseReq.ID); err != nil {
		return nil, err
	}

	return &prediction.Input{
		Bytes:       imageBytes,
		Filename:    filename,
		ContentType: contentType,
		RequestID:   caseReq.RequestID,
	}, nil
}

// resolveProfiles maps explicit version tags to configured profiles, or
// returns every active profile when no tag is given.
func (p *Pipeline) resolveProfiles(versions []string) ([]conf.ProfileConfig, error) {
	if len(versions) == 0 {
		return p.settings.ActiveProfiles(), nil
	}
	profiles := make([]conf.ProfileConfig, 0, len(versions))
	for _, version := range versions {
		profile, err := p.settings.ProfileForVersion(version)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}
