package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/myinspectra/inspectra-go/internal/blobstore"
	"github.com/myinspectra/inspectra-go/internal/conf"
	"github.com/myinspectra/inspectra-go/internal/datastore"
	"github.com/myinspectra/inspectra-go/internal/errors"
	"github.com/myinspectra/inspectra-go/internal/logging"
	"github.com/myinspectra/inspectra-go/internal/observability"
	"github.com/myinspectra/inspectra-go/internal/tempres"
)

// ErrOverlayUnavailable reports a version run that cannot be composited
// because the lung mask or the raw image is missing. Non-fatal.
var ErrOverlayUnavailable = errors.NewStd("overlay unavailable")

// Selection is the artifact set handed to the compositor for one version.
type Selection struct {
	HeatmapPaths         map[string]string
	ConfidenceScores     map[string]float64
	HeatmapSettings      map[string]conf.HeatmapSetting
	FallbackHeatmapPaths map[string]string
	LungMaskPath         string
	ConvexLungMaskPath   string
	RawImagePath         string
}

// Selector builds the per-version selection and drives the compositor.
type Selector struct {
	store          datastore.Interface
	blobs          blobstore.Store
	compositor     Compositor
	renderSettings map[string]conf.HeatmapSetting
	metrics        *observability.PipelineMetrics
	log            *slog.Logger
}

// NewSelector creates a selector. compositor and metrics may be nil; a nil
// compositor makes every Render report overlay unavailable.
func NewSelector(
	store datastore.Interface,
	blobs blobstore.Store,
	compositor Compositor,
	renderSettings map[string]conf.HeatmapSetting,
	metrics *observability.PipelineMetrics,
) *Selector {
	return &Selector{
		store:          store,
		blobs:          blobs,
		compositor:     compositor,
		renderSettings: renderSettings,
		metrics:        metrics,
		log:            logging.ForService("overlay"),
	}
}

func (s *Selector) settingFor(finding string) conf.HeatmapSetting {
	if hs, ok := s.renderSettings[finding]; ok {
		return hs
	}
	return conf.DefaultHeatmapSetting
}

// Build assembles the selection for exactly one version from that version's
// predictions and segmentation masks. Local paths are materialized through tm
// and live until the owning workflow releases it.
func (s *Selector) Build(tm *tempres.Manager, caseReq *datastore.CaseRequest, version string) (*Selection, error) {
	predictions, err := s.store.GetPredictions(caseReq.ID, version)
	if err != nil {
		return nil, err
	}
	masks, err := s.store.GetSegmentationMasks(caseReq.ID, version)
	if err != nil {
		return nil, err
	}

	sel := &Selection{
		HeatmapPaths:         make(map[string]string),
		ConfidenceScores:     make(map[string]float64),
		HeatmapSettings:      make(map[string]conf.HeatmapSetting),
		FallbackHeatmapPaths: make(map[string]string),
	}

	// Findings below the positive call threshold are excluded from every map.
	low := make(map[string]bool)
	scores := make(map[string]float64)
	for i := range predictions {
		p := &predictions[i]
		if strings.EqualFold(p.ThresholdedPercentage, ThresholdedLow) {
			low[p.DiseaseName] = true
			continue
		}
		scores[p.DiseaseName] = p.BalancedScore
	}

	for i := range predictions {
		p := &predictions[i]
		if low[p.DiseaseName] || roleOf(p.DiseaseName) == RoleExcluded {
			continue
		}
		if p.Heatmap == nil {
			continue
		}
		path, err := tm.Materialize(s.blobs, blobstore.Ref(p.Heatmap.BlobPath))
		if err != nil {
			return nil, err
		}
		sel.HeatmapPaths[p.DiseaseName] = path
		sel.ConfidenceScores[p.DiseaseName] = p.BalancedScore
		sel.HeatmapSettings[p.DiseaseName] = s.settingFor(p.DiseaseName)
	}

	for i := range masks {
		m := &masks[i]
		if low[m.ClassName] {
			continue
		}
		path, err := tm.Materialize(s.blobs, blobstore.Ref(m.BlobPath))
		if err != nil {
			return nil, err
		}
		switch roleOf(m.ClassName) {
		case RoleLungMask:
			sel.LungMaskPath = path
		case RoleConvexLungMask:
			sel.ConvexLungMaskPath = path
		case RolePrimaryMask:
			// The mask takes precedence; a displaced classifier heatmap is
			// retained as fallback rather than dropped.
			if existing, ok := sel.HeatmapPaths[m.ClassName]; ok {
				sel.FallbackHeatmapPaths[m.ClassName] = existing
			}
			sel.HeatmapPaths[m.ClassName] = path
			sel.ConfidenceScores[m.ClassName] = scores[m.ClassName]
			sel.HeatmapSettings[m.ClassName] = s.settingFor(m.ClassName)
		case RoleExcluded:
			// Declared excluded findings never composite.
		default:
			key := segmentationKey(m.ClassName)
			sel.HeatmapPaths[key] = path
			// The class inherits the confidence of a same-named disease
			// prediction when one exists.
			sel.ConfidenceScores[key] = scores[m.ClassName]
			sel.HeatmapSettings[key] = s.settingFor(m.ClassName)
		}
	}

	if sel.LungMaskPath == "" {
		return nil, fmt.Errorf("%w: no lung mask for version %s", ErrOverlayUnavailable, version)
	}

	rawImage, err := s.store.GetRawImage(caseReq.ID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, fmt.Errorf("%w: no raw image for case %s", ErrOverlayUnavailable, caseReq.RequestID)
		}
		return nil, err
	}
	rawPath, err := tm.Materialize(s.blobs, blobstore.Ref(rawImage.BlobPath))
	if err != nil {
		return nil, fmt.Errorf("%w: raw image not retrievable: %v", ErrOverlayUnavailable, err)
	}
	sel.RawImagePath = rawPath

	return sel, nil
}

// Render builds the selection, invokes the compositor and persists the
// composited overlay plus its per-finding images.
func (s *Selector) Render(ctx context.Context, tm *tempres.Manager, caseReq *datastore.CaseRequest, version string) error {
	if s.compositor == nil {
		s.metrics.RecordOverlayComposed("unavailable")
		return fmt.Errorf("%w: no compositor configured", ErrOverlayUnavailable)
	}

	sel, err := s.Build(tm, caseReq, version)
	if err != nil {
		if errors.Is(err, ErrOverlayUnavailable) {
			s.metrics.RecordOverlayComposed("unavailable")
		}
		return err
	}

	result, err := s.compositor.Compose(ctx, &ComposeRequest{
		HeatmapPaths:         sel.HeatmapPaths,
		LungMaskPath:         sel.LungMaskPath,
		RawImagePath:         sel.RawImagePath,
		ConfidenceScores:     sel.ConfidenceScores,
		FallbackHeatmapPaths: sel.FallbackHeatmapPaths,
		HeatmapSettings:      sel.HeatmapSettings,
		ConvexLungMaskPath:   sel.ConvexLungMaskPath,
		Version:              version,
	})
	if err != nil {
		s.metrics.RecordOverlayComposed("error")
		return err
	}

	overlayPath := fmt.Sprintf("overlays/%s/%s/overlay.png", caseReq.RequestID, version)
	ref, err := s.blobs.Save(overlayPath, result.Overlay)
	if err != nil {
		return err
	}
	err = s.store.UpsertOverlayHeatmap(&datastore.OverlayHeatmap{
		CaseRequestID: caseReq.ID,
		ModelVersion:  version,
		BlobPath:      string(ref),
		FileSize:      int64(len(result.Overlay)),
	})
	if err != nil {
		return err
	}

	for finding, data := range result.Findings {
		path := fmt.Sprintf("overlays/%s/%s/%s.png", caseReq.RequestID, version, slug(finding))
		ref, err := s.blobs.Save(path, data)
		if err != nil {
			return err
		}
		err = s.store.UpsertProcessedHeatmap(&datastore.ProcessedHeatmap{
			CaseRequestID: caseReq.ID,
			DiseaseName:   finding,
			ModelVersion:  version,
			BlobPath:      string(ref),
			FileSize:      int64(len(data)),
		})
		if err != nil {
			return err
		}
	}

	s.metrics.RecordOverlayComposed("success")
	s.log.Debug("overlay composed",
		"case", caseReq.RequestID, "version", version, "findings", len(result.Findings))
	return nil
}

func slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}
