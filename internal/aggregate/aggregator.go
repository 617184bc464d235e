// Package aggregate turns raw endpoint responses into normalized prediction
// and segmentation records, decoding and persisting the embedded images.
package aggregate

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"

	_ "image/jpeg" // embedded artifacts may arrive as JPEG

	"github.com/myinspectra/inspectra-go/internal/blobstore"
	"github.com/myinspectra/inspectra-go/internal/datastore"
	"github.com/myinspectra/inspectra-go/internal/errors"
	"github.com/myinspectra/inspectra-go/internal/logging"
	"github.com/myinspectra/inspectra-go/internal/observability"
	"github.com/myinspectra/inspectra-go/internal/prediction"
)

const (
	// defaultThresholded is stored when the endpoint omits the field.
	defaultThresholded = "0%"
)

// Aggregator persists one endpoint response into the datastore and blob store.
type Aggregator struct {
	store   datastore.Interface
	blobs   blobstore.Store
	metrics *observability.PipelineMetrics
	log     *slog.Logger
}

// New creates an aggregator. metrics may be nil.
func New(store datastore.Interface, blobs blobstore.Store, metrics *observability.PipelineMetrics) *Aggregator {
	return &Aggregator{
		store:   store,
		blobs:   blobs,
		metrics: metrics,
		log:     logging.ForService("aggregate"),
	}
}

// diseaseValues is the per-disease payload of a classification response.
// Pointers distinguish missing fields, which fall back to defaults.
type diseaseValues struct {
	Prediction    *float64 `json:"prediction"`
	BalancedScore *float64 `json:"balanced_score"`
	Thresholded   *string  `json:"thresholded"`
	Heatmap       string   `json:"heatmap"`
}

// segmentationResult is the payload of a segmentation response.
type segmentationResult struct {
	Heatmap map[string]string `json:"heatmap"`
}

// Aggregate dispatches one response by service type. A decode failure on one
// embedded image is logged and skipped, never aborting the remaining diseases
// or classes of the same response. Persistence failures are fatal and
// returned immediately.
func (a *Aggregator) Aggregate(caseReq *datastore.CaseRequest, version string, resp *prediction.Response) error {
	if resp.Endpoint.ServiceType.IsSegmentation() {
		return a.aggregateSegmentation(caseReq, version, resp)
	}
	return a.aggregateClassification(caseReq, version, resp)
}

func (a *Aggregator) aggregateClassification(caseReq *datastore.CaseRequest, version string, resp *prediction.Response) error {
	var result map[string]diseaseValues
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return errors.New(fmt.Errorf("malformed classification result from %s: %w", resp.Endpoint.Name, err)).
			Component("aggregate").
			Category(errors.CategoryAggregation).
			Build()
	}

	for disease, values := range result {
		p := &datastore.DiseasePrediction{
			CaseRequestID:         caseReq.ID,
			DiseaseName:           disease,
			ModelVersion:          version,
			ThresholdedPercentage: defaultThresholded,
		}
		if values.Prediction != nil {
			p.PredictionValue = *values.Prediction
		}
		if values.BalancedScore != nil {
			p.BalancedScore = *values.BalancedScore
		}
		if values.Thresholded != nil {
			p.ThresholdedPercentage = *values.Thresholded
		}

		saved, err := a.store.UpsertDiseasePrediction(p)
		if err != nil {
			return err
		}
		a.metrics.RecordAggregationArtifact("prediction", "success")

		if values.Heatmap == "" {
			continue
		}
		if err := a.saveHeatmap(caseReq, version, disease, saved.ID, values.Heatmap); err != nil {
			if errors.IsCategory(err, errors.CategoryDatabase) {
				return err
			}
			// Malformed artifact, skip it and keep the remaining diseases.
			a.metrics.RecordAggregationArtifact("heatmap", "error")
			a.log.Warn("skipping undecodable heatmap",
				"case", caseReq.RequestID, "disease", disease, "version", version, "error", err)
		} else {
			a.metrics.RecordAggregationArtifact("heatmap", "success")
		}
	}
	return nil
}

func (a *Aggregator) saveHeatmap(caseReq *datastore.CaseRequest, version, disease string, predictionID uint, payload string) error {
	decoded, img, encoded, err := decodeArtifact(payload)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("heatmaps/%s/%s/%s.png", caseReq.RequestID, version, slug(disease))
	ref, err := a.blobs.Save(path, encoded)
	if err != nil {
		return err
	}

	bounds := img.Bounds()
	return a.store.UpsertHeatmap(&datastore.Heatmap{
		DiseasePredictionID: predictionID,
		BlobPath:            string(ref),
		Width:               bounds.Dx(),
		Height:              bounds.Dy(),
		FileSize:            int64(len(decoded)),
	})
}

func (a *Aggregator) aggregateSegmentation(caseReq *datastore.CaseRequest, version string, resp *prediction.Response) error {
	var result segmentationResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return errors.New(fmt.Errorf("malformed segmentation result from %s: %w", resp.Endpoint.Name, err)).
			Component("aggregate").
			Category(errors.CategoryAggregation).
			Build()
	}

	for class, payload := range result.Heatmap {
		if payload == "" {
			continue
		}
		decoded, img, encoded, err := decodeArtifact(payload)
		if err != nil {
			a.metrics.RecordAggregationArtifact("mask", "error")
			a.log.Warn("skipping undecodable segmentation mask",
				"case", caseReq.RequestID, "class", class, "version", version, "error", err)
			continue
		}

		// Version-qualified path so concurrent profile runs never collide.
		path := fmt.Sprintf("masks/%s/%s/%s.png", caseReq.RequestID, version, slug(class))
		ref, err := a.blobs.Save(path, encoded)
		if err != nil {
			return err
		}

		bounds := img.Bounds()
		err = a.store.UpsertSegmentationMask(&datastore.SegmentationMask{
			CaseRequestID: caseReq.ID,
			ClassName:     class,
			ModelVersion:  version,
			BlobPath:      string(ref),
			Width:         bounds.Dx(),
			Height:        bounds.Dy(),
			FileSize:      int64(len(decoded)),
		})
		if err != nil {
			return err
		}
		a.metrics.RecordAggregationArtifact("mask", "success")
	}
	return nil
}

// decodeArtifact base64-decodes an embedded image and re-encodes it as PNG.
func decodeArtifact(payload string) (decoded []byte, img image.Image, encoded []byte, err error) {
	decoded, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, nil, nil, errors.New(fmt.Errorf("decoding base64 payload: %w", err)).
			Component("aggregate").
			Category(errors.CategoryImageDecode).
			Build()
	}
	img, _, err = image.Decode(bytes.NewReader(decoded))
	if err != nil {
		return nil, nil, nil, errors.New(fmt.Errorf("decoding embedded image: %w", err)).
			Component("aggregate").
			Category(errors.CategoryImageDecode).
			Build()
	}
	var buf bytes.Buffer
	if err = png.Encode(&buf, img); err != nil {
		return nil, nil, nil, errors.New(fmt.Errorf("re-encoding image: %w", err)).
			Component("aggregate").
			Category(errors.CategoryImageDecode).
			Build()
	}
	return decoded, img, buf.Bytes(), nil
}

// slug lowercases a finding name and replaces spaces for blob paths.
func slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}
