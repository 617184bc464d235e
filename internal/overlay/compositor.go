package overlay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/myinspectra/inspectra-go/internal/conf"
	"github.com/myinspectra/inspectra-go/internal/errors"
	"github.com/myinspectra/inspectra-go/internal/httpclient"
)

// ComposeRequest carries the selected artifacts into the compositor.
type ComposeRequest struct {
	HeatmapPaths         map[string]string              `json:"heatmap_paths"`
	LungMaskPath         string                         `json:"lung_mask_path"`
	RawImagePath         string                         `json:"raw_image_path"`
	ConfidenceScores     map[string]float64             `json:"confidence_scores"`
	FallbackHeatmapPaths map[string]string              `json:"fallback_heatmap_paths,omitempty"`
	HeatmapSettings      map[string]conf.HeatmapSetting `json:"heatmap_settings"`
	ConvexLungMaskPath   string                         `json:"convex_lung_mask_path,omitempty"`
	Version              string                         `json:"version"`
}

// ComposeResult is one composed image plus per-finding composed images.
type ComposeResult struct {
	Overlay  []byte
	Findings map[string][]byte
}

// Compositor is the opaque compose capability. The pixel-level math lives
// outside this module.
type Compositor interface {
	Compose(ctx context.Context, req *ComposeRequest) (*ComposeResult, error)
}

// RemoteCompositor invokes a compositor service over HTTP.
type RemoteCompositor struct {
	url  string
	http *httpclient.Client
}

// NewRemoteCompositor creates a compositor client for the given service URL.
func NewRemoteCompositor(url string, timeout time.Duration) *RemoteCompositor {
	return &RemoteCompositor{
		url:  url,
		http: httpclient.New(&httpclient.Config{DefaultTimeout: timeout}),
	}
}

// HTTPClient exposes the underlying client for test transports.
func (rc *RemoteCompositor) HTTPClient() *httpclient.Client {
	return rc.http
}

// Compose posts the compose request as JSON and decodes the base64 images of
// the response.
func (rc *RemoteCompositor) Compose(ctx context.Context, req *ComposeRequest) (*ComposeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.New(fmt.Errorf("encoding compose request: %w", err)).
			Component("overlay").
			Category(errors.CategoryOverlay).
			Build()
	}

	resp, err := rc.http.Post(ctx, rc.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(fmt.Errorf("calling compositor: %w", err)).
			Component("overlay").
			Category(errors.CategoryOverlay).
			Context("url", rc.url).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.Newf("compositor returned status %d", resp.StatusCode).
			Component("overlay").
			Category(errors.CategoryOverlay).
			Context("url", rc.url).
			Build()
	}

	var payload struct {
		Overlay  string            `json:"overlay"`
		Findings map[string]string `json:"findings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.New(fmt.Errorf("decoding compositor response: %w", err)).
			Component("overlay").
			Category(errors.CategoryOverlay).
			Build()
	}

	overlay, err := base64.StdEncoding.DecodeString(payload.Overlay)
	if err != nil {
		return nil, errors.New(fmt.Errorf("decoding composed overlay: %w", err)).
			Component("overlay").
			Category(errors.CategoryOverlay).
			Build()
	}

	result := &ComposeResult{
		Overlay:  overlay,
		Findings: make(map[string][]byte, len(payload.Findings)),
	}
	for finding, b64 := range payload.Findings {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, errors.New(fmt.Errorf("decoding composed image for %s: %w", finding, err)).
				Component("overlay").
				Category(errors.CategoryOverlay).
				Build()
		}
		result.Findings[finding] = data
	}
	return result, nil
}
