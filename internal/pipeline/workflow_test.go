package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myinspectra/inspectra-go/internal/aggregate"
	"github.com/myinspectra/inspectra-go/internal/conf"
	"github.com/myinspectra/inspectra-go/internal/errors"
	"github.com/myinspectra/inspectra-go/internal/logging"
	"github.com/myinspectra/inspectra-go/internal/overlay"
	"github.com/myinspectra/inspectra-go/internal/prediction"
	"github.com/myinspectra/inspectra-go/internal/testutil"
)

func TestMain(m *testing.M) {
	logging.Init(false)
	os.Exit(m.Run())
}

// okCompositor returns a fixed overlay for any request.
type okCompositor struct{}

func (okCompositor) Compose(_ context.Context, _ *overlay.ComposeRequest) (*overlay.ComposeResult, error) {
	return &overlay.ComposeResult{Overlay: []byte("composite")}, nil
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 32))))
	return buf.Bytes()
}

func testSettings(endpoints ...conf.EndpointConfig) *conf.Settings {
	settings := &conf.Settings{}
	settings.Inference.Timeout = 5 * time.Second
	settings.Inference.Profiles = []conf.ProfileConfig{{
		Name:      "standard",
		Version:   "v2",
		Active:    true,
		Endpoints: endpoints,
	}}
	return settings
}

type harness struct {
	store    *testutil.Store
	blobs    *testutil.BlobStore
	pipeline *Pipeline
}

func newHarness(t *testing.T, settings *conf.Settings, compositor overlay.Compositor) *harness {
	t.Helper()
	store := testutil.NewStore()
	blobs := testutil.NewBlobStore()

	client := prediction.NewClient(settings.Inference.Timeout)
	httpmock.ActivateNonDefault(client.HTTPClient().HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	orchestrator := prediction.NewOrchestrator(client, nil)
	aggregator := aggregate.New(store, blobs, nil)
	selector := overlay.NewSelector(store, blobs, compositor, settings.Overlay.Settings, nil)
	workflow := NewWorkflow(orchestrator, aggregator, selector, nil)
	return &harness{
		store:    store,
		blobs:    blobs,
		pipeline: New(settings, store, blobs, workflow),
	}
}

func classifierEndpoint() conf.EndpointConfig {
	return conf.EndpointConfig{
		Name:        "abnormality",
		ServiceType: conf.ServiceAbnormality,
		URL:         "http://inference.local/abnormality",
		Active:      true,
	}
}

func segmenterEndpoint() conf.EndpointConfig {
	return conf.EndpointConfig{
		Name:        "lung",
		ServiceType: conf.ServiceLungSegmentation,
		URL:         "http://inference.local/lung",
		Active:      true,
	}
}

func TestProcess_FullCaseSucceeds(t *testing.T) {
	maskB64 := base64.StdEncoding.EncodeToString(testPNG(t))
	h := newHarness(t, testSettings(classifierEndpoint(), segmenterEndpoint()), okCompositor{})

	httpmock.RegisterResponder(http.MethodPost, "http://inference.local/abnormality",
		httpmock.NewStringResponder(http.StatusOK,
			`{"result":{"Nodule":{"prediction":0.62,"balanced_score":0.6,"thresholded":"62%"}}}`))
	httpmock.RegisterResponder(http.MethodPost, "http://inference.local/lung",
		httpmock.NewStringResponder(http.StatusOK,
			`{"result":{"heatmap":{"Lung":"`+maskB64+`"}}}`))

	report, err := h.pipeline.Process(context.Background(), "req-1",
		&Upload{Bytes: testPNG(t), Filename: "chest.png", ContentType: "image/png"})

	require.NoError(t, err)
	assert.True(t, report.Success)
	require.Contains(t, report.Profiles, "v2")
	assert.True(t, report.Profiles["v2"].Success)
	assert.Empty(t, report.Profiles["v2"].Errors)

	caseReq, err := h.store.GetCaseRequest("req-1")
	require.NoError(t, err)
	assert.True(t, caseReq.SuccessUpload)
	assert.True(t, caseReq.SuccessProcess)

	predictions, err := h.store.GetPredictions(caseReq.ID, "v2")
	require.NoError(t, err)
	require.Len(t, predictions, 1)
	assert.Equal(t, "Nodule", predictions[0].DiseaseName)

	saved, err := h.store.GetOverlayHeatmap(caseReq.ID, "v2")
	require.NoError(t, err)
	assert.Equal(t, int64(len("composite")), saved.FileSize)

	// The raw image keeps its dimensions for the record.
	raw, err := h.store.GetRawImage(caseReq.ID)
	require.NoError(t, err)
	assert.Equal(t, 32, raw.Width)
	assert.Equal(t, 32, raw.Height)
}

func TestProcess_MissingLungMaskFailsCaseWithoutRaising(t *testing.T) {
	h := newHarness(t, testSettings(classifierEndpoint()), okCompositor{})

	httpmock.RegisterResponder(http.MethodPost, "http://inference.local/abnormality",
		httpmock.NewStringResponder(http.StatusOK,
			`{"result":{"Nodule":{"prediction":0.62,"thresholded":"62%"}}}`))

	report, err := h.pipeline.Process(context.Background(), "req-1",
		&Upload{Bytes: testPNG(t), Filename: "chest.png", ContentType: "image/png"})

	require.NoError(t, err, "a missing overlay is a diagnostic, not a fatal error")
	assert.False(t, report.Success)
	result := report.Profiles["v2"]
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "overlay unavailable")

	// Predictions survive the failed composition.
	caseReq, err := h.store.GetCaseRequest("req-1")
	require.NoError(t, err)
	predictions, err := h.store.GetPredictions(caseReq.ID, "v2")
	require.NoError(t, err)
	assert.Len(t, predictions, 1)
	assert.False(t, caseReq.SuccessProcess)
}

func TestProcess_EndpointFailureBecomesDiagnostic(t *testing.T) {
	maskB64 := base64.StdEncoding.EncodeToString(testPNG(t))
	h := newHarness(t, testSettings(classifierEndpoint(), segmenterEndpoint()), okCompositor{})

	httpmock.RegisterResponder(http.MethodPost, "http://inference.local/abnormality",
		httpmock.NewStringResponder(http.StatusInternalServerError, "model crashed"))
	httpmock.RegisterResponder(http.MethodPost, "http://inference.local/lung",
		httpmock.NewStringResponder(http.StatusOK,
			`{"result":{"heatmap":{"Lung":"`+maskB64+`"}}}`))

	report, err := h.pipeline.Process(context.Background(), "req-1",
		&Upload{Bytes: testPNG(t), Filename: "chest.png", ContentType: "image/png"})

	require.NoError(t, err)
	assert.False(t, report.Success)
	result := report.Profiles["v2"]
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "status 500")

	// The surviving segmentation outcome is still aggregated.
	caseReq, err := h.store.GetCaseRequest("req-1")
	require.NoError(t, err)
	masks, err := h.store.GetSegmentationMasks(caseReq.ID, "v2")
	require.NoError(t, err)
	assert.Len(t, masks, 1)
}

func TestProcess_PersistenceFailureIsFatal(t *testing.T) {
	h := newHarness(t, testSettings(classifierEndpoint()), okCompositor{})

	httpmock.RegisterResponder(http.MethodPost, "http://inference.local/abnormality",
		httpmock.NewStringResponder(http.StatusOK,
			`{"result":{"Nodule":{"prediction":0.62}}}`))

	// A store going down propagates as a fatal error instead of being
	// swallowed as a diagnostic.
	h.store.FailWith = errors.Newf("connection refused").
		Component("datastore").
		Category(errors.CategoryDatabase).
		Build()

	_, err := h.pipeline.Process(context.Background(), "req-2",
		&Upload{Bytes: testPNG(t), Filename: "chest.png", ContentType: "image/png"})

	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}

func TestProcess_UnknownVersionIsError(t *testing.T) {
	h := newHarness(t, testSettings(classifierEndpoint()), okCompositor{})

	_, err := h.pipeline.Process(context.Background(), "req-1",
		&Upload{Bytes: testPNG(t), Filename: "chest.png", ContentType: "image/png"}, "v9")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no profile configured")
}

func TestProcess_MalformedDicomIsFatal(t *testing.T) {
	h := newHarness(t, testSettings(classifierEndpoint()), okCompositor{})

	corrupt := make([]byte, 200)
	copy(corrupt[128:], "DICM")

	_, err := h.pipeline.Process(context.Background(), "req-1",
		&Upload{Bytes: corrupt, Filename: "study.dcm", ContentType: "application/dicom"})

	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDicomDecode))
	assert.Zero(t, httpmock.GetTotalCallCount(), "no fan-out for an undecodable study")
}
