package overlay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myinspectra/inspectra-go/internal/errors"
)

const compositorURL = "http://compositor.local/compose"

func newMockedCompositor(t *testing.T) *RemoteCompositor {
	t.Helper()
	rc := NewRemoteCompositor(compositorURL, 5*time.Second)
	httpmock.ActivateNonDefault(rc.HTTPClient().HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return rc
}

func TestRemoteCompositor_Compose_DecodesResponse(t *testing.T) {
	rc := newMockedCompositor(t)

	var received ComposeRequest
	httpmock.RegisterResponder(http.MethodPost, compositorURL,
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&received))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"overlay": base64.StdEncoding.EncodeToString([]byte("composite")),
				"findings": map[string]string{
					"Nodule": base64.StdEncoding.EncodeToString([]byte("nodule-img")),
				},
			})
		})

	result, err := rc.Compose(context.Background(), &ComposeRequest{
		HeatmapPaths: map[string]string{"Nodule": "/tmp/nodule.png"},
		LungMaskPath: "/tmp/lung.png",
		RawImagePath: "/tmp/raw.png",
		Version:      "v2",
	})

	require.NoError(t, err)
	assert.Equal(t, []byte("composite"), result.Overlay)
	assert.Equal(t, []byte("nodule-img"), result.Findings["Nodule"])

	assert.Equal(t, "v2", received.Version)
	assert.Equal(t, "/tmp/lung.png", received.LungMaskPath)
	assert.Equal(t, "/tmp/nodule.png", received.HeatmapPaths["Nodule"])
}

func TestRemoteCompositor_Compose_ErrorStatus(t *testing.T) {
	rc := newMockedCompositor(t)
	httpmock.RegisterResponder(http.MethodPost, compositorURL,
		httpmock.NewStringResponder(http.StatusBadGateway, "down"))

	_, err := rc.Compose(context.Background(), &ComposeRequest{Version: "v2"})

	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryOverlay))
	assert.Contains(t, err.Error(), "status 502")
}

func TestRemoteCompositor_Compose_BadOverlayPayload(t *testing.T) {
	rc := newMockedCompositor(t)
	httpmock.RegisterResponder(http.MethodPost, compositorURL,
		httpmock.NewStringResponder(http.StatusOK, `{"overlay":"%%not-base64%%"}`))

	_, err := rc.Compose(context.Background(), &ComposeRequest{Version: "v2"})

	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryOverlay))
}
