package prediction

import (
	"context"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myinspectra/inspectra-go/internal/conf"
	"github.com/myinspectra/inspectra-go/internal/errors"
	"github.com/myinspectra/inspectra-go/internal/logging"
)

func TestMain(m *testing.M) {
	logging.Init(false)
	os.Exit(m.Run())
}

func setupHTTPMock(t *testing.T, client *Client) {
	t.Helper()
	httpmock.ActivateNonDefault(client.HTTPClient().HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
}

func testInput() *Input {
	return &Input{
		Bytes:       []byte("fake-png-bytes"),
		Filename:    "case.png",
		ContentType: "image/png",
		RequestID:   "4d9f2a1c-0000-0000-0000-000000000042",
	}
}

func testEndpoint(name string, serviceType conf.ServiceType) conf.EndpointConfig {
	return conf.EndpointConfig{
		Name:        name,
		ServiceType: serviceType,
		URL:         "http://inference.local/" + name,
		Active:      true,
	}
}

func TestClient_Call_PostsMultipartFileAndRequestID(t *testing.T) {
	client := NewClient(5 * time.Second)
	setupHTTPMock(t, client)

	in := testInput()
	endpoint := testEndpoint("abnormality", conf.ServiceAbnormality)

	httpmock.RegisterResponder(http.MethodPost, endpoint.URL,
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))

			assert.Equal(t, in.RequestID, req.FormValue("request_id"))

			file, header, err := req.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			assert.Equal(t, "case.png", header.Filename)
			assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
			uploaded, err := io.ReadAll(file)
			require.NoError(t, err)
			assert.Equal(t, in.Bytes, uploaded)

			return httpmock.NewStringResponse(http.StatusOK,
				`{"result":{"Nodule":{"prediction":0.62}}}`), nil
		})

	resp, err := client.Call(context.Background(), endpoint, in)

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, endpoint, resp.Endpoint)
	assert.JSONEq(t, `{"Nodule":{"prediction":0.62}}`, string(resp.Result))
}

func TestClient_Call_NonSuccessStatusIsError(t *testing.T) {
	client := NewClient(5 * time.Second)
	setupHTTPMock(t, client)

	endpoint := testEndpoint("tuberculosis", conf.ServiceTuberculosis)
	httpmock.RegisterResponder(http.MethodPost, endpoint.URL,
		httpmock.NewStringResponder(http.StatusInternalServerError, "model crashed"))

	resp, err := client.Call(context.Background(), endpoint, testInput())

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, errors.IsCategory(err, errors.CategoryEndpoint))
	assert.Contains(t, err.Error(), "status 500")
}

func TestClient_Call_NonJSONBodyIsError(t *testing.T) {
	client := NewClient(5 * time.Second)
	setupHTTPMock(t, client)

	endpoint := testEndpoint("abnormality", conf.ServiceAbnormality)
	httpmock.RegisterResponder(http.MethodPost, endpoint.URL,
		httpmock.NewStringResponder(http.StatusOK, "<html>gateway timeout</html>"))

	_, err := client.Call(context.Background(), endpoint, testInput())

	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryEndpoint))
}

func TestClient_Call_MissingResultObjectIsError(t *testing.T) {
	client := NewClient(5 * time.Second)
	setupHTTPMock(t, client)

	endpoint := testEndpoint("abnormality", conf.ServiceAbnormality)
	httpmock.RegisterResponder(http.MethodPost, endpoint.URL,
		httpmock.NewStringResponder(http.StatusOK, `{"status":"ok"}`))

	_, err := client.Call(context.Background(), endpoint, testInput())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no result object")
}

func TestClient_Call_ConnectionErrorIsError(t *testing.T) {
	client := NewClient(time.Second)
	setupHTTPMock(t, client)

	// No responder registered: httpmock returns a connection error.
	endpoint := testEndpoint("abnormality", conf.ServiceAbnormality)

	_, err := client.Call(context.Background(), endpoint, testInput())

	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryEndpoint))
}
