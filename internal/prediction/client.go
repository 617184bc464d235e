// Package prediction calls the inference microservices: one isolated call per
// endpoint, and a concurrent fan-out across every active endpoint of a profile.
package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/myinspectra/inspectra-go/internal/conf"
	"github.com/myinspectra/inspectra-go/internal/errors"
	"github.com/myinspectra/inspectra-go/internal/httpclient"
	"github.com/myinspectra/inspectra-go/internal/logging"
)

// Input is the read-only image payload shared by all fan-out tasks.
type Input struct {
	Bytes       []byte
	Filename    string
	ContentType string
	RequestID   string
}

// Response is one successfully parsed endpoint response.
type Response struct {
	Endpoint conf.EndpointConfig
	Result   json.RawMessage // the "result" object, shape depends on service type
}

// Client performs one isolated call to one inference endpoint. Any network,
// non-2xx or non-JSON outcome becomes an error value, never a panic.
type Client struct {
	http *httpclient.Client
	log  *slog.Logger
}

// NewClient creates a prediction client with the given per-call timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = httpclient.DefaultTimeout
	}
	return &Client{
		http: httpclient.New(&httpclient.Config{DefaultTimeout: timeout}),
		log:  logging.ForService("prediction"),
	}
}

// HTTPClient exposes the underlying client for test transports.
func (c *Client) HTTPClient() *httpclient.Client {
	return c.http
}

func quoteEscape(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}

// encodeMultipart builds the multipart body {file, request_id} of one call.
func encodeMultipart(in *Input) (body *bytes.Buffer, contentType string, err error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscape(in.Filename)))
	if in.ContentType != "" {
		header.Set("Content-Type", in.ContentType)
	}
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("creating multipart file part: %w", err)
	}
	if _, err := part.Write(in.Bytes); err != nil {
		return nil, "", fmt.Errorf("writing multipart file part: %w", err)
	}

	if err := w.WriteField("request_id", in.RequestID); err != nil {
		return nil, "", fmt.Errorf("writing request_id field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

// Call posts the image to one endpoint and parses its JSON envelope.
func (c *Client) Call(ctx context.Context, endpoint conf.EndpointConfig, in *Input) (*Response, error) {
	body, contentType, err := encodeMultipart(in)
	if err != nil {
		return nil, errors.New(err).
			Component("prediction").
			Category(errors.CategoryEndpoint).
			Context("endpoint", endpoint.Name).
			Build()
	}

	resp, err := c.http.Post(ctx, endpoint.URL, contentType, body)
	if err != nil {
		return nil, errors.New(fmt.Errorf("calling %s: %w", endpoint.Name, err)).
			Component("prediction").
			Category(errors.CategoryEndpoint).
			Context("url", endpoint.URL).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.Newf("endpoint %s returned status %d", endpoint.Name, resp.StatusCode).
			Component("prediction").
			Category(errors.CategoryEndpoint).
			Context("url", endpoint.URL).
			Context("status", resp.StatusCode).
			Build()
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading response from %s: %w", endpoint.Name, err)).
			Component("prediction").
			Category(errors.CategoryEndpoint).
			Build()
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errors.New(fmt.Errorf("endpoint %s returned non-JSON body: %w", endpoint.Name, err)).
			Component("prediction").
			Category(errors.CategoryEndpoint).
			Build()
	}
	if len(envelope.Result) == 0 {
		return nil, errors.Newf("endpoint %s response has no result object", endpoint.Name).
			Component("prediction").
			Category(errors.CategoryEndpoint).
			Build()
	}

	return &Response{Endpoint: endpoint, Result: envelope.Result}, nil
}
