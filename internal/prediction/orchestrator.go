package prediction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/myinspectra/inspectra-go/internal/conf"
	"github.com/myinspectra/inspectra-go/internal/logging"
	"github.com/myinspectra/inspectra-go/internal/observability"
)

// Outcome is the result of one fan-out task: either a response or an error,
// never both.
type Outcome struct {
	Endpoint conf.EndpointConfig
	Response *Response
	Err      error
}

// Orchestrator fans an image out to every active endpoint of a profile. One
// failing or timed out endpoint never cancels or affects its siblings, and no
// ordering is guaranteed among responses.
type Orchestrator struct {
	client  *Client
	metrics *observability.PipelineMetrics
	log     *slog.Logger
}

// NewOrchestrator creates an orchestrator around the given client. metrics may
// be nil.
func NewOrchestrator(client *Client, metrics *observability.PipelineMetrics) *Orchestrator {
	return &Orchestrator{
		client:  client,
		metrics: metrics,
		log:     logging.ForService("prediction"),
	}
}

// FanOut runs one concurrent task per active endpoint of the profile and
// collects all outcomes, keyed by service type. The input is shared read-only
// across tasks.
func (o *Orchestrator) FanOut(ctx context.Context, profile conf.ProfileConfig, in *Input) map[conf.ServiceType]Outcome {
	endpoints := profile.ActiveEndpoints()
	outcomes := make(map[conf.ServiceType]Outcome, len(endpoints))
	if len(endpoints) == 0 {
		return outcomes
	}

	started := time.Now()
	results := make(chan Outcome, len(endpoints))
	var wg sync.WaitGroup
	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep conf.EndpointConfig) {
			defer wg.Done()
			resp, err := o.client.Call(ctx, ep, in)
			results <- Outcome{Endpoint: ep, Response: resp, Err: err}
		}(ep)
	}
	wg.Wait()
	close(results)

	for outcome := range results {
		serviceType := outcome.Endpoint.ServiceType
		if outcome.Err != nil {
			o.metrics.RecordEndpointRequest(string(serviceType), "error")
			o.log.Warn("endpoint call failed",
				"endpoint", outcome.Endpoint.Name,
				"service_type", serviceType,
				"error", outcome.Err)
		} else {
			o.metrics.RecordEndpointRequest(string(serviceType), "success")
		}
		outcomes[serviceType] = outcome
	}

	o.metrics.RecordFanOutDuration(profile.Version, time.Since(started).Seconds())
	o.log.Debug("fan-out complete",
		"version", profile.Version,
		"endpoints", len(endpoints),
		"duration", time.Since(started))
	return outcomes
}
