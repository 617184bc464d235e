// Package pipeline drives the end-to-end processing of one case: normalize,
// fan out, aggregate and composite, once per configured version profile.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/myinspectra/inspectra-go/internal/aggregate"
	"github.com/myinspectra/inspectra-go/internal/conf"
	"github.com/myinspectra/inspectra-go/internal/datastore"
	"github.com/myinspectra/inspectra-go/internal/errors"
	"github.com/myinspectra/inspectra-go/internal/logging"
	"github.com/myinspectra/inspectra-go/internal/observability"
	"github.com/myinspectra/inspectra-go/internal/overlay"
	"github.com/myinspectra/inspectra-go/internal/prediction"
	"github.com/myinspectra/inspectra-go/internal/tempres"
)

// Result is the outcome of one profile's workflow run. Stage failures are
// accumulated as diagnostics rather than raised; only fatal persistence
// failures surface as errors.
type Result struct {
	Success bool
	Errors  []string
}

// Workflow sequences fan-out, aggregation and overlay composition for one
// profile and reports success or failure without raising.
type Workflow struct {
	orchestrator *prediction.Orchestrator
	aggregator   *aggregate.Aggregator
	selector     *overlay.Selector
	metrics      *observability.PipelineMetrics
	log          *slog.Logger
}

// NewWorkflow wires the three pipeline stages together. metrics may be nil.
func NewWorkflow(
	orchestrator *prediction.Orchestrator,
	aggregator *aggregate.Aggregator,
	selector *overlay.Selector,
	metrics *observability.PipelineMetrics,
) *Workflow {
	return &Workflow{
		orchestrator: orchestrator,
		aggregator:   aggregator,
		selector:     selector,
		metrics:      metrics,
		log:          logging.ForService("pipeline"),
	}
}

// Run executes one profile's workflow. Every stage failure is appended to the
// diagnostics list; a profile producing no overlay still returns
// Success=false with accumulated diagnostics. The returned error is non-nil
// only for fatal persistence failures, since partial state cannot be safely
// assumed then.
func (w *Workflow) Run(ctx context.Context, caseReq *datastore.CaseRequest, profile conf.ProfileConfig, in *prediction.Input) (Result, error) {
	tm := tempres.NewManager()
	defer tm.Release()

	var diags []string

	outcomes := w.orchestrator.FanOut(ctx, profile, in)
	if len(outcomes) == 0 {
		diags = append(diags, "profile "+profile.Version+" has no active endpoints")
	}
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			diags = append(diags, outcome.Err.Error())
			continue
		}
		if err := w.aggregator.Aggregate(caseReq, profile.Version, outcome.Response); err != nil {
			if errors.IsCategory(err, errors.CategoryDatabase) {
				w.metrics.RecordWorkflowRun(profile.Version, "error")
				return Result{Success: false, Errors: append(diags, err.Error())}, err
			}
			diags = append(diags, err.Error())
		}
	}

	if err := w.selector.Render(ctx, tm, caseReq, profile.Version); err != nil {
		if errors.IsCategory(err, errors.CategoryDatabase) {
			w.metrics.RecordWorkflowRun(profile.Version, "error")
			return Result{Success: false, Errors: append(diags, err.Error())}, err
		}
		diags = append(diags, err.Error())
	}

	success := len(diags) == 0
	if success {
		w.metrics.RecordWorkflowRun(profile.Version, "success")
	} else {
		w.metrics.RecordWorkflowRun(profile.Version, "failure")
		w.log.Warn("workflow finished with diagnostics",
			"case", caseReq.RequestID, "version", profile.Version, "diagnostics", diags)
	}
	return Result{Success: success, Errors: diags}, nil
}
