// Package process implements the command running one case through the
// screening pipeline.
package process

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/myinspectra/inspectra-go/internal/aggregate"
	"github.com/myinspectra/inspectra-go/internal/blobstore"
	"github.com/myinspectra/inspectra-go/internal/conf"
	"github.com/myinspectra/inspectra-go/internal/datastore"
	"github.com/myinspectra/inspectra-go/internal/observability"
	"github.com/myinspectra/inspectra-go/internal/overlay"
	"github.com/myinspectra/inspectra-go/internal/pipeline"
	"github.com/myinspectra/inspectra-go/internal/prediction"
)

// Command creates the process command.
func Command(settings *conf.Settings) *cobra.Command {
	var versions []string

	cmd := &cobra.Command{
		Use:   "process [file]",
		Short: "Run one radiograph or DICOM study through the screening pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, settings, args[0], versions)
		},
	}

	cmd.Flags().StringSliceVar(&versions, "version", nil,
		"Profile version tag to run (repeatable, default: all active profiles)")
	return cmd
}

func runProcess(cmd *cobra.Command, settings *conf.Settings, filePath string, versions []string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading input file: %w", err)
	}

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database configured")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	blobs, err := blobstore.NewFileStore(settings.Media.BasePath)
	if err != nil {
		return err
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	var compositor overlay.Compositor
	if settings.Compositor.URL != "" {
		compositor = overlay.NewRemoteCompositor(settings.Compositor.URL, settings.Compositor.Timeout)
	}

	client := prediction.NewClient(settings.Inference.Timeout)
	orchestrator := prediction.NewOrchestrator(client, metrics.Pipeline)
	aggregator := aggregate.New(store, blobs, metrics.Pipeline)
	selector := overlay.NewSelector(store, blobs, compositor, settings.Overlay.Settings, metrics.Pipeline)
	workflow := pipeline.NewWorkflow(orchestrator, aggregator, selector, metrics.Pipeline)
	p := pipeline.New(settings, store, blobs, workflow)

	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	requestID := uuid.NewString()
	report, err := p.Process(cmd.Context(), requestID, &pipeline.Upload{
		Bytes:       data,
		Filename:    filepath.Base(filePath),
		ContentType: contentType,
	}, versions...)
	if err != nil {
		return err
	}

	fmt.Printf("case %s processed, success=%v\n", requestID, report.Success)
	for version, result := range report.Profiles {
		fmt.Printf("  profile %s: success=%v\n", version, result.Success)
		for _, diag := range result.Errors {
			fmt.Printf("    - %s\n", diag)
		}
	}
	return nil
}
