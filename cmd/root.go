// Package cmd wires the CLI commands of inspectra-go.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/myinspectra/inspectra-go/cmd/endpoints"
	"github.com/myinspectra/inspectra-go/cmd/process"
	"github.com/myinspectra/inspectra-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "inspectra",
		Short: "Inspectra-Go chest radiograph screening pipeline",
	}

	rootCmd.PersistentFlags().BoolVar(&settings.Debug, "debug", settings.Debug, "Enable debug output")

	rootCmd.AddCommand(
		process.Command(settings),
		endpoints.Command(settings),
	)

	return rootCmd
}
