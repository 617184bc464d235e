// Package endpoints implements the command listing and syncing the configured
// inference endpoint profiles.
package endpoints

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/myinspectra/inspectra-go/internal/conf"
	"github.com/myinspectra/inspectra-go/internal/datastore"
)

// Command creates the endpoints command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "List configured endpoint profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range settings.Inference.Profiles {
				fmt.Printf("%s (%s) active=%v\n", p.Name, p.Version, p.Active)
				for _, ep := range p.Endpoints {
					fmt.Printf("  %-40s %-32s active=%v %s\n", ep.Name, ep.ServiceType, ep.Active, ep.URL)
				}
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Sync configured profiles into the database as reference records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(settings)
		},
	})
	return cmd
}

func runSync(settings *conf.Settings) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database configured")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	for _, p := range settings.Inference.Profiles {
		profile := &datastore.Profile{
			Name:    p.Name,
			Version: p.Version,
			Active:  p.Active,
		}
		for _, ep := range p.Endpoints {
			profile.Endpoints = append(profile.Endpoints, datastore.CXREndpoint{
				Name:        ep.Name,
				Version:     p.Version,
				ServiceType: string(ep.ServiceType),
				URL:         ep.URL,
				Active:      ep.Active,
			})
		}
		if err := store.SyncProfile(profile); err != nil {
			return err
		}
		fmt.Printf("synced profile %s with %d endpoints\n", p.Version, len(profile.Endpoints))
	}
	return nil
}
