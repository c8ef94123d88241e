package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/decision-engine/optimization"
)

func newSeedCmd(load loader) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the simulated demo plant into the database as live data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return fmt.Errorf("--tenant is required")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			stats, err := a.plant.Seed(ctx, optimization.TenantID(tenant), a.store)
			if err != nil {
				return err
			}
			a.log.Info("demo plant seeded", "tenant_id", tenant,
				"assets", stats.Assets, "snapshots", stats.Snapshots, "cost_models", stats.CostModels)
			fmt.Fprintf(cmd.OutOrStdout(), "seeded tenant %s: %d assets, %d snapshots, %d cost models\n",
				tenant, stats.Assets, stats.Snapshots, stats.CostModels)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant to seed (required)")
	return cmd
}
