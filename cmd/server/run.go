package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/decision-engine/api"
	"github.com/warp/decision-engine/factory"
	"github.com/warp/decision-engine/optimization"
)

func newRunCmd(load loader) *cobra.Command {
	var tenant, user, paramsFile string

	cmd := &cobra.Command{
		Use:   "run <optimization_type>",
		Short: "Execute one optimization run and print the result as JSON",
		Long: `Execute one optimization run against the configured database.

Types: maintenance_priority, deferral_cost, production_risk, workforce_dispatch

Parameters are read from --params (a JSON file, or "-" for stdin) using the
same schema as the API's "parameters" object.

Example:
  decision-engine run deferral_cost --tenant acme --params - <<< '{"deferral_days": 14}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return fmt.Errorf("--tenant is required")
			}
			runType, err := optimization.ParseRunType(args[0])
			if err != nil {
				return err
			}
			raw, err := readParams(cmd.InOrStdin(), paramsFile)
			if err != nil {
				return err
			}
			params, err := factory.ParseRunParams(runType, raw)
			if err != nil {
				return err
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

			res, err := a.engine.Execute(ctx, optimization.RunRequest{
				Tenant: optimization.TenantID(tenant),
				User:   optimization.UserID(user),
				Type:   runType,
				Params: params,
			})
			if err != nil {
				if res != nil {
					return fmt.Errorf("run %s failed: %w", res.Run.ID, err)
				}
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(api.NewRunResultResponse(res))
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant to run for (required)")
	cmd.Flags().StringVar(&user, "user", "cli", "user recorded as the run's creator")
	cmd.Flags().StringVar(&paramsFile, "params", "", `JSON parameters file, "-" for stdin`)
	return cmd
}

func readParams(stdin io.Reader, path string) (json.RawMessage, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}
	return b, nil
}
