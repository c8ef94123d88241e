/*
main.go - Application entry point

PURPOSE:
  The decision-engine binary. Serves the optimization API, runs a single
  optimization from the command line, or seeds the demo plant.

COMMANDS:
  serve                    Start the HTTP API with graceful shutdown
  run <type> --tenant ...  Execute one run against the configured database
  seed --tenant ...        Copy the simulated demo plant into the database

CONFIGURATION:
  Defaults, then --config file (YAML), then DECISION_ENGINE_* environment
  variables, then flags. See config/config.go for every key.

  --config     YAML config file
  --db         SQLite database path (database.path); ":memory:" for tests
  --log-level  debug, info, warn, error (log.level)
  --port       HTTP port, serve only (http.port)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the priority refresh scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (http.shutdown_timeout)
  4. Flush telemetry and close the database

EXAMPLES:
  decision-engine seed --tenant acme --db ./data/engine.db
  decision-engine run deferral_cost --tenant acme --params params.json
  DECISION_ENGINE_ENGINE_SIMULATED=true decision-engine serve --port 3000

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: configuration keys
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/warp/decision-engine/config"
	"github.com/warp/decision-engine/logger"
	"github.com/warp/decision-engine/observability"
	"github.com/warp/decision-engine/optimization"
	"github.com/warp/decision-engine/simulated"
	"github.com/warp/decision-engine/store/sqlite"
)

const serviceName = "decision-engine"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loader resolves the configuration once flags have been parsed.
type loader func() (*config.Config, error)

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	root := &cobra.Command{
		Use:   serviceName,
		Short: "Decision-optimization engine for maintenance planning",
		Long: `decision-engine turns asset health scores and cost models into ranked,
costed maintenance recommendations.

It prioritises maintenance, prices deferral windows, selects which assets to
service to cut production risk, and dispatches technicians over a planning
horizon. Every run is persisted with its scenarios and recommendations for
human review.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "YAML config file")
	flags.String("db", "", "SQLite database path (default decision-engine.db)")
	flags.String("log-level", "", "log level: debug, info, warn, error (default info)")
	v.BindPFlag("database.path", flags.Lookup("db"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))

	load := func() (*config.Config, error) {
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
			}
		}
		return config.FromViper(v)
	}

	root.AddCommand(newServeCmd(v, load), newRunCmd(load), newSeedCmd(load))
	return root
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *sqlite.Store
	plant  *simulated.Provider
	engine *optimization.Engine

	closers []func(context.Context) error
}

// newApp opens the store and builds the engine. observer may be nil.
func newApp(ctx context.Context, cfg *config.Config, observer optimization.RunObserver) (*app, error) {
	log := logger.New(cfg.Log.Level).With("service", serviceName)
	slog.SetDefault(log)

	a := &app{cfg: cfg, log: log}

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.Tracing())
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	st, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	a.store = st
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })

	if a.plant, err = simulated.New(); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.engine, err = optimization.NewEngine(optimization.EngineConfig{
		Live:            st,
		Simulated:       a.plant,
		Runs:            st,
		Recommendations: st,
		Flags:           optimization.LayeredFlags{Defaults: optimization.FeatureFlags(cfg.Flags()), Overrides: st},
		Weights:         cfg.Weights(),
		Defaults:        cfg.EngineDefaults(),
		SolverTimeout:   cfg.Dispatch.SolverTimeout,
		Logger:          log,
		Observer:        observer,
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// bindFlag binds a command-local flag into v under key.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	v.BindPFlag(key, cmd.Flags().Lookup(flag))
}
