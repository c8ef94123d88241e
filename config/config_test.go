package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/decision-engine/optimization"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decision-engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "decision-engine.db", cfg.Database.Path)
	assert.True(t, cfg.Engine.Enabled)
	assert.False(t, cfg.Engine.Simulated)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.SolverTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.StaleAfter)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)

	// the engine sees exactly its built-in defaults
	assert.Equal(t, optimization.DefaultScoringWeights(), cfg.Weights())
	d := cfg.EngineDefaults()
	def := optimization.DefaultEngineDefaults()
	assert.Equal(t, def.DeferralWindows, d.DeferralWindows)
	assert.Equal(t, def.Escalation, d.Escalation)
	assert.True(t, def.LabourRate.Amount.Equal(d.LabourRate.Amount))
	assert.Equal(t, def.LabourRate.Currency, d.LabourRate.Currency)
	assert.Equal(t, def.DeferralRiskCeiling, d.DeferralRiskCeiling)
	assert.Equal(t, def.MeanDowntimeHours, d.MeanDowntimeHours)
	assert.Equal(t, def.OvertimePremium, d.OvertimePremium)
}

func TestLoad_ExplicitZerosReachTheEngine(t *testing.T) {
	// GIVEN: a tenant that tolerates no added risk and pays no overtime premium
	path := writeConfig(t, `
deferral:
  risk_ceiling: 0
  mean_downtime_hours: 0
dispatch:
  overtime_premium: 0
`)

	// WHEN: loading
	cfg, err := Load(path)
	require.NoError(t, err)
	d := cfg.EngineDefaults()

	// THEN: the zeros are kept rather than replaced by built-in defaults
	require.NotNil(t, d.DeferralRiskCeiling)
	require.NotNil(t, d.MeanDowntimeHours)
	require.NotNil(t, d.OvertimePremium)
	assert.Zero(t, *d.DeferralRiskCeiling)
	assert.Zero(t, *d.MeanDowntimeHours)
	assert.Zero(t, *d.OvertimePremium)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
http:
  port: 9090
database:
  path: /var/lib/engine.db
engine:
  simulated: true
deferral:
  windows: [0, 3, 10]
  escalation: exponential
  rate_per_day: 0.02
dispatch:
  solver_timeout: 500ms
  labour_rate: 95.5
  currency: USD
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "/var/lib/engine.db", cfg.Database.Path)
	assert.True(t, cfg.Engine.Simulated)
	assert.True(t, cfg.Engine.Enabled, "unset keys keep their defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.Dispatch.SolverTimeout)

	d := cfg.EngineDefaults()
	assert.Equal(t, []int{0, 3, 10}, d.DeferralWindows)
	assert.Equal(t, "exponential", d.Escalation.Type)
	assert.InDelta(t, 0.02, d.Escalation.HazardPerDay, 1e-12)
	assert.Zero(t, d.Escalation.RatePerDay)
	assert.Equal(t, "95.5", d.LabourRate.Amount.String())
	assert.Equal(t, "USD", d.LabourRate.Currency)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// GIVEN: a file and env vars setting the same keys
	path := writeConfig(t, "engine:\n  enabled: true\nhttp:\n  port: 9090\n")
	t.Setenv("DECISION_ENGINE_ENGINE_ENABLED", "false")
	t.Setenv("DECISION_ENGINE_HTTP_PORT", "7070")
	t.Setenv("DECISION_ENGINE_SCHEDULER_INTERVAL", "5m")

	// WHEN: loading
	cfg, err := Load(path)
	require.NoError(t, err)

	// THEN: env wins
	assert.False(t, cfg.Engine.Enabled)
	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	assert.False(t, cfg.Flags().EngineEnabled)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cases := map[string]string{
		"port out of range":  "http:\n  port: 70000\n",
		"negative weight":    "scoring:\n  health_weight: -1\n",
		"unknown curve":      "deferral:\n  escalation: quadratic\n",
		"unknown exporter":   "telemetry:\n  exporter: zipkin\n",
		"zero solver budget": "dispatch:\n  solver_timeout: 0s\n",
		"empty database":     "database:\n  path: \"\"\n",
		"negative ceiling":   "deferral:\n  risk_ceiling: -0.1\n",
		"negative premium":   "dispatch:\n  overtime_premium: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestConfig_Tracing(t *testing.T) {
	t.Setenv("DECISION_ENGINE_TELEMETRY_EXPORTER", "otlphttp")
	t.Setenv("DECISION_ENGINE_TELEMETRY_ENDPOINT", "collector:4318")

	cfg, err := Load("")
	require.NoError(t, err)

	tc := cfg.Tracing()
	assert.Equal(t, "otlphttp", tc.Exporter)
	assert.Equal(t, "collector:4318", tc.Endpoint)
	assert.InDelta(t, 1.0, tc.SampleRatio, 1e-12)
}
