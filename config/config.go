/*
Package config loads the decision engine's settings.

PRECEDENCE (lowest to highest):
  1. built-in defaults (SetDefault below)
  2. optional YAML file passed to Load
  3. environment variables prefixed DECISION_ENGINE_
     e.g. engine.enabled -> DECISION_ENGINE_ENGINE_ENABLED
  4. command-line flags bound by cmd/server

KEYS:
  http.port, http.shutdown_timeout, http.cors_origins
  database.path
  engine.enabled, engine.simulated
  scoring.health_weight, scoring.probability_weight, scoring.criticality_weight
  deferral.windows, deferral.escalation, deferral.rate_per_day, deferral.cap,
  deferral.mean_downtime_hours, deferral.risk_ceiling
  dispatch.solver_timeout, dispatch.labour_rate, dispatch.currency,
  dispatch.horizon_days, dispatch.overtime_factor, dispatch.overtime_premium
  ratelimit.rps, ratelimit.burst
  scheduler.enabled, scheduler.interval, scheduler.tenants, scheduler.stale_after
  log.level
  telemetry.exporter, telemetry.endpoint, telemetry.insecure, telemetry.sample_ratio

SEE ALSO:
  - cmd/server/main.go: flag binding
  - optimization/runs.go: EngineDefaults filled from this package
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/warp/decision-engine/observability"
	"github.com/warp/decision-engine/optimization"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "DECISION_ENGINE"

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Deferral  DeferralConfig  `mapstructure:"deferral"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig holds the deployment-wide feature flags. Per-tenant
// overrides live in the store.
type EngineConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	Simulated bool `mapstructure:"simulated"`
}

type ScoringConfig struct {
	HealthWeight      float64 `mapstructure:"health_weight"`
	ProbabilityWeight float64 `mapstructure:"probability_weight"`
	CriticalityWeight float64 `mapstructure:"criticality_weight"`
}

type DeferralConfig struct {
	Windows           []int   `mapstructure:"windows"`
	Escalation        string  `mapstructure:"escalation"`
	RatePerDay        float64 `mapstructure:"rate_per_day"`
	Cap               float64 `mapstructure:"cap"`
	MeanDowntimeHours float64 `mapstructure:"mean_downtime_hours"`
	RiskCeiling       float64 `mapstructure:"risk_ceiling"`
}

type DispatchConfig struct {
	SolverTimeout   time.Duration `mapstructure:"solver_timeout"`
	LabourRate      float64       `mapstructure:"labour_rate"`
	Currency        string        `mapstructure:"currency"`
	HorizonDays     int           `mapstructure:"horizon_days"`
	OvertimeFactor  float64       `mapstructure:"overtime_factor"`
	OvertimePremium float64       `mapstructure:"overtime_premium"`
}

// RateLimitConfig bounds run submissions per tenant. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type SchedulerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	Tenants    []string      `mapstructure:"tenants"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type TelemetryConfig struct {
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("http.cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("database.path", "decision-engine.db")

	v.SetDefault("engine.enabled", true)
	v.SetDefault("engine.simulated", false)

	w := optimization.DefaultScoringWeights()
	v.SetDefault("scoring.health_weight", w.Health)
	v.SetDefault("scoring.probability_weight", w.Probability)
	v.SetDefault("scoring.criticality_weight", w.Criticality)

	d := optimization.DefaultEngineDefaults()
	v.SetDefault("deferral.windows", d.DeferralWindows)
	v.SetDefault("deferral.escalation", d.Escalation.Type)
	v.SetDefault("deferral.rate_per_day", d.Escalation.RatePerDay)
	v.SetDefault("deferral.cap", d.Escalation.Cap)
	v.SetDefault("deferral.mean_downtime_hours", *d.MeanDowntimeHours)
	v.SetDefault("deferral.risk_ceiling", *d.DeferralRiskCeiling)

	v.SetDefault("dispatch.solver_timeout", 2*time.Second)
	v.SetDefault("dispatch.labour_rate", 150.0)
	v.SetDefault("dispatch.currency", optimization.DefaultCurrency)
	v.SetDefault("dispatch.horizon_days", d.HorizonDays)
	v.SetDefault("dispatch.overtime_factor", d.OvertimeFactor)
	v.SetDefault("dispatch.overtime_premium", *d.OvertimePremium)

	v.SetDefault("ratelimit.rps", 2.0)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", time.Hour)
	v.SetDefault("scheduler.tenants", []string{})
	v.SetDefault("scheduler.stale_after", 15*time.Minute)

	v.SetDefault("log.level", "info")

	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// NewViper returns a viper instance with defaults and env binding set up.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from defaults, the optional YAML file at path
// and the environment. An empty path skips the file; a missing file is an
// error.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates whatever v currently holds.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Dispatch.SolverTimeout <= 0 {
		errs = append(errs, errors.New("dispatch.solver_timeout must be > 0"))
	}
	if c.Dispatch.LabourRate < 0 {
		errs = append(errs, errors.New("dispatch.labour_rate must be >= 0"))
	}
	if c.Dispatch.OvertimePremium < 0 {
		errs = append(errs, errors.New("dispatch.overtime_premium must be >= 0"))
	}
	if c.Deferral.MeanDowntimeHours < 0 {
		errs = append(errs, errors.New("deferral.mean_downtime_hours must be >= 0"))
	}
	if c.Deferral.RiskCeiling < 0 {
		errs = append(errs, errors.New("deferral.risk_ceiling must be >= 0"))
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be > 0 when the scheduler is enabled"))
	}
	switch strings.ToLower(c.Telemetry.Exporter) {
	case "", "none", "stdout", "otlphttp":
	default:
		errs = append(errs, fmt.Errorf("telemetry.exporter %q is not one of none, stdout, otlphttp", c.Telemetry.Exporter))
	}
	if _, err := c.Scorer(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Escalation().Curve(); err != nil {
		errs = append(errs, fmt.Errorf("deferral: %w", err))
	}
	return errors.Join(errs...)
}

// =============================================================================
// ENGINE WIRING
// =============================================================================

// Flags is the deployment-wide default flag reader.
func (c *Config) Flags() optimization.StaticFlags {
	return optimization.StaticFlags{EngineEnabled: c.Engine.Enabled, SimulatedData: c.Engine.Simulated}
}

func (c *Config) Weights() optimization.ScoringWeights {
	return optimization.ScoringWeights{
		Health:      c.Scoring.HealthWeight,
		Probability: c.Scoring.ProbabilityWeight,
		Criticality: c.Scoring.CriticalityWeight,
	}
}

// Scorer validates the configured weights.
func (c *Config) Scorer() (*optimization.Scorer, error) {
	return optimization.NewScorer(c.Weights(), nil)
}

func (c *Config) Escalation() optimization.CurveConfig {
	curve := optimization.CurveConfig{Type: c.Deferral.Escalation, Cap: c.Deferral.Cap}
	if curve.Type == "exponential" {
		curve.HazardPerDay = c.Deferral.RatePerDay
	} else {
		curve.RatePerDay = c.Deferral.RatePerDay
	}
	return curve
}

// EngineDefaults overlays the configured values on the built-in defaults.
// Ceiling, downtime and premium always come from the config since zero is a
// valid setting for each; SetDefaults supplies them when nothing else does.
func (c *Config) EngineDefaults() optimization.EngineDefaults {
	d := optimization.DefaultEngineDefaults()
	if len(c.Deferral.Windows) > 0 {
		d.DeferralWindows = append([]int(nil), c.Deferral.Windows...)
	}
	d.Escalation = c.Escalation()
	d.MeanDowntimeHours = optimization.Float64(c.Deferral.MeanDowntimeHours)
	d.DeferralRiskCeiling = optimization.Float64(c.Deferral.RiskCeiling)
	d.OvertimePremium = optimization.Float64(c.Dispatch.OvertimePremium)
	if c.Dispatch.HorizonDays > 0 {
		d.HorizonDays = c.Dispatch.HorizonDays
	}
	if c.Dispatch.OvertimeFactor > 0 {
		d.OvertimeFactor = c.Dispatch.OvertimeFactor
	}
	currency := c.Dispatch.Currency
	if currency == "" {
		currency = optimization.DefaultCurrency
	}
	d.LabourRate = optimization.NewMoney(c.Dispatch.LabourRate, currency)
	return d
}

func (c *Config) Tracing() observability.TracingConfig {
	return observability.TracingConfig{
		Exporter:    c.Telemetry.Exporter,
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		SampleRatio: c.Telemetry.SampleRatio,
	}
}
