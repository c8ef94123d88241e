package optimization

import (
	"context"
	"fmt"
)

// =============================================================================
// FEATURE GATE
// =============================================================================

// FeatureFlags are the two independent switches consulted once per run.
type FeatureFlags struct {
	EngineEnabled bool `json:"engine_enabled"`
	SimulatedData bool `json:"simulated_data"`
}

// FlagReader returns the flags in force for a tenant.
type FlagReader interface {
	Flags(ctx context.Context, tenant TenantID) (FeatureFlags, error)
}

// StaticFlags returns the same flags for every tenant. It is the config-backed
// default and the usual choice in tests.
type StaticFlags FeatureFlags

func (s StaticFlags) Flags(context.Context, TenantID) (FeatureFlags, error) {
	return FeatureFlags(s), nil
}

// Gate reads the flags and refuses execution when the engine is off.
type Gate struct {
	Reader FlagReader
}

// Check returns the flags for this invocation, or a configuration error with
// code "engine_disabled" that wraps ErrEngineDisabled.
func (g Gate) Check(ctx context.Context, tenant TenantID) (FeatureFlags, error) {
	if g.Reader == nil {
		return FeatureFlags{}, ConfigurationError("flags_unavailable", "no feature flag reader configured", nil)
	}
	flags, err := g.Reader.Flags(ctx, tenant)
	if err != nil {
		return FeatureFlags{}, ConfigurationError("flags_unavailable", fmt.Sprintf("read feature flags: %v", err), err)
	}
	if !flags.EngineEnabled {
		return flags, ConfigurationError("engine_disabled", "optimization engine is disabled", ErrEngineDisabled)
	}
	return flags, nil
}

// LayeredFlags applies per-tenant overrides on top of deployment defaults.
type LayeredFlags struct {
	Defaults  FeatureFlags
	Overrides FlagOverrideStore
}

func (l LayeredFlags) Flags(ctx context.Context, tenant TenantID) (FeatureFlags, error) {
	if l.Overrides == nil {
		return l.Defaults, nil
	}
	flags, ok, err := l.Overrides.TenantFlags(ctx, tenant)
	if err != nil {
		return FeatureFlags{}, err
	}
	if !ok {
		return l.Defaults, nil
	}
	return flags, nil
}
