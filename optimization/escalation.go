package optimization

import (
	"fmt"
	"math"
)

// =============================================================================
// ESCALATION CURVES - failure probability while maintenance is deferred
// =============================================================================

// EscalationCurve projects a base failure probability forward by a number of
// deferral days. Every implementation is non-decreasing in days and never
// exceeds its cap (itself at most 1.0).
type EscalationCurve interface {
	Project(base float64, days int) float64
	Validate() error
	Name() string
}

// LinearEscalation adds RatePerDay of absolute probability per day:
// P(d) = min(Cap, P0 + RatePerDay*d).
type LinearEscalation struct {
	RatePerDay float64
	Cap        float64
}

func (l LinearEscalation) Name() string { return "linear" }

func (l LinearEscalation) Project(base float64, days int) float64 {
	return capProbability(base+l.RatePerDay*float64(days), base, l.Cap)
}

func (l LinearEscalation) Validate() error { return validateCurve(l.RatePerDay, l.Cap) }

// ProportionalEscalation grows the base probability by RatePerDay of itself
// per day: P(d) = min(Cap, P0*(1+RatePerDay*d)).
type ProportionalEscalation struct {
	RatePerDay float64
	Cap        float64
}

func (p ProportionalEscalation) Name() string { return "proportional" }

func (p ProportionalEscalation) Project(base float64, days int) float64 {
	return capProbability(base*(1+p.RatePerDay*float64(days)), base, p.Cap)
}

func (p ProportionalEscalation) Validate() error { return validateCurve(p.RatePerDay, p.Cap) }

// ExponentialEscalation treats HazardPerDay as a constant daily hazard on
// the surviving probability: P(d) = min(Cap, 1-(1-P0)*exp(-HazardPerDay*d)).
type ExponentialEscalation struct {
	HazardPerDay float64
	Cap          float64
}

func (e ExponentialEscalation) Name() string { return "exponential" }

func (e ExponentialEscalation) Project(base float64, days int) float64 {
	return capProbability(1-(1-base)*math.Exp(-e.HazardPerDay*float64(days)), base, e.Cap)
}

func (e ExponentialEscalation) Validate() error { return validateCurve(e.HazardPerDay, e.Cap) }

// capProbability bounds p by cap, but never below the base: a base already
// above the cap stays where it is so risk_increase cannot go negative.
func capProbability(p, base, cap float64) float64 {
	if p > cap {
		p = cap
	}
	if p < base {
		p = base
	}
	if p > 1 {
		p = 1
	}
	return p
}

func validateCurve(rate, cap float64) error {
	if math.IsNaN(rate) || rate < 0 {
		return InvalidInputError("escalation.rate", fmt.Sprintf("escalation rate %v must be >= 0", rate))
	}
	if math.IsNaN(cap) || cap <= 0 || cap > 1 {
		return InvalidInputError("escalation.cap", fmt.Sprintf("escalation cap %v must be in (0,1]", cap))
	}
	return nil
}

// DefaultEscalation is 5% absolute per day capped at 1.0.
func DefaultEscalation() EscalationCurve {
	return LinearEscalation{RatePerDay: 0.05, Cap: 1.0}
}

// CurveConfig is the serialisable form of an escalation curve, as carried in
// run parameters. A zero Cap takes the curve's default cap.
type CurveConfig struct {
	Type         string  `json:"type"`
	RatePerDay   float64 `json:"rate_per_day,omitempty"`
	HazardPerDay float64 `json:"hazard_per_day,omitempty"`
	Cap          float64 `json:"cap,omitempty"`
}

// DefaultCurveConfig mirrors DefaultEscalation.
func DefaultCurveConfig() CurveConfig {
	return CurveConfig{Type: "linear", RatePerDay: 0.05, Cap: 1.0}
}

// Curve builds and validates the described curve.
func (s CurveConfig) Curve() (EscalationCurve, error) {
	var c EscalationCurve
	switch s.Type {
	case "", "linear":
		c = LinearEscalation{RatePerDay: s.RatePerDay, Cap: orDefault(s.Cap, 1.0)}
	case "proportional":
		c = ProportionalEscalation{RatePerDay: s.RatePerDay, Cap: orDefault(s.Cap, 0.95)}
	case "exponential":
		c = ExponentialEscalation{HazardPerDay: s.HazardPerDay, Cap: orDefault(s.Cap, 1.0)}
	default:
		return nil, InvalidInputError("escalation.type", fmt.Sprintf("unknown escalation curve %q", s.Type))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
