package realtime

import (
	"fmt"

	v1 "trivector/shared/contracts/realtime/v1"
)

// Parameter names accepted in a proposal.
const (
	ParamMu    = "mu"
	ParamOmega = "omega"
	ParamKappa = "kappa"
)

// Hard bounds and defaults for the shared parameters. The derived beta follows
// every primary change: beta = 1 - mu - kappa*betaCoupling.
const (
	muMin, muMax       = 0.500, 0.700
	omegaMin, omegaMax = 0.500, 1.500
	kappaMin, kappaMax = 0.010, 0.050

	defaultMu    = 0.569
	defaultOmega = 0.847
	defaultKappa = 0.0207

	betaCoupling = 10.8

	// changeEpsilon decides whether an accepted value counts as a change.
	changeEpsilon = 1e-9
)

// SessionState is the authoritative parameter record of one session.
// Purely local; the owning session serializes all access.
type SessionState struct {
	mu    float64
	omega float64
	kappa float64
	beta  float64
}

// NewSessionState returns a state at the documented defaults.
func NewSessionState() *SessionState {
	s := &SessionState{mu: defaultMu, omega: defaultOmega, kappa: defaultKappa}
	s.recomputeBeta()
	return s
}

func (s *SessionState) recomputeBeta() {
	s.beta = 1 - s.mu - s.kappa*betaCoupling
}

// paramBounds returns the closed interval for a known parameter name.
func paramBounds(name string) (lo, hi float64, ok bool) {
	switch name {
	case ParamMu:
		return muMin, muMax, true
	case ParamOmega:
		return omegaMin, omegaMax, true
	case ParamKappa:
		return kappaMin, kappaMax, true
	default:
		return 0, 0, false
	}
}

// ValidateParam checks one (name, value) pair against the declared bounds.
// Unknown names fail validation; there is nothing to bound them by.
func ValidateParam(name string, value float64) error {
	lo, hi, ok := paramBounds(name)
	if !ok {
		return fmt.Errorf("%w: unknown parameter %q", ErrParamInvalid, name)
	}
	if value < lo || value > hi {
		return fmt.Errorf("%w: %s=%v outside [%v, %v]", ErrParamInvalid, name, value, lo, hi)
	}
	return nil
}

// Apply validates every key of a partial proposal and, only if all pass,
// writes the new values and recomputes beta. Rejection is atomic: one bad
// field and nothing is applied. The returned slice holds the names whose
// value actually changed (beyond changeEpsilon).
func (s *SessionState) Apply(partial map[string]float64) ([]string, error) {
	for name, value := range partial {
		if err := ValidateParam(name, value); err != nil {
			return nil, err
		}
	}

	changed := make([]string, 0, len(partial))
	for name, value := range partial {
		prev := s.get(name)
		s.set(name, value)
		if diff := value - prev; diff > changeEpsilon || diff < -changeEpsilon {
			changed = append(changed, name)
		}
	}
	if len(partial) > 0 {
		s.recomputeBeta()
	}
	return changed, nil
}

// Snapshot returns the current values including the derived beta.
func (s *SessionState) Snapshot() v1.ParamSet {
	return v1.ParamSet{Mu: s.mu, Omega: s.omega, Kappa: s.kappa, Beta: s.beta}
}

// Hydrate restores the primaries from a persisted snapshot and re-derives
// beta. Out-of-bounds persisted values are rejected field-wise: the field
// keeps its default rather than poisoning the live state.
func (s *SessionState) Hydrate(snap v1.ParamSet) {
	if ValidateParam(ParamMu, snap.Mu) == nil {
		s.mu = snap.Mu
	}
	if ValidateParam(ParamOmega, snap.Omega) == nil {
		s.omega = snap.Omega
	}
	if ValidateParam(ParamKappa, snap.Kappa) == nil {
		s.kappa = snap.Kappa
	}
	s.recomputeBeta()
}

func (s *SessionState) get(name string) float64 {
	switch name {
	case ParamMu:
		return s.mu
	case ParamOmega:
		return s.omega
	case ParamKappa:
		return s.kappa
	default:
		return 0
	}
}

func (s *SessionState) set(name string, value float64) {
	switch name {
	case ParamMu:
		s.mu = value
	case ParamOmega:
		s.omega = value
	case ParamKappa:
		s.kappa = value
	}
}
