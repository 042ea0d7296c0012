package realtime

import (
	"errors"
	"math"
	"sort"
	"testing"

	v1 "trivector/shared/contracts/realtime/v1"
)

func betaFor(mu, kappa float64) float64 {
	return 1 - mu - kappa*betaCoupling
}

func TestNewSessionStateDefaults(t *testing.T) {
	t.Parallel()

	s := NewSessionState()
	snap := s.Snapshot()

	if snap.Mu != defaultMu || snap.Omega != defaultOmega || snap.Kappa != defaultKappa {
		t.Fatalf("defaults=%+v want mu=%v omega=%v kappa=%v", snap, defaultMu, defaultOmega, defaultKappa)
	}
	if math.Abs(snap.Beta-betaFor(defaultMu, defaultKappa)) > 1e-9 {
		t.Fatalf("beta=%v want=%v", snap.Beta, betaFor(defaultMu, defaultKappa))
	}
}

func TestApplyPartialUpdates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		partial map[string]float64
		want    v1.ParamSet
	}{
		{
			name:    "single field",
			partial: map[string]float64{ParamMu: 0.60},
			want:    v1.ParamSet{Mu: 0.60, Omega: defaultOmega, Kappa: defaultKappa},
		},
		{
			name:    "two fields",
			partial: map[string]float64{ParamOmega: 1.20, ParamKappa: 0.030},
			want:    v1.ParamSet{Mu: defaultMu, Omega: 1.20, Kappa: 0.030},
		},
		{
			name:    "all three",
			partial: map[string]float64{ParamMu: 0.55, ParamOmega: 0.90, ParamKappa: 0.020},
			want:    v1.ParamSet{Mu: 0.55, Omega: 0.90, Kappa: 0.020},
		},
		{
			name:    "bounds inclusive",
			partial: map[string]float64{ParamMu: muMax, ParamOmega: omegaMin, ParamKappa: kappaMax},
			want:    v1.ParamSet{Mu: muMax, Omega: omegaMin, Kappa: kappaMax},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := NewSessionState()
			changed, err := s.Apply(tc.partial)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if len(changed) != len(tc.partial) {
				t.Fatalf("changed=%v want %d fields", changed, len(tc.partial))
			}

			snap := s.Snapshot()
			if snap.Mu != tc.want.Mu || snap.Omega != tc.want.Omega || snap.Kappa != tc.want.Kappa {
				t.Fatalf("snapshot=%+v want=%+v", snap, tc.want)
			}
			if math.Abs(snap.Beta-betaFor(tc.want.Mu, tc.want.Kappa)) > 1e-9 {
				t.Fatalf("beta=%v want=%v", snap.Beta, betaFor(tc.want.Mu, tc.want.Kappa))
			}
		})
	}
}

func TestApplyBetaAfterFirstBroadcastScenario(t *testing.T) {
	t.Parallel()

	s := NewSessionState()
	if _, err := s.Apply(map[string]float64{ParamMu: 0.60}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// 1 - 0.60 - 0.0207*10.8
	if got := s.Snapshot().Beta; math.Abs(got-0.17644) > 1e-9 {
		t.Fatalf("beta=%v want 0.17644", got)
	}
}

func TestApplyRejectsAtomically(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		partial map[string]float64
	}{
		{name: "mu above max", partial: map[string]float64{ParamMu: 0.80}},
		{name: "mu below min", partial: map[string]float64{ParamMu: 0.40}},
		{name: "omega above max", partial: map[string]float64{ParamOmega: 1.51}},
		{name: "kappa below min", partial: map[string]float64{ParamKappa: 0.001}},
		{name: "unknown name", partial: map[string]float64{"gamma": 0.5}},
		{name: "one good one bad", partial: map[string]float64{ParamOmega: 1.0, ParamMu: 0.80}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := NewSessionState()
			before := s.Snapshot()

			changed, err := s.Apply(tc.partial)
			if !errors.Is(err, ErrParamInvalid) {
				t.Fatalf("Apply err=%v, want ErrParamInvalid", err)
			}
			if changed != nil {
				t.Fatalf("changed=%v, want nil on rejection", changed)
			}
			if s.Snapshot() != before {
				t.Fatalf("state mutated on rejected proposal: %+v -> %+v", before, s.Snapshot())
			}
		})
	}
}

func TestApplySnapshotIsNoOp(t *testing.T) {
	t.Parallel()

	s := NewSessionState()
	if _, err := s.Apply(map[string]float64{ParamOmega: 1.1}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	snap := s.Snapshot()
	changed, err := s.Apply(map[string]float64{
		ParamMu:    snap.Mu,
		ParamOmega: snap.Omega,
		ParamKappa: snap.Kappa,
	})
	if err != nil {
		t.Fatalf("Apply(snapshot): %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("Apply(snapshot) changed=%v, want none", changed)
	}
	if s.Snapshot() != snap {
		t.Fatalf("snapshot drifted: %+v -> %+v", snap, s.Snapshot())
	}
}

func TestApplyChangedFieldsEpsilon(t *testing.T) {
	t.Parallel()

	s := NewSessionState()

	// Below the change epsilon: accepted, not reported as changed.
	changed, err := s.Apply(map[string]float64{ParamMu: defaultMu + 1e-12})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("sub-epsilon delta reported as changed: %v", changed)
	}

	changed, err = s.Apply(map[string]float64{ParamMu: 0.65, ParamKappa: defaultKappa})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	sort.Strings(changed)
	if len(changed) != 1 || changed[0] != ParamMu {
		t.Fatalf("changed=%v want [mu]", changed)
	}
}

func TestHydrateRestoresPrimaries(t *testing.T) {
	t.Parallel()

	s := NewSessionState()
	s.Hydrate(v1.ParamSet{Mu: 0.62, Omega: 1.30, Kappa: 0.045, Beta: -42})

	snap := s.Snapshot()
	if snap.Mu != 0.62 || snap.Omega != 1.30 || snap.Kappa != 0.045 {
		t.Fatalf("hydrated=%+v", snap)
	}
	// Beta is re-derived, never trusted from the stored record.
	if math.Abs(snap.Beta-betaFor(0.62, 0.045)) > 1e-9 {
		t.Fatalf("beta=%v want=%v", snap.Beta, betaFor(0.62, 0.045))
	}
}

func TestHydrateRejectsOutOfBoundsFieldwise(t *testing.T) {
	t.Parallel()

	s := NewSessionState()
	s.Hydrate(v1.ParamSet{Mu: 0.99, Omega: 1.25, Kappa: 0.5})

	snap := s.Snapshot()
	if snap.Mu != defaultMu {
		t.Fatalf("mu=%v want default %v (out-of-bounds persisted value)", snap.Mu, defaultMu)
	}
	if snap.Omega != 1.25 {
		t.Fatalf("omega=%v want 1.25", snap.Omega)
	}
	if snap.Kappa != defaultKappa {
		t.Fatalf("kappa=%v want default %v", snap.Kappa, defaultKappa)
	}
}

func TestValidateParam(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		param   string
		value   float64
		wantErr bool
	}{
		{name: "mu min", param: ParamMu, value: muMin},
		{name: "mu max", param: ParamMu, value: muMax},
		{name: "mu under", param: ParamMu, value: muMin - 1e-6, wantErr: true},
		{name: "mu over", param: ParamMu, value: muMax + 1e-6, wantErr: true},
		{name: "omega mid", param: ParamOmega, value: 1.0},
		{name: "kappa over", param: ParamKappa, value: kappaMax + 1e-6, wantErr: true},
		{name: "unknown", param: "delta", value: 0.5, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateParam(tc.param, tc.value)
			if tc.wantErr && !errors.Is(err, ErrParamInvalid) {
				t.Fatalf("ValidateParam(%s=%v) err=%v, want ErrParamInvalid", tc.param, tc.value, err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("ValidateParam(%s=%v): %v", tc.param, tc.value, err)
			}
		})
	}
}
