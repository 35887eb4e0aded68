package risk

import (
	"strings"
	"testing"
)

func healthyInputs() AdmissionInputs {
	return AdmissionInputs{
		Status:          StatusActive,
		Equity:          10000,
		OpenPositions:   2,
		OpenNotional:    2000,
		OpenRiskR:       1.0,
		AvailableQuote:  7000,
		StopDistancePct: 0.02,
	}
}

func TestEvaluateAdmission(t *testing.T) {
	req := AdmissionRequest{Symbol: "BTCUSD", Side: "LONG", Playbook: "breakout", Quantity: 0.01, Price: 50000}

	tests := []struct {
		name     string
		mutate   func(*AdmissionInputs, *Config)
		wantPass bool
		wantHint string
	}{
		{
			name:     "healthy account admits",
			mutate:   func(*AdmissionInputs, *Config) {},
			wantPass: true,
		},
		{
			name:     "halted account blocks",
			mutate:   func(in *AdmissionInputs, _ *Config) { in.Status = StatusHaltedDaily; in.HaltReason = ReasonDailyStop },
			wantPass: false,
			wantHint: "blocked",
		},
		{
			name:     "position count at limit",
			mutate:   func(in *AdmissionInputs, cfg *Config) { cfg.MaxPositions = 2 },
			wantPass: false,
			wantHint: "max_positions",
		},
		{
			name:     "exposure cap",
			mutate:   func(in *AdmissionInputs, _ *Config) { in.OpenNotional = 7200 },
			wantPass: false,
			wantHint: "max_exposure_pct",
		},
		{
			name: "open risk cap",
			mutate: func(in *AdmissionInputs, cfg *Config) {
				// 500 notional * 2% stop = $10 = 0.167R on currentR=60;
				// squeeze the cap under the running total.
				in.OpenRiskR = 4.95
			},
			wantPass: false,
			wantHint: "max_open_r",
		},
		{
			name:     "insufficient quote balance",
			mutate:   func(in *AdmissionInputs, _ *Config) { in.AvailableQuote = 100 },
			wantPass: false,
			wantHint: "funding",
		},
		{
			name:     "reserve floor",
			mutate:   func(in *AdmissionInputs, _ *Config) { in.OpenNotional = 8900 },
			wantPass: false,
			wantHint: "reserve",
		},
		{
			name:     "non-positive equity",
			mutate:   func(in *AdmissionInputs, _ *Config) { in.Equity = 0 },
			wantPass: false,
			wantHint: "equity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := healthyInputs()
			cfg := DefaultConfig()
			tt.mutate(&in, &cfg)

			d := EvaluateAdmission(req, in, cfg)
			if d.Allowed != tt.wantPass {
				t.Fatalf("Allowed = %v, violations = %v", d.Allowed, d.Violations)
			}
			if !tt.wantPass {
				found := false
				for _, v := range d.Violations {
					if strings.Contains(v, tt.wantHint) {
						found = true
					}
				}
				if !found {
					t.Errorf("violations %v missing %q", d.Violations, tt.wantHint)
				}
			}
		})
	}
}

func TestEvaluateAdmissionReportsAllViolations(t *testing.T) {
	req := AdmissionRequest{Symbol: "BTCUSD", Side: "LONG", Playbook: "breakout", Quantity: 1, Price: 50000}
	in := healthyInputs()
	in.Status = StatusStopped
	in.AvailableQuote = 0

	d := EvaluateAdmission(req, in, DefaultConfig())
	if d.Allowed {
		t.Fatalf("expected rejection")
	}
	// Status, exposure, reserve and funding all fail at once.
	if len(d.Violations) < 3 {
		t.Errorf("got %d violations, want every failed check reported: %v", len(d.Violations), d.Violations)
	}
}
