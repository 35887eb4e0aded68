package correlation

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestPearson(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{
			name: "perfectly correlated",
			a:    []float64{1, 2, 3, 4, 5},
			b:    []float64{2, 4, 6, 8, 10},
			want: 1,
		},
		{
			name: "perfectly anti-correlated",
			a:    []float64{1, 2, 3, 4, 5},
			b:    []float64{10, 8, 6, 4, 2},
			want: -1,
		},
		{
			name: "constant series",
			a:    []float64{1, 2, 3, 4},
			b:    []float64{7, 7, 7, 7},
			want: 0,
		},
		{
			name: "length mismatch",
			a:    []float64{1, 2, 3},
			b:    []float64{1, 2},
			want: 0,
		},
		{
			name: "too short",
			a:    []float64{1},
			b:    []float64{2},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pearson(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Pearson() = %v, want %v", got, tt.want)
			}
		})
	}
}

type stubProvider struct {
	series map[string][]float64
	calls  int
}

func (s *stubProvider) ReturnSeries(_ context.Context, symbol string) ([]float64, error) {
	s.calls++
	out, ok := s.series[symbol]
	if !ok {
		return nil, fmt.Errorf("no series for %s", symbol)
	}
	return out, nil
}

func TestCorrelationCachedBothDirections(t *testing.T) {
	provider := &stubProvider{series: map[string][]float64{
		"BTCUSD": {0.01, -0.02, 0.03, 0.01},
		"ETHUSD": {0.02, -0.04, 0.06, 0.02},
	}}
	m := NewManager(provider, time.Hour)

	first := m.Correlation(context.Background(), "BTCUSD", "ETHUSD")
	if math.Abs(first-1) > 1e-9 {
		t.Fatalf("Correlation = %v, want 1", first)
	}
	calls := provider.calls

	// Reverse order must hit the cache, not re-fetch.
	second := m.Correlation(context.Background(), "ETHUSD", "BTCUSD")
	if second != first {
		t.Errorf("reverse lookup = %v, want %v", second, first)
	}
	if provider.calls != calls {
		t.Errorf("reverse lookup re-fetched series: calls %d -> %d", calls, provider.calls)
	}
}

func TestCorrelationFetchFailureDegradesToZero(t *testing.T) {
	m := NewManager(&stubProvider{series: map[string][]float64{}}, time.Hour)
	if got := m.Correlation(context.Background(), "BTCUSD", "ETHUSD"); got != 0 {
		t.Errorf("Correlation with missing history = %v, want 0", got)
	}
}

func TestValidateNewPositionRejectsConcentration(t *testing.T) {
	// ETHUSD moves in lockstep with BTCUSD, so the open $3000 counts
	// as correlated. Adding $1500 on a $10000 book is 45% > 30%.
	provider := &stubProvider{series: map[string][]float64{
		"BTCUSD": {0.01, -0.02, 0.03, 0.01},
		"ETHUSD": {0.02, -0.04, 0.06, 0.02},
	}}
	m := NewManager(provider, time.Hour)

	open := []OpenExposure{{Symbol: "ETHUSD", Notional: 3000}}
	d := m.ValidateNewPosition(context.Background(), "BTCUSD", 1500, open, 10000, 0.7, 0.3)

	if d.Allowed {
		t.Fatalf("expected rejection, got %+v", d)
	}
	if math.Abs(d.ExposurePct-0.45) > 1e-9 {
		t.Errorf("ExposurePct = %v, want 0.45", d.ExposurePct)
	}
	if len(d.OffendingSymbols) != 1 || d.OffendingSymbols[0] != "ETHUSD" {
		t.Errorf("OffendingSymbols = %v, want [ETHUSD]", d.OffendingSymbols)
	}
}

func TestValidateNewPositionIgnoresUncorrelated(t *testing.T) {
	provider := &stubProvider{series: map[string][]float64{
		"BTCUSD": {0.01, -0.01, 0.01, -0.01},
		"SOLUSD": {0.02, 0.02, -0.02, -0.02},
	}}
	m := NewManager(provider, time.Hour)

	open := []OpenExposure{{Symbol: "SOLUSD", Notional: 9000}}
	d := m.ValidateNewPosition(context.Background(), "BTCUSD", 500, open, 10000, 0.7, 0.3)

	if !d.Allowed {
		t.Fatalf("expected admission, got %+v", d)
	}
	if d.CorrelatedValue != 0 {
		t.Errorf("CorrelatedValue = %v, want 0", d.CorrelatedValue)
	}
}

func TestValidateNewPositionEmptyBookAlwaysAdmits(t *testing.T) {
	m := NewManager(&stubProvider{series: map[string][]float64{}}, time.Hour)
	d := m.ValidateNewPosition(context.Background(), "BTCUSD", 999999, nil, 10000, 0.7, 0.3)
	if !d.Allowed {
		t.Errorf("empty book must admit, got %+v", d)
	}
}
