package balance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/common"
)

type stubSource struct {
	balances map[string]common.AssetBalance
	err      error
	calls    int
}

func (s *stubSource) AssetBalances(context.Context) (map[string]common.AssetBalance, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.balances, nil
}

func TestSyncCachesBalances(t *testing.T) {
	src := &stubSource{balances: map[string]common.AssetBalance{
		"USD": {Asset: "USD", Free: 5000, Locked: 250},
		"BTC": {Asset: "BTC", Free: 0.5},
	}}
	m := NewManager(src, time.Minute)

	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if got := m.Available("USD"); got != 5000 {
		t.Errorf("Available(USD) = %v, want 5000", got)
	}
	if got := m.Total("usd"); got != 5250 {
		t.Errorf("Total(usd) = %v, want 5250 (lookup case-insensitive)", got)
	}
	if got := m.Available("ETH"); got != 0 {
		t.Errorf("Available(ETH) = %v, want 0 for unknown asset", got)
	}
	if m.LastSync().IsZero() {
		t.Errorf("LastSync not recorded")
	}
}

func TestSyncFailureKeepsLastGood(t *testing.T) {
	src := &stubSource{balances: map[string]common.AssetBalance{
		"USD": {Asset: "USD", Free: 1000},
	}}
	m := NewManager(src, time.Minute)
	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	src.err = errors.New("exchange 502")
	if err := m.Sync(context.Background()); err == nil {
		t.Fatalf("expected sync error")
	}
	if got := m.Available("USD"); got != 1000 {
		t.Errorf("failed sync clobbered cache: Available = %v", got)
	}
}

func TestDryRunWithoutSource(t *testing.T) {
	m := NewManager(nil, time.Minute)
	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync without source: %v", err)
	}

	m.SetInitial("usd", 10000)
	if got := m.Available("USD"); got != 10000 {
		t.Errorf("Available = %v, want seeded 10000", got)
	}
}
