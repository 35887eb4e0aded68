package correlation

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/pkg/cache"
)

// SeriesProvider fetches the daily return series used for pairwise
// correlation. Implemented by the candle history service.
type SeriesProvider interface {
	ReturnSeries(ctx context.Context, symbol string) ([]float64, error)
}

// OpenExposure is one open position's contribution to the gate.
type OpenExposure struct {
	Symbol   string
	Notional float64
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed          bool     `json:"allowed"`
	CorrelatedValue  float64  `json:"correlatedValue"`
	ExposurePct      float64  `json:"exposurePct"`
	LimitPct         float64  `json:"limitPct"`
	OffendingSymbols []string `json:"offendingSymbols,omitempty"`
}

// Manager caches pairwise correlations and applies the correlated
// exposure limit to new positions.
type Manager struct {
	provider SeriesProvider
	cache    *cache.ShardedTTLCache[float64]
}

// NewManager creates a correlation manager. Cached lookups expire
// after ttl; zero ttl keeps them forever.
func NewManager(provider SeriesProvider, ttl time.Duration) *Manager {
	return &Manager{
		provider: provider,
		cache:    cache.New[float64](ttl),
	}
}

// Correlation returns the cached or freshly computed correlation of
// two symbols. Entries are stored under both orderings so either
// lookup direction hits. A failed series fetch degrades to 0 with a
// warning so the gate never blocks on missing history.
func (m *Manager) Correlation(ctx context.Context, a, b string) float64 {
	if a == b {
		return 1
	}
	if v, ok := m.cache.Get(pairKey(a, b)); ok {
		return v
	}

	seriesA, err := m.provider.ReturnSeries(ctx, a)
	if err != nil {
		log.Printf("⚠️ correlation: fetch %s series: %v", a, err)
		return 0
	}
	seriesB, err := m.provider.ReturnSeries(ctx, b)
	if err != nil {
		log.Printf("⚠️ correlation: fetch %s series: %v", b, err)
		return 0
	}

	corr := Pearson(seriesA, seriesB)
	m.cache.Set(pairKey(a, b), corr)
	m.cache.Set(pairKey(b, a), corr)
	return corr
}

// ValidateNewPosition applies the correlated exposure rule: sum the
// notional of open positions whose |correlation| with the candidate
// meets the threshold, add the candidate's value, and compare against
// the portfolio-relative limit. No open positions always admits.
func (m *Manager) ValidateNewPosition(ctx context.Context, symbol string, newValue float64, open []OpenExposure, portfolioValue, threshold, maxExposure float64) Decision {
	d := Decision{Allowed: true, LimitPct: maxExposure}
	if len(open) == 0 {
		return d
	}
	if portfolioValue <= 0 {
		d.Allowed = false
		d.ExposurePct = 1
		return d
	}

	for _, pos := range open {
		corr := m.Correlation(ctx, symbol, pos.Symbol)
		if math.Abs(corr) >= threshold {
			d.CorrelatedValue += pos.Notional
			d.OffendingSymbols = append(d.OffendingSymbols, pos.Symbol)
		}
	}

	d.ExposurePct = (d.CorrelatedValue + newValue) / portfolioValue
	if d.ExposurePct > maxExposure {
		d.Allowed = false
	}
	return d
}

func pairKey(a, b string) string {
	return fmt.Sprintf("corr:%s|%s", a, b)
}
