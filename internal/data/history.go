// Package data serves historical candles and the daily return series
// the correlation gate consumes.
package data

import (
	"context"
	"fmt"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/pkg/cache"
	market "github.com/bschneid7/BinanceUSBot-sub004/pkg/market/binance"
)

// lookbackDays covers the correlation window: 31 daily closes give 30
// pct-change returns.
const lookbackDays = 31

// KlineSource is the REST surface the service needs.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error)
}

// HistoryService fetches daily candles and derives return series,
// caching them so one correlation sweep does not re-download every
// pair leg.
type HistoryService struct {
	source KlineSource
	cache  *cache.ShardedTTLCache[[]float64]
}

func NewHistoryService(source KlineSource, ttl time.Duration) *HistoryService {
	return &HistoryService{
		source: source,
		cache:  cache.New[[]float64](ttl),
	}
}

// Klines fetches candles straight through, uncached.
func (s *HistoryService) Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error) {
	return s.source.GetKlines(ctx, symbol, interval, limit)
}

// ReturnSeries returns the daily close-to-close percentage changes
// for the correlation lookback window, oldest first.
func (s *HistoryService) ReturnSeries(ctx context.Context, symbol string) ([]float64, error) {
	key := "returns:" + symbol
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	klines, err := s.source.GetKlines(ctx, symbol, "1d", lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("fetch %s daily klines: %w", symbol, err)
	}
	if len(klines) < 2 {
		return nil, fmt.Errorf("fetch %s daily klines: %d candles, need at least 2", symbol, len(klines))
	}

	returns := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		prev := klines[i-1].Close
		if prev == 0 {
			continue
		}
		returns = append(returns, (klines[i].Close-prev)/prev)
	}

	s.cache.Set(key, returns)
	return returns, nil
}
