package market

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	binance "github.com/bschneid7/BinanceUSBot-sub004/pkg/market/binance"
)

// MockFeed generates a synthetic random walk for local development and
// paper trading without network access. It serves the same reads as
// the live Feed.
type MockFeed struct {
	bus        *events.Bus
	symbols    []string
	startPrice float64
	step       float64
	interval   time.Duration

	mu    sync.RWMutex
	books map[string]binance.BookTicker
}

func NewMockFeed(bus *events.Bus, symbols []string, startPrice, step float64, interval time.Duration) *MockFeed {
	if len(symbols) == 0 {
		symbols = []string{"BTCUSDT"}
	}
	if startPrice <= 0 {
		startPrice = 100.0
	}
	if step <= 0 {
		step = 0.5
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &MockFeed{
		bus:        bus,
		symbols:    symbols,
		startPrice: startPrice,
		step:       step,
		interval:   interval,
		books:      make(map[string]binance.BookTicker),
	}
}

func (m *MockFeed) Start(ctx context.Context) {
	mids := make(map[string]float64, len(m.symbols))
	for _, sym := range m.symbols {
		mids[sym] = m.startPrice
		m.put(sym, m.startPrice)
	}

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, sym := range m.symbols {
					mids[sym] += (rand.Float64() - 0.5) * m.step
					if mids[sym] < m.step {
						mids[sym] = m.step
					}
					m.put(sym, mids[sym])
				}
			}
		}
	}()
	log.Printf("✓ Mock market feed started (%d symbols, walk step %.2f)", len(m.symbols), m.step)
}

func (m *MockFeed) put(symbol string, mid float64) {
	// Synthetic spread of two basis points around the walk.
	half := mid * 0.0001
	bt := binance.BookTicker{
		Symbol:   symbol,
		BidPrice: mid - half,
		BidQty:   10,
		AskPrice: mid + half,
		AskQty:   10,
		Time:     time.Now().UnixMilli(),
	}
	m.mu.Lock()
	m.books[symbol] = bt
	m.mu.Unlock()
	if m.bus != nil {
		m.bus.Publish(events.EventPriceTick, bt)
	}
}

func (m *MockFeed) Book(symbol string) (binance.BookTicker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bt, ok := m.books[symbol]
	return bt, ok
}

func (m *MockFeed) Price(_ context.Context, symbol string) (float64, error) {
	if bt, ok := m.Book(symbol); ok {
		return bt.Mid(), nil
	}
	return 0, fmt.Errorf("no mock book for %s", symbol)
}
