// Package market keeps a live top-of-book view per symbol: websocket
// bookTicker streams write into a shared cache, a REST poll fills the
// gaps, and consumers read the latest quote without touching the
// network on the hot path.
package market

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	binance "github.com/bschneid7/BinanceUSBot-sub004/pkg/market/binance"
)

// resubscribeDelay spaces reconnect attempts after a stream drops.
const resubscribeDelay = 5 * time.Second

// Feed streams Binance.US book tickers for the configured symbols.
type Feed struct {
	client  *binance.MarketDataClient
	stream  *binance.StreamClient
	bus     *events.Bus
	symbols []string
	refresh time.Duration

	mu    sync.RWMutex
	books map[string]binance.BookTicker
}

func NewFeed(client *binance.MarketDataClient, stream *binance.StreamClient, bus *events.Bus, symbols []string, refresh time.Duration) *Feed {
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	return &Feed{
		client:  client,
		stream:  stream,
		bus:     bus,
		symbols: symbols,
		refresh: refresh,
		books:   make(map[string]binance.BookTicker),
	}
}

// Start begins streaming for every configured symbol plus a polling
// fallback so the cache survives websocket gaps.
func (f *Feed) Start(ctx context.Context) {
	if f.client == nil || f.stream == nil {
		log.Println("market feed not fully configured; skipping start")
		return
	}
	for _, sym := range f.symbols {
		go f.streamSymbol(ctx, sym)
	}
	go f.pollBooks(ctx)
	log.Printf("✓ Market feed started (%d symbols)", len(f.symbols))
}

// streamSymbol keeps one bookTicker subscription alive, resubscribing
// after drops until the context ends.
func (f *Feed) streamSymbol(ctx context.Context, symbol string) {
	for {
		ch, stop, err := f.stream.SubscribeBookTicker(ctx, symbol)
		if err != nil {
			log.Printf("market feed: subscribe %s: %v", symbol, err)
		} else {
			for bt := range ch {
				f.put(bt)
			}
			stop()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (f *Feed) pollBooks(ctx context.Context) {
	ticker := time.NewTicker(f.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range f.symbols {
				bt, err := f.client.GetBookTicker(ctx, sym)
				if err != nil {
					log.Printf("market feed: poll %s: %v", sym, err)
					continue
				}
				f.put(*bt)
			}
		}
	}
}

func (f *Feed) put(bt binance.BookTicker) {
	f.mu.Lock()
	f.books[bt.Symbol] = bt
	f.mu.Unlock()
	if f.bus != nil {
		f.bus.Publish(events.EventPriceTick, bt)
	}
}

// Book returns the cached top of book for a symbol.
func (f *Feed) Book(symbol string) (binance.BookTicker, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	bt, ok := f.books[symbol]
	return bt, ok
}

// Price returns the current mid price, hitting REST only when the
// cache has nothing for the symbol yet.
func (f *Feed) Price(ctx context.Context, symbol string) (float64, error) {
	if bt, ok := f.Book(symbol); ok && bt.Mid() > 0 {
		return bt.Mid(), nil
	}
	bt, err := f.client.GetBookTicker(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("quote %s: %w", symbol, err)
	}
	f.put(*bt)
	return bt.Mid(), nil
}
