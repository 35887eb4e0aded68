// Package balance caches exchange asset balances so the admission
// gate and the reconciler can check funding without a round trip.
package balance

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/common"
)

// Source fetches the account's asset balances from the exchange.
type Source interface {
	AssetBalances(ctx context.Context) (map[string]common.AssetBalance, error)
}

// Manager keeps the last synced balances and refreshes them on a
// timer. Exchange truth overwrites the cache wholesale on every sync.
type Manager struct {
	source       Source
	syncInterval time.Duration

	mu       sync.RWMutex
	balances map[string]common.AssetBalance
	lastSync time.Time
}

func NewManager(source Source, syncInterval time.Duration) *Manager {
	return &Manager{
		source:       source,
		syncInterval: syncInterval,
		balances:     make(map[string]common.AssetBalance),
	}
}

// Start runs an initial sync and then refreshes on the interval until
// the context is canceled.
func (m *Manager) Start(ctx context.Context) {
	if err := m.Sync(ctx); err != nil {
		log.Printf("❌ Balance sync error: %v", err)
	}

	ticker := time.NewTicker(m.syncInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Sync(ctx); err != nil {
					log.Printf("❌ Balance sync error: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync fetches the latest balances from the exchange.
func (m *Manager) Sync(ctx context.Context) error {
	if m.source == nil {
		// No exchange configured (dry-run mode).
		return nil
	}

	balances, err := m.source.AssetBalances(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.balances = balances
	m.lastSync = time.Now().UTC()
	m.mu.Unlock()

	log.Printf("💰 Balances synced: %d assets", len(balances))
	return nil
}

// Get returns one asset's balance.
func (m *Manager) Get(asset string) (common.AssetBalance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[strings.ToUpper(asset)]
	return b, ok
}

// Available returns the free amount of an asset, 0 when unknown.
func (m *Manager) Available(asset string) float64 {
	b, _ := m.Get(asset)
	return b.Free
}

// Total returns free plus locked for an asset.
func (m *Manager) Total(asset string) float64 {
	b, _ := m.Get(asset)
	return b.Total()
}

// All returns a copy of the cached balances.
func (m *Manager) All() map[string]common.AssetBalance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]common.AssetBalance, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return out
}

// LastSync reports when the cache was last refreshed from the
// exchange; zero if never.
func (m *Manager) LastSync() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}

// SetInitial seeds a balance for dry-run mode.
func (m *Manager) SetInitial(asset string, free float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[strings.ToUpper(asset)] = common.AssetBalance{Asset: strings.ToUpper(asset), Free: free}
	log.Printf("💰 Initial %s balance set: %.2f", asset, free)
}
