package risk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
)

// Manager holds the active risk configuration for an account and
// persists every accepted change as a new version.
type Manager struct {
	store     *db.Database
	accountID string

	mu  sync.RWMutex
	cfg Config
}

// NewManager loads the newest persisted config version. A fresh
// ledger falls back to the YAML seed file if one exists, then to the
// documented defaults; whichever wins is persisted as version 1 so
// later audits can see what the account started with.
func NewManager(ctx context.Context, store *db.Database, accountID, seedPath string) (*Manager, error) {
	m := &Manager{store: store, accountID: accountID}

	row, err := store.GetLatestRiskConfig(ctx, accountID)
	switch {
	case err == nil:
		m.cfg = fromRow(*row)
	case errors.Is(err, db.ErrNotFound):
		cfg, err := seedConfig(seedPath)
		if err != nil {
			return nil, err
		}
		version, err := store.SaveRiskConfig(ctx, accountID, toRow(accountID, cfg))
		if err != nil {
			return nil, fmt.Errorf("persist initial risk config: %w", err)
		}
		cfg.Version = version
		m.cfg = cfg
	default:
		return nil, fmt.Errorf("load risk config: %w", err)
	}

	log.Printf("Risk config v%d: R=%.3f%% daily_stop=%.1fR weekly_stop=%.1fR max_open=%.1fR",
		m.cfg.Version, m.cfg.RPct*100, m.cfg.DailyStopR, m.cfg.WeeklyStopR, m.cfg.MaxOpenR)
	return m, nil
}

// NewInMemory creates a manager without persistence, for tests and
// tooling.
func NewInMemory(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// seedConfig reads the optional YAML seed, overlaying it onto the
// defaults. A missing file is not an error.
func seedConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse risk config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("risk config %s: %w", path, err)
	}
	return cfg, nil
}

// Get returns a copy of the active config.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Update validates the candidate wholesale, persists it as a new
// version, and swaps it in. An invalid candidate changes nothing and
// the ValidationErrors list every rejected field.
func (m *Manager) Update(ctx context.Context, cfg Config) (Config, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store != nil {
		version, err := m.store.SaveRiskConfig(ctx, m.accountID, toRow(m.accountID, cfg))
		if err != nil {
			return Config{}, fmt.Errorf("persist risk config: %w", err)
		}
		cfg.Version = version
	} else {
		cfg.Version = m.cfg.Version + 1
	}

	m.cfg = cfg
	log.Printf("Risk config updated to v%d", cfg.Version)
	return cfg, nil
}

func toRow(accountID string, c Config) db.RiskConfigRow {
	return db.RiskConfigRow{
		AccountID:             accountID,
		RPct:                  c.RPct,
		DailyStopR:            c.DailyStopR,
		WeeklyStopR:           c.WeeklyStopR,
		MaxOpenR:              c.MaxOpenR,
		MaxExposurePct:        c.MaxExposurePct,
		MaxPositions:          c.MaxPositions,
		CorrelationGuard:      c.CorrelationGuard,
		CorrelationThreshold:  c.CorrelationThreshold,
		MaxCorrelatedExposure: c.MaxCorrelatedExposure,
		ReserveTargetPct:      c.ReserveTargetPct,
		ReserveFloorPct:       c.ReserveFloorPct,
	}
}

func fromRow(r db.RiskConfigRow) Config {
	return Config{
		Version:               r.Version,
		RPct:                  r.RPct,
		DailyStopR:            r.DailyStopR,
		WeeklyStopR:           r.WeeklyStopR,
		MaxOpenR:              r.MaxOpenR,
		MaxExposurePct:        r.MaxExposurePct,
		MaxPositions:          r.MaxPositions,
		CorrelationGuard:      r.CorrelationGuard,
		CorrelationThreshold:  r.CorrelationThreshold,
		MaxCorrelatedExposure: r.MaxCorrelatedExposure,
		ReserveTargetPct:      r.ReserveTargetPct,
		ReserveFloorPct:       r.ReserveFloorPct,
		UpdatedAt:             r.UpdatedAt,
	}
}
