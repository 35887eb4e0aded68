package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/balance"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/correlation"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/order"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/playbook"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/pricing"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/risk"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/state"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/common"
)

// Config wires the engine's collaborators.
type Config struct {
	Store       *db.Database
	Bus         *events.Bus
	Risk        *risk.Manager
	Halt        *risk.HaltManager
	Positions   *state.Manager
	Balances    *balance.Manager
	Correlation *correlation.Manager
	Playbooks   *playbook.Catalog
	Queue       *order.Queue
	Executor    *order.Executor
	Market      MarketData

	AccountID      string
	QuoteAsset     string
	TickSize       float64
	MaxSlippageBps float64
	CycleInterval  time.Duration
}

// Impl implements the Service interface by composing the managers.
type Impl struct {
	store       *db.Database
	bus         *events.Bus
	risk        *risk.Manager
	halt        *risk.HaltManager
	positions   *state.Manager
	balances    *balance.Manager
	correlation *correlation.Manager
	playbooks   *playbook.Catalog
	queue       *order.Queue
	exec        *order.Executor
	market      MarketData

	accountID      string
	quoteAsset     string
	tickSize       float64
	maxSlippageBps float64
	cycleInterval  time.Duration

	mu       sync.RWMutex
	currentR float64
}

func NewImpl(cfg Config) *Impl {
	interval := cfg.CycleInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Impl{
		store:          cfg.Store,
		bus:            cfg.Bus,
		risk:           cfg.Risk,
		halt:           cfg.Halt,
		positions:      cfg.Positions,
		balances:       cfg.Balances,
		correlation:    cfg.Correlation,
		playbooks:      cfg.Playbooks,
		queue:          cfg.Queue,
		exec:           cfg.Executor,
		market:         cfg.Market,
		accountID:      cfg.AccountID,
		quoteAsset:     cfg.QuoteAsset,
		tickSize:       cfg.TickSize,
		maxSlippageBps: cfg.MaxSlippageBps,
		cycleInterval:  interval,
	}
}

// RiskUnit returns the dollar value of 1R from the latest cycle. Zero
// until the first snapshot lands.
func (e *Impl) RiskUnit() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentR
}

func (e *Impl) setRiskUnit(r float64) {
	e.mu.Lock()
	e.currentR = r
	e.mu.Unlock()
}

// --- Lifecycle commands ---

func (e *Impl) Resume(ctx context.Context, justification string) (string, error) {
	return e.halt.Resume(ctx, justification)
}

func (e *Impl) Stop(ctx context.Context, reason string) (string, error) {
	if reason == "" {
		reason = "operator stop"
	}
	return e.halt.Stop(ctx, reason)
}

func (e *Impl) EmergencyStop(ctx context.Context, reason string) (int, error) {
	if reason == "" {
		reason = "emergency stop"
	}
	return e.halt.EmergencyStop(ctx, reason)
}

// --- Admission ---

// OpenPosition runs the admission path: halt gate, request shape,
// playbook lookup, risk evaluation, correlation gate, maker-first
// pricing, and finally the order queue. Every failed check lands in
// the result's violation list.
func (e *Impl) OpenPosition(ctx context.Context, req OpenPositionRequest) (OpenPositionResult, error) {
	var res OpenPositionResult

	if err := e.halt.RequireActive(ctx); err != nil {
		if errors.Is(err, risk.ErrTradingBlocked) {
			res.Violations = []string{err.Error()}
			e.rejected(req, res.Violations)
			return res, nil
		}
		return res, err
	}

	if req.Symbol == "" {
		res.Violations = append(res.Violations, "symbol: required")
	}
	side := common.Side(strings.ToUpper(req.Side))
	if side != common.SideBuy && side != common.SideSell {
		res.Violations = append(res.Violations, fmt.Sprintf("side: %q is not BUY or SELL", req.Side))
	}

	var stopPct float64
	if pb, ok := e.playbooks.Get(req.Playbook); ok {
		stopPct = pb.StopDistancePct
	} else {
		res.Violations = append(res.Violations, fmt.Sprintf("playbook: unknown %q", req.Playbook))
	}
	if req.StopPrice > 0 && req.TargetPrice > 0 {
		stopPct = math.Abs(req.TargetPrice-req.StopPrice) / req.TargetPrice
	}

	if len(res.Violations) > 0 {
		e.rejected(req, res.Violations)
		return res, nil
	}

	cfg := e.risk.Get()
	snap, err := e.positions.ComputeSnapshot(ctx, cfg)
	if err != nil {
		if snap.AccountID == "" {
			return res, fmt.Errorf("admission snapshot: %w", err)
		}
		log.Printf("⚠️ admission: %v", err)
	}

	areq := risk.AdmissionRequest{
		Symbol:   req.Symbol,
		Side:     string(side),
		Playbook: req.Playbook,
		Quantity: req.Quantity,
		Price:    req.TargetPrice,
	}
	dec := risk.EvaluateAdmission(areq, risk.AdmissionInputs{
		Status:          snap.Status,
		Equity:          snap.Equity,
		OpenPositions:   snap.OpenPositions,
		OpenNotional:    snap.TotalNotional,
		OpenRiskR:       snap.OpenRiskR,
		AvailableQuote:  e.balances.Available(e.quoteAsset),
		StopDistancePct: stopPct,
	}, cfg)

	if cfg.CorrelationGuard {
		open := e.positions.OpenPositions()
		exposures := make([]correlation.OpenExposure, 0, len(open))
		for _, p := range open {
			exposures = append(exposures, correlation.OpenExposure{Symbol: p.Symbol, Notional: p.Notional()})
		}
		cd := e.correlation.ValidateNewPosition(ctx, req.Symbol, areq.Notional(), exposures,
			snap.Equity, cfg.CorrelationThreshold, cfg.MaxCorrelatedExposure)
		res.Correlation = &cd
		if !cd.Allowed {
			dec.Allowed = false
			dec.Violations = append(dec.Violations, fmt.Sprintf(
				"correlation: %.1f%% correlated exposure would exceed %.1f%% (%s)",
				cd.ExposurePct*100, cd.LimitPct*100, strings.Join(cd.OffendingSymbols, ", ")))
		}
	}

	if !dec.Allowed {
		res.Violations = dec.Violations
		e.rejected(req, res.Violations)
		return res, nil
	}

	quote := pricing.Quote{Price: req.TargetPrice}
	if _, err := e.market.Price(ctx, req.Symbol); err != nil {
		log.Printf("⚠️ admission: quote %s: %v", req.Symbol, err)
	}
	if bt, ok := e.market.Book(req.Symbol); ok {
		quote = pricing.MakerQuote(side, req.TargetPrice, bt.BidPrice, bt.AskPrice, e.tickSize, e.maxSlippageBps)
	}

	o := order.Order{
		ID:              uuid.NewString(),
		Symbol:          req.Symbol,
		Side:            side,
		Type:            common.OrderTypeLimit,
		Price:           quote.Price,
		StopPrice:       req.StopPrice,
		Qty:             req.Quantity,
		TimeInForce:     common.TIFGTC,
		Playbook:        req.Playbook,
		StopDistancePct: stopPct,
	}
	if err := e.queue.Enqueue(o); err != nil {
		return res, fmt.Errorf("enqueue %s %s: %w", side, req.Symbol, err)
	}

	res.Accepted = true
	res.OrderID = o.ID
	res.Price = quote.Price
	res.WouldBeMaker = quote.WouldBeMaker
	res.SlippageBps = quote.SlippageBps
	log.Printf("💰 admitted %s %s qty %.6f @ %.4f (%s, maker=%v)",
		side, req.Symbol, req.Quantity, quote.Price, req.Playbook, quote.WouldBeMaker)
	return res, nil
}

func (e *Impl) rejected(req OpenPositionRequest, violations []string) {
	log.Printf("❌ admission rejected %s (%s): %s", req.Symbol, req.Playbook, strings.Join(violations, "; "))
	if e.bus != nil {
		e.bus.Publish(events.EventAdmissionRejected, events.AdmissionRejection{
			Symbol:     req.Symbol,
			Playbook:   req.Playbook,
			Violations: violations,
		})
	}
}

// --- Queries ---

func (e *Impl) Status(ctx context.Context) (StatusView, error) {
	s, err := e.store.GetBotState(ctx, e.accountID)
	if err != nil {
		return StatusView{}, fmt.Errorf("read bot state: %w", err)
	}
	return StatusView{
		Status:        s.Status,
		IsActive:      s.Status == risk.StatusActive,
		TotalEquity:   s.TotalEquity,
		CurrentR:      s.CurrentR,
		DailyPnl:      s.DailyPnl,
		WeeklyPnl:     s.WeeklyPnl,
		OpenPositions: e.positions.Count(),
		HaltReason:    s.HaltReason,
		LastUpdate:    s.UpdatedAt,
	}, nil
}

func (e *Impl) Positions(ctx context.Context) []db.Position {
	return e.positions.OpenPositions()
}

func (e *Impl) RiskConfig() risk.Config {
	return e.risk.Get()
}

func (e *Impl) UpdateRiskConfig(ctx context.Context, cfg risk.Config) (risk.Config, error) {
	return e.risk.Update(ctx, cfg)
}
