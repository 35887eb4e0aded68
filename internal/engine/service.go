// Package engine composes the risk gate, account state, pricing, and
// execution layers into the decision loop, and exposes the Service
// interface the control API consumes. The API layer should only reach
// the trading core through this interface.
package engine

import (
	"context"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/risk"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
)

// Service defines the operations the control surface may invoke.
type Service interface {
	// Lifecycle commands. Resume covers both the plain start (empty
	// justification) and the audited return from an automatic halt.
	Resume(ctx context.Context, justification string) (previous string, err error)
	Stop(ctx context.Context, reason string) (previous string, err error)
	EmergencyStop(ctx context.Context, reason string) (flattened int, err error)

	// OpenPosition runs the full admission path for one decision
	// request. A refusal is reported in the result, not as an error.
	OpenPosition(ctx context.Context, req OpenPositionRequest) (OpenPositionResult, error)

	// Queries
	Status(ctx context.Context) (StatusView, error)
	Positions(ctx context.Context) []db.Position

	// Risk configuration
	RiskConfig() risk.Config
	UpdateRiskConfig(ctx context.Context, cfg risk.Config) (risk.Config, error)
}
