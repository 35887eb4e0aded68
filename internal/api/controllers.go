package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/engine"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/risk"

	"github.com/gin-gonic/gin"
)

type stopRequest struct {
	Reason string `json:"reason"`
}

type resumeRequest struct {
	Justification string `json:"justification"`
}

type openPositionRequest struct {
	Symbol      string  `json:"symbol" binding:"required,min=1"`
	Side        string  `json:"side" binding:"required,min=1"`
	Quantity    float64 `json:"quantity" binding:"gt=0"`
	TargetPrice float64 `json:"targetPrice" binding:"gt=0"`
	Playbook    string  `json:"playbook" binding:"required,min=1"`
	StopPrice   float64 `json:"stopPrice"`
}

type listQuery struct {
	Limit int `form:"limit"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondLifecycleError maps halt machine refusals onto HTTP statuses.
func respondLifecycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, risk.ErrNotHalted):
		respondError(c, http.StatusConflict, "NOT_HALTED", err.Error())
	case errors.Is(err, risk.ErrJustificationRequired):
		respondError(c, http.StatusForbidden, "JUSTIFICATION_REQUIRED", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "ENGINE_ERROR", err.Error())
	}
}

// bindOptionalJSON reads an optional request body. An empty body leaves
// the target at its zero value.
func bindOptionalJSON(c *gin.Context, out any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(out); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return false
	}
	return true
}

// getBotStatus reports the live account summary.
func (s *Server) getBotStatus(c *gin.Context) {
	view, err := s.Engine.Status(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, view)
}

// startBot moves the account to ACTIVE. Returning from an automatic
// halt goes through /control/bot/resume with a justification instead.
func (s *Server) startBot(c *gin.Context) {
	prev, err := s.Engine.Resume(c.Request.Context(), "")
	if err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"previousStatus": prev,
	})
}

// stopBot halts trading manually. Open positions are kept.
func (s *Server) stopBot(c *gin.Context) {
	var req stopRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	prev, err := s.Engine.Stop(c.Request.Context(), req.Reason)
	if err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("trading stopped (was %s)", prev),
	})
}

// emergencyStop halts trading and flattens every open position.
func (s *Server) emergencyStop(c *gin.Context) {
	var req stopRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	flattened, err := s.Engine.EmergencyStop(c.Request.Context(), req.Reason)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ENGINE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"message":            fmt.Sprintf("flattened %d positions", flattened),
		"positionsFlattened": flattened,
	})
}

// resumeBot returns the account to ACTIVE. Automatic halts demand a
// written justification; the halt machine enforces it.
func (s *Server) resumeBot(c *gin.Context) {
	var req resumeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	prev, err := s.Engine.Resume(c.Request.Context(), req.Justification)
	if err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"previousStatus": prev,
	})
}

// getRiskConfig returns the active risk limits.
func (s *Server) getRiskConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.RiskConfig())
}

// updateRiskConfig validates and applies a full replacement config.
// Partial updates are not supported; send the whole document.
func (s *Server) updateRiskConfig(c *gin.Context) {
	var cfg risk.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}

	applied, err := s.Engine.UpdateRiskConfig(c.Request.Context(), cfg)
	if err != nil {
		var verrs risk.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":       "INVALID_CONFIG",
				"error":      verrs.Error(),
				"violations": verrs,
			})
			return
		}
		respondError(c, http.StatusInternalServerError, "CONFIG_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, applied)
}

// getPositions returns the open book.
func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Positions(c.Request.Context()))
}

// openPosition runs one decision request through the admission path.
// A refusal is a normal outcome: the verdict travels in the body, not
// in the status code.
func (s *Server) openPosition(c *gin.Context) {
	var req openPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}

	res, err := s.Engine.OpenPosition(c.Request.Context(), engine.OpenPositionRequest{
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		TargetPrice: req.TargetPrice,
		Playbook:    req.Playbook,
		StopPrice:   req.StopPrice,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ENGINE_ERROR", err.Error())
		return
	}

	if res.Accepted {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// getTrades returns the most recent closed trades.
func (s *Server) getTrades(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	trades, err := s.DB.ListTrades(c.Request.Context(), s.AccountID, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, trades)
}

// getHaltEvents returns the status transition audit trail, newest first.
func (s *Server) getHaltEvents(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	events, err := s.DB.ListHaltEvents(c.Request.Context(), s.AccountID, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, events)
}

// getSystemStatus exposes runtime mode/venue for the dashboard.
func (s *Server) getSystemStatus(c *gin.Context) {
	mode := "LIVE"
	if s.Meta.DryRun {
		mode = "DRY_RUN"
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":          mode,
		"dry_run":       s.Meta.DryRun,
		"venue":         s.Meta.Venue,
		"symbols":       s.Meta.Symbols,
		"use_mock_feed": s.Meta.UseMockFeed,
		"version":       s.Meta.Version,
		"server_time":   time.Now().UTC(),
	})
}

// getReconciliationStatus returns the last completed pass, if any.
func (s *Server) getReconciliationStatus(c *gin.Context) {
	if s.Recon == nil {
		respondError(c, http.StatusServiceUnavailable, "RECONCILIATION_UNAVAILABLE", "reconciliation not configured")
		return
	}
	report := s.Recon.Status()
	if report == nil {
		c.JSON(http.StatusOK, gin.H{"status": "never_run"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// triggerReconciliation runs a pass now and returns the full report.
func (s *Server) triggerReconciliation(c *gin.Context) {
	if s.Recon == nil {
		respondError(c, http.StatusServiceUnavailable, "RECONCILIATION_UNAVAILABLE", "reconciliation not configured")
		return
	}
	report, err := s.Recon.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusBadGateway, "RECONCILIATION_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}
