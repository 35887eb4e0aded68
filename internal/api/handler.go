// Package api exposes the operator control surface over HTTP: bot
// lifecycle, risk configuration, manual admission requests, the
// reconciliation trigger, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/engine"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/reconciliation"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reconciler is the slice of the reconciliation service the API needs.
type Reconciler interface {
	Status() *reconciliation.Report
	Reconcile(ctx context.Context) (*reconciliation.Report, error)
}

// Server wires the control endpoints around the engine service.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Recon     Reconciler
	DB        *db.Database
	AccountID string
	Meta      SystemMeta

	mu   sync.Mutex
	http *http.Server
}

// SystemMeta describes runtime status exposed to operators.
type SystemMeta struct {
	DryRun      bool
	Venue       string
	Symbols     []string
	UseMockFeed bool
	Version     string
}

func NewServer(engineSvc engine.Service, recon Reconciler, database *db.Database, accountID string, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())        // Panic recovery (first)
	r.Use(RequestIDMiddleware()) // Request ID tracking
	r.Use(RequestLogger())       // Request logging (after ID is set)
	r.Use(RateLimitMiddleware()) // Rate limiting
	// Security headers handled by Nginx
	r.Use(TimeoutMiddleware(30 * time.Second)) // Request timeout (30s)
	r.Use(CORSMiddleware())                    // CORS (last before routes)

	s := &Server{
		Router:    r,
		Engine:    engineSvc,
		Recon:     recon,
		DB:        database,
		AccountID: accountID,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/healthz", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	control := s.Router.Group("/control")
	{
		bot := control.Group("/bot")
		{
			bot.GET("/status", s.getBotStatus)
			bot.POST("/start", s.startBot)
			bot.POST("/stop", s.stopBot)
			bot.POST("/emergency-stop", s.emergencyStop)
			bot.POST("/resume", s.resumeBot)
		}

		control.GET("/risk/config", s.getRiskConfig)
		control.PUT("/risk/config", s.updateRiskConfig)

		control.GET("/positions", s.getPositions)
		control.POST("/positions/open", s.openPosition)

		control.GET("/trades", s.getTrades)
		control.GET("/halts", s.getHaltEvents)
		control.GET("/system/status", s.getSystemStatus)
	}

	recon := s.Router.Group("/reconciliation")
	{
		recon.GET("/status", s.getReconciliationStatus)
		recon.POST("/trigger", s.triggerReconciliation)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves the control API until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	s.http = &http.Server{Addr: addr, Handler: s.Router}
	srv := s.http
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting new requests and waits for in-flight ones,
// bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
