// Package server exposes the swap engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rateSwap/internal/ledger"
	"rateSwap/internal/metrics"
	"rateSwap/internal/ratetable"
	"rateSwap/internal/swap"
	"rateSwap/internal/tokens"
)

// Config holds HTTP settings.
type Config struct {
	OperatorToken string
	// SwapRate is the sustained swap submissions per second allowed per client
	// IP. Zero disables limiting.
	SwapRate        float64
	SwapBurst       int
	ShutdownTimeout time.Duration
}

// Deps are the collaborators behind the HTTP surface. Stream and Tokens are
// optional.
type Deps struct {
	Engine *swap.Engine
	Rates  ratetable.Store
	Ledger ledger.Store
	Stream http.Handler
	Tokens *tokens.Registry
	Logger *zap.Logger
}

type Server struct {
	cfg     Config
	engine  *swap.Engine
	rates   ratetable.Store
	ledger  ledger.Store
	stream  http.Handler
	tokens  *tokens.Registry
	logger  *zap.Logger
	metrics *metrics.HTTPMetrics
	limiter *ipLimiter
	router  *gin.Engine
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}
	if deps.Rates == nil {
		return nil, fmt.Errorf("rate table is nil")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger is nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		engine:  deps.Engine,
		rates:   deps.Rates,
		ledger:  deps.Ledger,
		stream:  deps.Stream,
		tokens:  deps.Tokens,
		logger:  logger,
		metrics: metrics.HTTP(),
	}
	if cfg.SwapRate > 0 {
		s.limiter = newIPLimiter(rate.Limit(cfg.SwapRate), cfg.SwapBurst)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "pool": s.engine.Pool().Hex()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/rates", s.listRates)
	v1.GET("/rates/:in/:out", s.getRate)
	v1.PUT("/rates", s.requireOperator(), s.setRate)
	v1.GET("/quote", s.quote)
	v1.POST("/swaps/check", s.checkSwap)
	v1.POST("/swaps", s.rateLimit(), s.submitSwap)
	v1.GET("/swaps", s.listSwaps)
	v1.GET("/balances/:account", s.balances)
	v1.POST("/approvals", s.approve)
	v1.POST("/fund", s.requireOperator(), s.fund)
	if s.stream != nil {
		v1.GET("/swaps/stream", gin.WrapH(s.stream))
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
