// Package server exposes the HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/papertrade/papertrade/internal/assets"
	"github.com/papertrade/papertrade/internal/config"
	"github.com/papertrade/papertrade/internal/engine"
	"github.com/papertrade/papertrade/internal/ws"
)

// Server wires the matching engine into an HTTP API.
type Server struct {
	logger *zap.Logger
	cfg    config.ServerConfig
	engine *engine.Engine
	assets *assets.Service
	hub    *ws.Hub

	httpServer *http.Server
}

// NewServer creates the HTTP server with all routes registered.
func NewServer(logger *zap.Logger, cfg config.ServerConfig, eng *engine.Engine, assetSvc *assets.Service, hub *ws.Hub) *Server {
	s := &Server{
		logger: logger,
		cfg:    cfg,
		engine: eng,
		assets: assetSvc,
		hub:    hub,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "X-User-ID")
	router.Use(cors.New(corsCfg))

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gin.WrapF(hub.ServeWS))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/assets", s.handleListAssets)
		v1.POST("/assets", s.handleCreateAsset)
		v1.GET("/assets/:symbol", s.handleGetAsset)

		v1.POST("/orders", s.handleSubmitOrder)
		v1.GET("/orders", s.handleListOrders)
		v1.GET("/orders/:id", s.handleGetOrder)
		v1.GET("/orders/:id/fills", s.handleListFills)

		v1.GET("/orderbook/:symbol", s.handleGetOrderBook)
		v1.GET("/holdings", s.handleGetHoldings)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}
