package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/papertrade/papertrade/internal/assets"
	"github.com/papertrade/papertrade/internal/config"
	"github.com/papertrade/papertrade/internal/database"
	"github.com/papertrade/papertrade/internal/engine"
	"github.com/papertrade/papertrade/internal/events"
	"github.com/papertrade/papertrade/internal/ledger"
	"github.com/papertrade/papertrade/internal/orderbook"
	"github.com/papertrade/papertrade/internal/pricefeed"
	"github.com/papertrade/papertrade/internal/server"
	"github.com/papertrade/papertrade/internal/ws"
	"github.com/papertrade/papertrade/pkg/logger"
)

func main() {
	// .env is optional, real env vars win either way
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".", "./config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting papertrade",
		zap.String("db_driver", cfg.Database.Driver),
		zap.Int("port", cfg.Server.Port))

	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("Failed to migrate schema", zap.Error(err))
	}

	bus := events.NewBus(log, cfg.Events.SubscriberBuffer)
	assetSvc := assets.NewService(log, db)
	ledgerSvc := ledger.NewService(log, db)
	bookStore := orderbook.NewStore(db)
	eng := engine.NewEngine(log, db, assetSvc, ledgerSvc, bookStore, bus)

	feed := pricefeed.NewSimulator(log, assetSvc, bookStore, bus,
		cfg.PriceFeed.Interval, cfg.PriceFeed.MaxDriftPercent, cfg.PriceFeed.BookDepth)
	if cfg.PriceFeed.Enabled {
		if err := feed.Start(); err != nil {
			log.Fatal("Failed to start price feed", zap.Error(err))
		}
	}

	hub := ws.NewHub(log, bus)
	srv := server.NewServer(log, cfg.Server, eng, assetSvc, hub)

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Error("Server exited", zap.Error(err))
	case sig := <-quit:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown error", zap.Error(err))
	}
	if cfg.PriceFeed.Enabled {
		if err := feed.Stop(); err != nil {
			log.Error("Price feed shutdown error", zap.Error(err))
		}
	}
	hub.Stop()
	bus.Close()

	log.Info("Shutdown complete")
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "sqlite":
		return database.NewSQLiteDB(cfg.DSN)
	case "postgres", "":
		return database.NewPostgresDB(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}
