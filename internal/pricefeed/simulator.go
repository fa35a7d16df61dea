// Package pricefeed simulates market movement by random-walking every
// asset's reference price. It stands in for the external price source the
// engine only ever reads.
package pricefeed

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/papertrade/papertrade/internal/assets"
	"github.com/papertrade/papertrade/internal/events"
	"github.com/papertrade/papertrade/internal/orderbook"
)

// Simulator periodically drifts asset reference prices and publishes
// price and book updates.
type Simulator struct {
	logger   *zap.Logger
	assets   *assets.Service
	book     *orderbook.Store
	pub      events.Publisher
	interval time.Duration
	maxDrift float64 // e.g. 0.02 for +/-2% per tick
	depth    int

	mu        sync.Mutex
	stopChan  chan struct{}
	doneChan  chan struct{}
	isRunning bool
}

// NewSimulator creates a price feed simulator. maxDriftPercent bounds a
// single tick's move, e.g. 2.0 allows +/-2%.
func NewSimulator(logger *zap.Logger, assetSvc *assets.Service, book *orderbook.Store, pub events.Publisher, interval time.Duration, maxDriftPercent float64, depth int) *Simulator {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxDriftPercent <= 0 {
		maxDriftPercent = 2.0
	}
	if depth <= 0 {
		depth = 10
	}
	return &Simulator{
		logger:   logger,
		assets:   assetSvc,
		book:     book,
		pub:      pub,
		interval: interval,
		maxDrift: maxDriftPercent / 100,
		depth:    depth,
	}
}

// Start starts the price updater goroutine
func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("price feed is already running")
	}
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.isRunning = true

	go s.run()

	s.logger.Info("Price feed started", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops the price updater and waits for it to exit
func (s *Simulator) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return fmt.Errorf("price feed is not running")
	}
	close(s.stopChan)
	<-s.doneChan
	s.isRunning = false

	s.logger.Info("Price feed stopped")
	return nil
}

func (s *Simulator) run() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick drifts every asset's price once and publishes the updates. Exposed
// for tests and manual stepping.
func (s *Simulator) Tick(ctx context.Context) {
	list, err := s.assets.ListAssets(ctx)
	if err != nil {
		s.logger.Error("Failed to list assets for price tick", zap.Error(err))
		return
	}

	for _, asset := range list {
		// Random change within +/- maxDrift
		change := (rand.Float64()*2 - 1) * s.maxDrift
		factor := decimal.NewFromFloat(1 + change)
		newPrice := asset.CurrentPrice.Mul(factor).Round(8)
		if !newPrice.IsPositive() {
			continue
		}

		if err := s.assets.UpdatePrice(ctx, asset.ID, newPrice); err != nil {
			s.logger.Error("Failed to update asset price",
				zap.String("symbol", asset.Symbol), zap.Error(err))
			continue
		}

		s.pub.Publish(events.Event{
			Kind: events.KindPriceUpdated,
			Price: &events.PricePayload{
				AssetID: asset.ID,
				Symbol:  asset.Symbol,
				Price:   newPrice.String(),
			},
		})

		snapshot, err := s.book.Snapshot(ctx, asset, s.depth)
		if err != nil {
			s.logger.Error("Failed to snapshot book for price tick",
				zap.String("symbol", asset.Symbol), zap.Error(err))
			continue
		}
		s.pub.Publish(events.Event{Kind: events.KindBookUpdated, Book: snapshot})
	}
}
