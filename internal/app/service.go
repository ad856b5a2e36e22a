package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buyLowSellHigh/config"
	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"
)

// Ledger is the live portfolio. The bar runner reads it through ports.Portfolio;
// the service loads it at startup and syncs it with exchange fills before each bar.
type Ledger interface {
	ports.Portfolio
	Load(ctx context.Context) error
	Sync(ctx context.Context) error
}

// TradingService runs the bot against the exchange: one bar per final kline.
type TradingService struct {
	cfg      *config.Config
	logger   ports.Logger
	exchange ports.ExchangeClient
	market   *LiveMarket
	ledger   Ledger
	runner   *BarRunner

	bars chan *domain.Kline // Final klines waiting to be handled, in arrival order
}

// NewTradingService creates a new application service instance.
func NewTradingService(
	cfg *config.Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	market *LiveMarket,
	ledger Ledger,
	runner *BarRunner,
) (*TradingService, error) {
	// Validate dependencies
	if cfg == nil || logger == nil || exchange == nil || market == nil || ledger == nil || runner == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	return &TradingService{
		cfg:      cfg,
		logger:   logger,
		exchange: exchange,
		market:   market,
		ledger:   ledger,
		runner:   runner,
		bars:     make(chan *domain.Kline, 8),
	}, nil
}

// Start runs until ctx is cancelled, a shutdown signal arrives, the stream
// dies, or a bar fails while error swallowing is off.
func (s *TradingService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Trading Service...")

	// Create a context that can be canceled by signals
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// --- Initialization Steps ---
	if err := s.exchange.SetServerTime(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to synchronize server time")
		return fmt.Errorf("failed to set server time: %w", err)
	}
	s.logger.Info(ctx, "Server time synchronized")

	s.logger.Info(ctx, "Synchronizing initial state...")
	if err := s.ledger.Load(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to load ledger state")
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	if err := s.ledger.Sync(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to sync ledger with exchange")
		return fmt.Errorf("failed to sync ledger: %w", err)
	}

	warm := s.cfg.HistoryBarCount
	if required := s.runner.engine.RequiredDataPoints(); required > warm {
		warm = required
	}
	if err := s.market.Warm(ctx, warm); err != nil {
		s.logger.Error(ctx, err, "Failed to load initial klines")
		return err
	}

	// --- Start WebSocket Stream ---
	wsDoneCh, wsStopCh, err := s.exchange.StreamKlines(ctx, s.cfg.Symbol, s.cfg.HistoryFrequency, s.handleKlineEvent, s.handleWsError)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to start WebSocket stream")
		return fmt.Errorf("failed to start WebSocket stream: %w", err)
	}
	s.logger.Info(ctx, "WebSocket stream started", map[string]interface{}{"symbol": s.cfg.Symbol, "interval": s.cfg.HistoryFrequency})

	// --- Main Loop ---
	// Bars are handled here, one at a time, never on the stream goroutine.
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Main context cancelled, initiating shutdown...")
			s.stopStream(ctx, wsStopCh, wsDoneCh)
			s.logger.Info(ctx, "Trading Service stopped.", map[string]interface{}{"totalErrors": s.runner.ErrorLog().Len()})
			return nil
		case <-wsDoneCh:
			// WebSocket closed unexpectedly (e.g., max reconnect attempts failed)
			s.logger.Error(ctx, fmt.Errorf("websocket stream closed unexpectedly"), "WebSocket stream stopped")
			return fmt.Errorf("websocket stream stopped unexpectedly")
		case k := <-s.bars:
			if err := s.processBar(ctx, k); err != nil {
				s.logger.Error(ctx, err, "Bar failed with error swallowing disabled, stopping")
				s.stopStream(ctx, wsStopCh, wsDoneCh)
				return err
			}
		}
	}
}

// processBar feeds the kline to the market cache, syncs the ledger and runs the bar.
func (s *TradingService) processBar(ctx context.Context, k *domain.Kline) error {
	s.market.Append(k)
	if err := s.ledger.Sync(ctx); err != nil {
		// The bar still runs on the last known ledger state.
		s.logger.Error(ctx, err, "Failed to sync ledger before bar", map[string]interface{}{"openTime": k.OpenTime})
	}
	out, err := s.runner.RunBar(ctx, k.OpenTime)
	if err != nil {
		return fmt.Errorf("bar %s: %w", k.OpenTime.UTC().Format(time.RFC3339), err)
	}
	if out.Order != nil {
		s.logger.Debug(ctx, "Bar produced an order", map[string]interface{}{"orderID": out.Order.ID})
	}
	return nil
}

// handleKlineEvent processes incoming kline data from the WebSocket.
func (s *TradingService) handleKlineEvent(kline *domain.Kline) {
	// Use a background context for handlers for now, consider request-scoped if needed later
	ctx := context.Background()
	s.logger.Debug(ctx, "Received kline event", map[string]interface{}{
		"symbol":    kline.Symbol,
		"interval":  kline.Interval,
		"closeTime": kline.CloseTime,
		"close":     kline.Close,
		"isFinal":   kline.IsFinal,
	})

	// Only process final klines to avoid acting on incomplete data
	if !kline.IsFinal {
		return
	}
	select {
	case s.bars <- kline:
	default:
		s.logger.Warn(ctx, "Bar queue full, dropping kline", map[string]interface{}{"openTime": kline.OpenTime})
	}
}

// handleWsError handles errors reported by the WebSocket stream.
func (s *TradingService) handleWsError(err error) {
	ctx := context.Background() // Use a background context for handlers
	s.logger.Error(ctx, err, "WebSocket stream error reported")
}

func (s *TradingService) stopStream(ctx context.Context, stopCh chan struct{}, doneCh chan struct{}) {
	// Signal WebSocket to stop
	select {
	case stopCh <- struct{}{}:
		s.logger.Info(ctx, "Stop signal sent to WebSocket stream")
	default:
		s.logger.Warn(ctx, "Failed to send stop signal to WebSocket (already closed?)")
	}
	// Wait briefly for WebSocket to close gracefully
	select {
	case <-doneCh:
		s.logger.Info(ctx, "WebSocket stream shut down gracefully")
	case <-time.After(5 * time.Second): // Timeout for WS shutdown
		s.logger.Warn(ctx, "Timeout waiting for WebSocket stream to shut down")
	}
}
