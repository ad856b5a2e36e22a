package backtesting

import (
	"context"
	"fmt"
	"time"

	"buyLowSellHigh/internal/adapters/metrics"
	"buyLowSellHigh/internal/adapters/paper"
	"buyLowSellHigh/internal/app"
	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"
	"buyLowSellHigh/internal/risk"
	"buyLowSellHigh/internal/strategy/analytics"
)

// BacktestConfig holds configuration for backtesting
type BacktestConfig struct {
	Symbol          string
	Interval        string    // Kline interval of the series
	StartTime       time.Time // Bars before StartTime only serve as history; zero means from the first bar
	EndTime         time.Time // Bars after EndTime are not replayed; zero means to the last bar
	InitialCash     float64
	HistoryBarCount int
	OrderTTLBars    int
	Risk            risk.Config // Order limits; the zero value submits orders unchecked
	SwallowErrors   bool
	RunID           string
	Logger          ports.Logger
	Recorder        ports.Recorder // Optional extra recorder fed alongside the in-memory series
	ErrorSink       ports.BarErrorRepository
}

// BacktestResult holds the results of a backtest
type BacktestResult struct {
	RunID         string
	InitialCash   float64
	Bars          int // Bars handed to the bar routine
	Trades        []*domain.Trade
	Fills         []*domain.Fill
	Orders        []*domain.Order
	Series        []domain.BarTelemetry
	Errors        []domain.BarError
	FinalCash     float64
	FinalPosition *domain.Position
	FinalEquity   float64
	LastPrice     float64 // Close of the last replayed bar
	Metrics       *analytics.PerformanceMetrics
}

// UnrealizedPNL is the open position's profit at the last close, zero when flat.
func (r *BacktestResult) UnrealizedPNL() float64 {
	if r.FinalPosition == nil {
		return 0
	}
	return r.FinalPosition.UnrealizedPNL(r.LastPrice)
}

// ReturnOnEquity is the mark-to-market return over the run, open position included.
func (r *BacktestResult) ReturnOnEquity() float64 {
	if r.InitialCash <= 0 {
		return 0
	}
	return (r.FinalEquity - r.InitialCash) / r.InitialCash
}

// Backtest replays klines through the bar routine against a paper exchange.
// Each bar is handled once it has closed; orders placed on a bar can fill from
// the next bar on.
func Backtest(ctx context.Context, engine ports.DecisionEngine, klines []*domain.Kline, cfg BacktestConfig) (*BacktestResult, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for backtesting")
	}
	if !cfg.EndTime.IsZero() {
		for i, k := range klines {
			if k.OpenTime.After(cfg.EndTime) {
				klines = klines[:i]
				break
			}
		}
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("%w: no klines to backtest", ports.ErrInsufficientData)
	}
	if len(klines) < engine.RequiredDataPoints() {
		return nil, fmt.Errorf("%w: have %d klines, engine needs %d", ports.ErrInsufficientData, len(klines), engine.RequiredDataPoints())
	}

	exchange, err := paper.NewExchange(paper.Config{
		Symbol:       cfg.Symbol,
		Interval:     cfg.Interval,
		InitialCash:  cfg.InitialCash,
		OrderTTLBars: cfg.OrderTTLBars,
	}, klines, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create paper exchange: %w", err)
	}

	var router ports.OrderRouter = exchange
	if cfg.Risk.Enabled() {
		if router, err = risk.NewGuard(cfg.Risk, exchange, cfg.Logger); err != nil {
			return nil, fmt.Errorf("failed to create risk guard: %w", err)
		}
	}

	series := metrics.NewSeriesRecorder()
	var recorder ports.Recorder = series
	if cfg.Recorder != nil {
		recorder = metrics.Tee{series, cfg.Recorder}
	}

	runner, err := app.NewBarRunner(app.BarConfig{
		Symbol:           cfg.Symbol,
		HistoryBarCount:  cfg.HistoryBarCount,
		HistoryFrequency: cfg.Interval,
		SwallowErrors:    cfg.SwallowErrors,
		RunID:            cfg.RunID,
	}, cfg.Logger, engine, exchange, exchange, router, recorder, app.NewErrorLog(cfg.ErrorSink, cfg.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create bar runner: %w", err)
	}

	result := &BacktestResult{RunID: cfg.RunID, InitialCash: cfg.InitialCash}
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
		}
		bar, ok := exchange.Advance(ctx)
		if !ok {
			break
		}
		if !cfg.StartTime.IsZero() && bar.OpenTime.Before(cfg.StartTime) {
			continue
		}
		result.Bars++
		if _, err := runner.RunBar(ctx, bar.OpenTime); err != nil {
			return nil, fmt.Errorf("backtest stopped at bar %s: %w", bar.OpenTime.Format(time.RFC3339), err)
		}
	}

	result.Trades = exchange.Trades()
	result.Fills = exchange.Fills()
	result.Orders = exchange.Orders()
	result.Series = series.Series()
	result.Errors = runner.ErrorLog().Snapshot()
	if result.FinalCash, err = exchange.Cash(ctx); err != nil {
		return nil, err
	}
	if result.FinalPosition, err = exchange.Position(ctx, cfg.Symbol); err != nil {
		return nil, err
	}
	result.FinalEquity = exchange.Equity()
	if last := exchange.Current(); last != nil {
		result.LastPrice = last.Close
	}
	result.Metrics = analytics.AnalyzePerformance(result.Trades, cfg.InitialCash)

	cfg.Logger.Info(ctx, "Backtest finished", map[string]interface{}{
		"runID":       cfg.RunID,
		"bars":        result.Bars,
		"trades":      len(result.Trades),
		"errors":      len(result.Errors),
		"finalCash":   result.FinalCash,
		"finalEquity": result.FinalEquity,
	})
	return result, nil
}
