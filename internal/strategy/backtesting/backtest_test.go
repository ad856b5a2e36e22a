package backtesting

import (
	"context"
	"errors"
	"testing"
	"time"

	"buyLowSellHigh/internal/adapters/metrics"
	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"
	"buyLowSellHigh/internal/risk"
	"buyLowSellHigh/internal/strategy"
	"buyLowSellHigh/internal/strategy/indicators"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// scriptedEngine answers each bar from a script; pending orders always yield no action.
type scriptedEngine struct {
	calls  int
	script func(call int, in domain.BarInput) (domain.Decision, error)
}

func (s *scriptedEngine) Decide(ctx context.Context, in domain.BarInput) (domain.Decision, error) {
	s.calls++
	if in.HasOpenOrders {
		return domain.Decision{Action: domain.NoAction(), Indicator: domain.Undefined(), Reason: domain.ReasonOpenOrders}, nil
	}
	return s.script(s.calls, in)
}

func (s *scriptedEngine) RequiredDataPoints() int { return 1 }

var start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, open, high, low, cls float64) *domain.Kline {
	t := start.Add(time.Duration(i) * 15 * time.Minute)
	return &domain.Kline{
		OpenTime:  t,
		CloseTime: t.Add(15*time.Minute - time.Millisecond),
		Symbol:    "XRPUSDT",
		Interval:  "15m",
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		IsFinal:   true,
	}
}

func roundTripKlines() []*domain.Kline {
	return []*domain.Kline{
		bar(0, 1, 1, 1, 1),
		bar(1, 1, 1, 0.9, 0.95),
		bar(2, 1.1, 1.3, 1.05, 1.25),
		bar(3, 1.25, 1.3, 1.2, 1.25),
	}
}

func roundTripScript(call int, in domain.BarInput) (domain.Decision, error) {
	switch call {
	case 1:
		return domain.Decision{Action: domain.BuyAction(100, 1.0), Reason: domain.ReasonEntry}, nil
	case 2:
		return domain.Decision{Action: domain.CloseAction(1.2), Reason: domain.ReasonTakeProfit}, nil
	default:
		return domain.Decision{Action: domain.NoAction(), Reason: domain.ReasonNoOpportunity}, nil
	}
}

func baseConfig() BacktestConfig {
	return BacktestConfig{
		Symbol:          "XRPUSDT",
		Interval:        "15m",
		InitialCash:     10000,
		HistoryBarCount: 20,
		SwallowErrors:   true,
		RunID:           "test-run",
		Logger:          &mockLogger{},
	}
}

func TestBacktest_RoundTrip(t *testing.T) {
	engine := &scriptedEngine{script: roundTripScript}
	extra := metrics.NewSeriesRecorder()
	cfg := baseConfig()
	cfg.Recorder = extra

	result, err := Backtest(context.Background(), engine, roundTripKlines(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "test-run", result.RunID)
	assert.Equal(t, 4, result.Bars)
	assert.Equal(t, 4, engine.calls)
	require.Len(t, result.Fills, 2)
	assert.Equal(t, 1.0, result.Fills[0].Price)
	assert.Equal(t, 1.2, result.Fills[1].Price)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, domain.CloseReasonTakeProfit, trade.CloseReason)
	assert.InDelta(t, 20, trade.PNL, 1e-9)

	assert.Nil(t, result.FinalPosition)
	assert.InDelta(t, 10020, result.FinalCash, 1e-9)
	assert.InDelta(t, 10020, result.FinalEquity, 1e-9)
	assert.InDelta(t, 0.002, result.ReturnOnEquity(), 1e-12)

	require.Len(t, result.Orders, 2)
	for _, o := range result.Orders {
		assert.Equal(t, domain.OrderStatusFilled, o.Status)
	}

	require.Len(t, result.Series, 4)
	assert.Equal(t, domain.ActionBuy, result.Series[0].Action)
	assert.Equal(t, domain.ActionClose, result.Series[1].Action)
	assert.Equal(t, start.Add(15*time.Minute), result.Series[1].BarTime)
	assert.Len(t, extra.Series(), 4, "extra recorder sees every bar")

	assert.Empty(t, result.Errors)
	require.NotNil(t, result.Metrics)
	assert.Equal(t, 1, result.Metrics.TotalTrades)
	assert.Equal(t, 1.0, result.Metrics.WinRate)
}

func TestBacktest_ErrorHandling(t *testing.T) {
	boom := errors.New("indicator exploded")
	failSecond := func(call int, in domain.BarInput) (domain.Decision, error) {
		if call == 2 {
			return domain.Decision{}, boom
		}
		return domain.Decision{Action: domain.NoAction(), Reason: domain.ReasonNoOpportunity}, nil
	}

	t.Run("swallowed faults are logged and the run continues", func(t *testing.T) {
		engine := &scriptedEngine{script: failSecond}
		result, err := Backtest(context.Background(), engine, roundTripKlines(), baseConfig())
		require.NoError(t, err)

		assert.Equal(t, 4, engine.calls)
		require.Len(t, result.Errors, 1)
		assert.ErrorIs(t, result.Errors[0], boom)
		assert.Equal(t, start.Add(15*time.Minute), result.Errors[0].BarTime)
		assert.Equal(t, "test-run", result.Errors[0].RunID)
		assert.Len(t, result.Series, 3, "the failed bar records no telemetry")
	})

	t.Run("faults stop the run when not swallowed", func(t *testing.T) {
		engine := &scriptedEngine{script: failSecond}
		cfg := baseConfig()
		cfg.SwallowErrors = false

		_, err := Backtest(context.Background(), engine, roundTripKlines(), cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 2, engine.calls)
	})
}

func TestBacktest_RiskGuard(t *testing.T) {
	engine := &scriptedEngine{script: roundTripScript}
	cfg := baseConfig()
	cfg.Risk = risk.Config{MinNotional: 1000}

	result, err := Backtest(context.Background(), engine, roundTripKlines(), cfg)
	require.NoError(t, err)

	assert.Empty(t, result.Orders, "the guard keeps the small buy off the exchange")
	assert.Empty(t, result.Fills)
	assert.InDelta(t, 10000, result.FinalCash, 1e-9)
	// The rejected buy, then the close with nothing held.
	require.Len(t, result.Errors, 2)
	assert.ErrorIs(t, result.Errors[0], ports.ErrInvalidOrder)
	assert.ErrorIs(t, result.Errors[1], ports.ErrInvalidOrder)
}

func TestBacktest_Window(t *testing.T) {
	engine := &scriptedEngine{script: func(int, domain.BarInput) (domain.Decision, error) {
		return domain.Decision{Action: domain.NoAction(), Reason: domain.ReasonNoOpportunity}, nil
	}}
	cfg := baseConfig()
	cfg.StartTime = start.Add(15 * time.Minute)
	cfg.EndTime = start.Add(30 * time.Minute)

	result, err := Backtest(context.Background(), engine, roundTripKlines(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Bars)
	assert.Equal(t, 2, engine.calls)
	assert.Equal(t, cfg.StartTime, result.Series[0].BarTime)
}

func TestBacktest_EndTimeStopsMatching(t *testing.T) {
	cfg := baseConfig()
	cfg.EndTime = start

	result, err := Backtest(context.Background(), &scriptedEngine{script: roundTripScript}, roundTripKlines(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Bars)
	assert.Empty(t, result.Fills, "the buy would only cross on a bar after the window")
	assert.Equal(t, 1.0, result.LastPrice)
	assert.Zero(t, result.UnrealizedPNL())

	cfg.EndTime = start.Add(15 * time.Minute)
	result, err = Backtest(context.Background(), &scriptedEngine{script: roundTripScript}, roundTripKlines(), cfg)
	require.NoError(t, err)
	require.NotNil(t, result.FinalPosition)
	assert.Equal(t, 100.0, result.FinalPosition.Amount)
	assert.Equal(t, 0.95, result.LastPrice)
	assert.InDelta(t, -5, result.UnrealizedPNL(), 1e-9)
	assert.InDelta(t, 9995, result.FinalEquity, 1e-9)
}

func TestBacktest_Validation(t *testing.T) {
	engine := &scriptedEngine{script: roundTripScript}

	cfg := baseConfig()
	cfg.Logger = nil
	_, err := Backtest(context.Background(), engine, roundTripKlines(), cfg)
	assert.Error(t, err)

	_, err = Backtest(context.Background(), engine, nil, baseConfig())
	assert.ErrorIs(t, err, ports.ErrInsufficientData)

	unordered := roundTripKlines()
	unordered[1], unordered[2] = unordered[2], unordered[1]
	_, err = Backtest(context.Background(), engine, unordered, baseConfig())
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Backtest(ctx, engine, roundTripKlines(), baseConfig())
	assert.ErrorIs(t, err, ports.ErrContextCanceled)
}

func TestBacktest_RSIEngineOnFallingMarket(t *testing.T) {
	rsi, err := indicators.NewRSI(indicators.RSIConfig{IndicatorConfig: indicators.IndicatorConfig{Period: 14}})
	require.NoError(t, err)
	engine, err := strategy.New(strategy.Config{
		TargetPositions: 5000,
		ProfitTarget:    0.1,
		SlippageAllowed: 0.05,
		Ladder:          strategy.DefaultBuyLadder(),
	}, rsi, &mockLogger{})
	require.NoError(t, err)

	// Every close is one lower than the last, so RSI reads 0 once defined.
	klines := make([]*domain.Kline, 20)
	for i := range klines {
		cls := 100 - float64(i)
		klines[i] = bar(i, cls+0.5, cls+1, cls-0.5, cls)
	}

	result, err := Backtest(context.Background(), engine, klines, baseConfig())
	require.NoError(t, err)
	require.Len(t, result.Series, 20)

	for i := 0; i < 14; i++ {
		assert.Equal(t, domain.ReasonInsufficientData, result.Series[i].Reason, "bar %d", i)
		assert.False(t, result.Series[i].Indicator.Defined)
	}
	assert.Equal(t, domain.ReasonEntry, result.Series[14].Reason)
	assert.Equal(t, 0.0, result.Series[14].Indicator.Value)
	assert.Equal(t, domain.ReasonAveragingDown, result.Series[15].Reason)
	assert.Equal(t, domain.ReasonInsufficientFunds, result.Series[16].Reason)

	// Bought 50 at 85.5 then 50 at 84.5.
	require.Len(t, result.Fills, 2)
	require.NotNil(t, result.FinalPosition)
	assert.InDelta(t, 100, result.FinalPosition.Amount, 1e-9)
	assert.InDelta(t, 85, result.FinalPosition.CostBasis, 1e-9)
	assert.InDelta(t, 1500, result.FinalCash, 1e-9)
	assert.Empty(t, result.Trades)
	assert.InDelta(t, 1500+100*81, result.FinalEquity, 1e-9)
}
