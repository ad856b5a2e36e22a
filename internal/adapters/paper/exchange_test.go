package paper

import (
	"context"
	"testing"
	"time"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
func (mockLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

var start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// bar builds a 15m kline; ohlc are open, high, low, close.
func bar(i int, ohlc ...float64) *domain.Kline {
	open := start.Add(time.Duration(i) * 15 * time.Minute)
	return &domain.Kline{
		OpenTime: open, CloseTime: open.Add(15*time.Minute - time.Millisecond),
		Symbol: "XRPUSDT", Interval: "15m",
		Open: ohlc[0], High: ohlc[1], Low: ohlc[2], Close: ohlc[3], IsFinal: true,
	}
}

func newExchange(t *testing.T, ttl int, klines ...*domain.Kline) *Exchange {
	t.Helper()
	ex, err := NewExchange(Config{Symbol: "XRPUSDT", Interval: "15m", InitialCash: 1000, OrderTTLBars: ttl}, klines, mockLogger{})
	require.NoError(t, err)
	return ex
}

func buy(qty, limit float64) domain.OrderRequest {
	return domain.OrderRequest{ClientOrderID: "b", Symbol: "XRPUSDT", Side: domain.Buy, Intent: domain.IntentBuy, Quantity: qty, LimitPrice: limit}
}

func closeAll(qty, limit float64) domain.OrderRequest {
	return domain.OrderRequest{ClientOrderID: "c", Symbol: "XRPUSDT", Side: domain.Sell, Intent: domain.IntentClose, Quantity: qty, LimitPrice: limit}
}

func TestExchange_MarketData(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, 0, bar(0, 1, 1, 1, 1), bar(1, 1, 1, 1, 1.1), bar(2, 1, 1, 1, 1.2))

	_, err := ex.CurrentPrice(ctx, "XRPUSDT")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	ex.Advance(ctx)
	ex.Advance(ctx)
	price, err := ex.CurrentPrice(ctx, "XRPUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1.1, price)

	hist, err := ex.History(ctx, "XRPUSDT", "15m", 20)
	require.NoError(t, err)
	require.Len(t, hist, 2, "never looks ahead")
	assert.Equal(t, 1.1, hist[1].Close)

	hist, err = ex.History(ctx, "XRPUSDT", "15m", 1)
	require.NoError(t, err)
	require.Len(t, hist, 1)

	_, err = ex.History(ctx, "XRPUSDT", "1h", 1)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	_, err = ex.CurrentPrice(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, ok := ex.Advance(ctx)
	assert.True(t, ok)
	_, ok = ex.Advance(ctx)
	assert.False(t, ok)
}

func TestExchange_BuyFillsOnNextCrossingBar(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, 0,
		bar(0, 1.0, 1.0, 1.0, 1.0),
		bar(1, 1.2, 1.3, 1.1, 1.2), // Low above limit: no fill
		bar(2, 1.02, 1.1, 0.9, 1.0), // Opens below limit: fills at open
	)
	ex.Advance(ctx)
	_, err := ex.Submit(ctx, buy(50, 1.05))
	require.NoError(t, err)

	open, _ := ex.HasOpenOrders(ctx, "XRPUSDT")
	assert.True(t, open)
	pos, _ := ex.Position(ctx, "XRPUSDT")
	assert.Nil(t, pos, "no fill on the submission bar")

	ex.Advance(ctx)
	open, _ = ex.HasOpenOrders(ctx, "XRPUSDT")
	assert.True(t, open)

	ex.Advance(ctx)
	open, _ = ex.HasOpenOrders(ctx, "XRPUSDT")
	assert.False(t, open)
	pos, _ = ex.Position(ctx, "XRPUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, 50.0, pos.Amount)
	assert.Equal(t, 1.02, pos.CostBasis)

	cash, _ := ex.Cash(ctx)
	assert.InDelta(t, 1000-51, cash, 1e-9)
	require.Len(t, ex.Fills(), 1)
	assert.Equal(t, domain.OrderStatusFilled, ex.Orders()[0].Status)
	assert.InDelta(t, 949+50*1.0, ex.Equity(), 1e-9)
}

func TestExchange_BuyFillsAtLimitWhenOpenAbove(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, 0, bar(0, 1, 1, 1, 1), bar(1, 1.1, 1.2, 1.0, 1.1))
	ex.Advance(ctx)
	_, err := ex.Submit(ctx, buy(10, 1.05))
	require.NoError(t, err)
	ex.Advance(ctx)

	pos, _ := ex.Position(ctx, "XRPUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, 1.05, pos.CostBasis)
}

func TestExchange_CloseSellsEverythingHeld(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, 0,
		bar(0, 1, 1, 1, 1),
		bar(1, 1, 1, 0.9, 1),
		bar(2, 1.2, 1.25, 1.15, 1.2),
		bar(3, 1.1, 1.3, 1.1, 1.3),
	)
	ex.Advance(ctx)
	_, err := ex.Submit(ctx, buy(100, 1.0))
	require.NoError(t, err)
	ex.Advance(ctx)
	_, err = ex.Submit(ctx, buy(20, 0.95))
	require.NoError(t, err)
	ex.Advance(ctx) // Buy at 0.95 does not cross (low 1.15)

	// Close request built from an earlier snapshot still sells the full holding.
	_, err = ex.Submit(ctx, closeAll(50, 1.14))
	require.NoError(t, err)
	ex.Advance(ctx)

	pos, _ := ex.Position(ctx, "XRPUSDT")
	assert.Nil(t, pos)
	trades := ex.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, 100.0, trades[0].Quantity)
	assert.Equal(t, 1.14, trades[0].ExitPrice, "opens below limit, fills at limit")
	assert.InDelta(t, 14, trades[0].PNL, 1e-9)
	assert.Equal(t, domain.CloseReasonTakeProfit, trades[0].CloseReason)
}

func TestExchange_SellFillsAtOpenWhenGappingUp(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, 0, bar(0, 1, 1, 1, 1), bar(1, 1, 1, 1, 1), bar(2, 1.5, 1.6, 1.4, 1.5))
	ex.Advance(ctx)
	_, err := ex.Submit(ctx, buy(10, 1.0))
	require.NoError(t, err)
	ex.Advance(ctx)
	_, err = ex.Submit(ctx, closeAll(10, 1.2))
	require.NoError(t, err)
	ex.Advance(ctx)

	require.Len(t, ex.Trades(), 1)
	assert.Equal(t, 1.5, ex.Trades()[0].ExitPrice)
}

func TestExchange_CloseWithoutPositionIsCancelled(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, 0, bar(0, 1, 1, 1, 1), bar(1, 2, 2, 2, 2))
	ex.Advance(ctx)
	_, err := ex.Submit(ctx, closeAll(10, 1.0))
	require.NoError(t, err)
	ex.Advance(ctx)

	open, _ := ex.HasOpenOrders(ctx, "XRPUSDT")
	assert.False(t, open)
	assert.Equal(t, domain.OrderStatusCanceled, ex.Orders()[0].Status)
	assert.Empty(t, ex.Fills())
}

func TestExchange_OrderTTL(t *testing.T) {
	ctx := context.Background()
	klines := []*domain.Kline{bar(0, 1, 1, 1, 1), bar(1, 1, 1, 1, 1), bar(2, 1, 1, 1, 1), bar(3, 1, 1, 1, 1)}

	gtc := newExchange(t, 0, klines...)
	gtc.Advance(ctx)
	_, err := gtc.Submit(ctx, buy(1, 0.5))
	require.NoError(t, err)
	for {
		if _, ok := gtc.Advance(ctx); !ok {
			break
		}
	}
	open, _ := gtc.HasOpenOrders(ctx, "XRPUSDT")
	assert.True(t, open, "good-till-cancelled order keeps resting")

	ttl := newExchange(t, 2, klines...)
	ttl.Advance(ctx)
	_, err = ttl.Submit(ctx, buy(1, 0.5))
	require.NoError(t, err)
	ttl.Advance(ctx)
	open, _ = ttl.HasOpenOrders(ctx, "XRPUSDT")
	assert.True(t, open)
	ttl.Advance(ctx)
	open, _ = ttl.HasOpenOrders(ctx, "XRPUSDT")
	assert.False(t, open)
	assert.Equal(t, domain.OrderStatusExpired, ttl.Orders()[0].Status)
}

func TestExchange_SubmitValidation(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, 0, bar(0, 1, 1, 1, 1))

	_, err := ex.Submit(ctx, buy(1, 1))
	assert.ErrorIs(t, err, ports.ErrInvalidOrder, "before first bar")

	ex.Advance(ctx)
	_, err = ex.Submit(ctx, buy(0, 1))
	assert.ErrorIs(t, err, ports.ErrInvalidOrder)
	_, err = ex.Submit(ctx, buy(1, 0))
	assert.ErrorIs(t, err, ports.ErrInvalidOrder)

	req := buy(1, 1)
	req.Symbol = "BTCUSDT"
	_, err = ex.Submit(ctx, req)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestExchange_BuyCannotExceedFreeCash(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, 0, bar(0, 1, 1, 1, 1), bar(1, 1, 1, 0.9, 0.95))
	ex.Advance(ctx)

	// Affordable at the last price but not at the slipped limit.
	_, err := ex.Submit(ctx, buy(1000, 1.05))
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)

	_, err = ex.Submit(ctx, buy(500, 1))
	require.NoError(t, err)
	_, err = ex.Submit(ctx, buy(500, 1.01))
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds, "first buy still locks 500")
	_, err = ex.Submit(ctx, buy(500, 1))
	require.NoError(t, err)
	assert.Len(t, ex.Orders(), 2)

	ex.Advance(ctx)
	require.Len(t, ex.Fills(), 2)
	cash, _ := ex.Cash(ctx)
	assert.InDelta(t, 0, cash, 1e-9)
}

func TestNewExchange_Validation(t *testing.T) {
	_, err := NewExchange(Config{Symbol: "XRPUSDT"}, []*domain.Kline{bar(1, 1, 1, 1, 1), bar(0, 1, 1, 1, 1)}, mockLogger{})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, err = NewExchange(Config{}, nil, mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewExchange(Config{Symbol: "XRPUSDT", OrderTTLBars: -1}, nil, mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
