// Package paper simulates an execution host over a recorded kline series.
package paper

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ledger"
	"buyLowSellHigh/internal/ports"
)

// Config configures the simulated exchange.
type Config struct {
	Symbol       string
	Interval     string // Interval of the series; History rejects other frequencies when set
	InitialCash  float64
	OrderTTLBars int // Bars an unfilled order rests before expiring; 0 means good-till-cancelled
}

type restingOrder struct {
	order    *domain.Order
	placedAt int // Bar index the order was submitted on
}

// Exchange replays klines one bar at a time and fills resting limit orders
// against later bars. It implements ports.MarketData, ports.Portfolio and
// ports.OrderRouter. Not safe for concurrent use.
type Exchange struct {
	cfg    Config
	logger ports.Logger
	klines []*domain.Kline
	cursor int // Index of the current bar, -1 before the first Advance

	book   *ledger.Book
	open   []*restingOrder
	orders []*domain.Order
	fills  []*domain.Fill
	trades []*domain.Trade

	nextOrderID int64
	nextFillID  int64
}

// NewExchange creates a paper exchange over klines (oldest first).
func NewExchange(cfg Config, klines []*domain.Kline, logger ports.Logger) (*Exchange, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for paper exchange")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ports.ErrConfigurationError)
	}
	if cfg.InitialCash < 0 || cfg.OrderTTLBars < 0 {
		return nil, fmt.Errorf("%w: initial cash and order ttl cannot be negative", ports.ErrConfigurationError)
	}
	for i := 1; i < len(klines); i++ {
		if !klines[i].OpenTime.After(klines[i-1].OpenTime) {
			return nil, fmt.Errorf("%w: klines not in ascending order at index %d", ports.ErrInvalidRequest, i)
		}
	}
	return &Exchange{
		cfg:    cfg,
		logger: logger,
		klines: klines,
		cursor: -1,
		book:   ledger.NewBook(cfg.InitialCash),
	}, nil
}

// Advance moves to the next bar, matching resting orders against it. It returns
// false once the series is exhausted.
func (e *Exchange) Advance(ctx context.Context) (*domain.Kline, bool) {
	if e.cursor+1 >= len(e.klines) {
		return nil, false
	}
	e.cursor++
	bar := e.klines[e.cursor]
	e.match(ctx, bar)
	return bar, true
}

// Current returns the current bar, or nil before the first Advance.
func (e *Exchange) Current() *domain.Kline {
	if e.cursor < 0 {
		return nil
	}
	return e.klines[e.cursor]
}

func (e *Exchange) match(ctx context.Context, bar *domain.Kline) {
	remaining := e.open[:0]
	for _, ro := range e.open {
		o := ro.order
		price, qty, ok := e.cross(o, bar)
		switch {
		case ok:
			e.fill(ctx, o, qty, price, bar)
		case o.Status == domain.OrderStatusCanceled:
			// Nothing left to sell.
		case e.cfg.OrderTTLBars > 0 && e.cursor-ro.placedAt >= e.cfg.OrderTTLBars:
			o.Status = domain.OrderStatusExpired
			o.UpdatedAt = bar.OpenTime
			e.logger.Debug(ctx, "Paper order expired", map[string]interface{}{"orderID": o.ID})
		default:
			remaining = append(remaining, ro)
		}
	}
	e.open = remaining
}

// cross reports whether bar trades through the order's limit and at what price.
func (e *Exchange) cross(o *domain.Order, bar *domain.Kline) (price, qty float64, ok bool) {
	switch o.Side {
	case domain.Buy:
		if bar.Low <= o.LimitPrice {
			return math.Min(o.LimitPrice, bar.Open), o.Quantity, true
		}
	case domain.Sell:
		qty = o.Quantity
		if o.Intent == domain.IntentClose {
			pos := e.book.Position(o.Symbol)
			if pos == nil {
				o.Status = domain.OrderStatusCanceled
				o.UpdatedAt = bar.OpenTime
				return 0, 0, false
			}
			qty = pos.Amount
		}
		if bar.High >= o.LimitPrice {
			return math.Max(o.LimitPrice, bar.Open), qty, true
		}
	}
	return 0, 0, false
}

func (e *Exchange) fill(ctx context.Context, o *domain.Order, qty, price float64, bar *domain.Kline) {
	e.nextFillID++
	f := &domain.Fill{
		ExchangeID: e.nextFillID,
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Intent:     o.Intent,
		Quantity:   qty,
		Price:      price,
		Time:       bar.OpenTime,
	}
	trade, err := e.book.Apply(f)
	if err != nil {
		o.Status = domain.OrderStatusRejected
		o.UpdatedAt = bar.OpenTime
		e.logger.Warn(ctx, "Paper fill rejected", map[string]interface{}{"orderID": o.ID, "error": err.Error()})
		return
	}
	o.Status = domain.OrderStatusFilled
	o.ExecutedQty = qty
	o.UpdatedAt = bar.OpenTime
	e.fills = append(e.fills, f)
	if trade != nil {
		e.trades = append(e.trades, trade)
	}
	e.logger.Debug(ctx, "Paper order filled", map[string]interface{}{
		"orderID":  o.ID,
		"side":     string(o.Side),
		"quantity": qty,
		"price":    price,
	})
}

// History returns up to barCount bars ending with the current one.
func (e *Exchange) History(ctx context.Context, symbol, frequency string, barCount int) ([]*domain.Kline, error) {
	if err := e.checkSymbol(symbol); err != nil {
		return nil, err
	}
	if e.cfg.Interval != "" && frequency != e.cfg.Interval {
		return nil, fmt.Errorf("%w: series interval is %s, requested %s", ports.ErrInvalidRequest, e.cfg.Interval, frequency)
	}
	if barCount <= 0 {
		return nil, fmt.Errorf("%w: bar count must be positive", ports.ErrInvalidRequest)
	}
	if e.cursor < 0 {
		return nil, nil
	}
	start := e.cursor + 1 - barCount
	if start < 0 {
		start = 0
	}
	out := make([]*domain.Kline, e.cursor+1-start)
	copy(out, e.klines[start:e.cursor+1])
	return out, nil
}

// CurrentPrice is the close of the current bar.
func (e *Exchange) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := e.checkSymbol(symbol); err != nil {
		return 0, err
	}
	if e.cursor < 0 {
		return 0, fmt.Errorf("%w: no bar has been replayed yet", ports.ErrNotFound)
	}
	return e.klines[e.cursor].Close, nil
}

func (e *Exchange) Cash(ctx context.Context) (float64, error) {
	return e.book.Cash(), nil
}

func (e *Exchange) Position(ctx context.Context, symbol string) (*domain.Position, error) {
	return e.book.Position(symbol), nil
}

func (e *Exchange) HasOpenOrders(ctx context.Context, symbol string) (bool, error) {
	for _, ro := range e.open {
		if ro.order.Symbol == symbol {
			return true, nil
		}
	}
	return false, nil
}

// Submit rests a limit order until a later bar crosses it.
func (e *Exchange) Submit(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := e.checkSymbol(req.Symbol); err != nil {
		return nil, err
	}
	if e.cursor < 0 {
		return nil, fmt.Errorf("%w: no bar has been replayed yet", ports.ErrInvalidOrder)
	}
	if !(req.Quantity > 0) || !(req.LimitPrice > 0) {
		return nil, fmt.Errorf("%w: quantity %v at %v", ports.ErrInvalidOrder, req.Quantity, req.LimitPrice)
	}
	if req.Side != domain.Buy && req.Side != domain.Sell {
		return nil, fmt.Errorf("%w: side %q", ports.ErrInvalidOrder, req.Side)
	}
	// Buys lock quantity x limit at placement, as the exchange does.
	if req.Side == domain.Buy {
		if cost, free := req.Quantity*req.LimitPrice, e.freeCash(); cost > free {
			return nil, fmt.Errorf("%w: buy needs %.8g, %.8g free", ports.ErrInsufficientFunds, cost, free)
		}
	}

	e.nextOrderID++
	now := e.klines[e.cursor].OpenTime
	o := &domain.Order{
		ID:            strconv.FormatInt(e.nextOrderID, 10),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Intent:        req.Intent,
		Quantity:      req.Quantity,
		LimitPrice:    req.LimitPrice,
		Status:        domain.OrderStatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.open = append(e.open, &restingOrder{order: o, placedAt: e.cursor})
	e.orders = append(e.orders, o)

	c := *o
	return &c, nil
}

// freeCash is cash not locked by resting buys.
func (e *Exchange) freeCash() float64 {
	free := e.book.Cash()
	for _, ro := range e.open {
		if ro.order.Side == domain.Buy {
			free -= ro.order.Quantity * ro.order.LimitPrice
		}
	}
	return free
}

func (e *Exchange) checkSymbol(symbol string) error {
	if symbol != e.cfg.Symbol {
		return fmt.Errorf("%w: unknown symbol %s", ports.ErrInvalidRequest, symbol)
	}
	return nil
}

// Equity values cash plus the position at the current close.
func (e *Exchange) Equity() float64 {
	equity := e.book.Cash()
	if pos := e.book.Position(e.cfg.Symbol); pos != nil && e.cursor >= 0 {
		equity += pos.MarketValue(e.klines[e.cursor].Close)
	}
	return equity
}

// Fills returns every simulated execution, oldest first.
func (e *Exchange) Fills() []*domain.Fill {
	return append([]*domain.Fill(nil), e.fills...)
}

// Trades returns the realized sales, oldest first.
func (e *Exchange) Trades() []*domain.Trade {
	return append([]*domain.Trade(nil), e.trades...)
}

// Orders returns every submitted order with its latest status.
func (e *Exchange) Orders() []*domain.Order {
	out := make([]*domain.Order, len(e.orders))
	for i, o := range e.orders {
		c := *o
		out[i] = &c
	}
	return out
}
