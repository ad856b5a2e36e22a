package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"
)

// Config holds the order limits enforced before an order reaches the exchange.
// A zero value disables the limit.
type Config struct {
	MinNotional         float64 // Exchange minimum order value in quote units, e.g. 5 USDT
	MaxOrderNotional    float64 // Largest single order value in quote units
	MaxDailyOrders      int     // Orders accepted per UTC day of bar time
	MaxDailyBuyNotional float64 // Quote spent on buys per UTC day of bar time
}

// Enabled reports whether any limit is set.
func (c Config) Enabled() bool {
	return c.MinNotional > 0 || c.MaxOrderNotional > 0 || c.MaxDailyOrders > 0 || c.MaxDailyBuyNotional > 0
}

// Stats holds the guard's counters for the current day.
type Stats struct {
	Day              time.Time
	Orders           int
	BuyNotional      float64
	RejectedOrders   int
	LastRejectReason string
}

// Guard checks order requests against Config and forwards the accepted ones.
// Days follow the request's bar time, so a backtest counts the same way live
// trading does. Close orders are never held back by the daily limits.
type Guard struct {
	cfg    Config
	next   ports.OrderRouter
	logger ports.Logger

	mu    sync.Mutex
	stats Stats
}

// NewGuard wraps next with the limits in cfg.
func NewGuard(cfg Config, next ports.OrderRouter, logger ports.Logger) (*Guard, error) {
	if next == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for risk guard")
	}
	if cfg.MinNotional < 0 || cfg.MaxOrderNotional < 0 || cfg.MaxDailyOrders < 0 || cfg.MaxDailyBuyNotional < 0 {
		return nil, fmt.Errorf("%w: risk limits cannot be negative", ports.ErrConfigurationError)
	}
	if cfg.MaxOrderNotional > 0 && cfg.MaxOrderNotional < cfg.MinNotional {
		return nil, fmt.Errorf("%w: max order notional %v is below min notional %v", ports.ErrConfigurationError, cfg.MaxOrderNotional, cfg.MinNotional)
	}
	return &Guard{cfg: cfg, next: next, logger: logger}, nil
}

// Submit validates req and hands it to the wrapped router. A rejected request
// yields an error wrapping ports.ErrInvalidOrder and never reaches the router.
func (g *Guard) Submit(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	g.mu.Lock()
	g.rollDay(req.CreatedAt)
	if err := g.validateLocked(req); err != nil {
		g.stats.RejectedOrders++
		g.stats.LastRejectReason = err.Error()
		g.mu.Unlock()
		g.logger.Warn(ctx, "Order rejected by risk guard", map[string]interface{}{
			"clientOrderID": req.ClientOrderID,
			"side":          req.Side,
			"quantity":      req.Quantity,
			"limitPrice":    req.LimitPrice,
			"reason":        err.Error(),
		})
		return nil, err
	}
	g.mu.Unlock()

	order, err := g.next.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.stats.Orders++
	if req.Side == domain.Buy {
		g.stats.BuyNotional += req.Quantity * req.LimitPrice
	}
	g.mu.Unlock()
	return order, nil
}

// Stats returns a copy of the counters.
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *Guard) validateLocked(req domain.OrderRequest) error {
	notional := req.Quantity * req.LimitPrice
	if g.cfg.MinNotional > 0 && notional < g.cfg.MinNotional {
		return fmt.Errorf("%w: order value %.8g below minimum notional %.8g", ports.ErrInvalidOrder, notional, g.cfg.MinNotional)
	}
	if req.Side != domain.Buy {
		return nil
	}
	if g.cfg.MaxOrderNotional > 0 && notional > g.cfg.MaxOrderNotional {
		return fmt.Errorf("%w: order value %.8g exceeds maximum %.8g", ports.ErrInvalidOrder, notional, g.cfg.MaxOrderNotional)
	}
	if g.cfg.MaxDailyOrders > 0 && g.stats.Orders >= g.cfg.MaxDailyOrders {
		return fmt.Errorf("%w: daily order limit %d reached", ports.ErrInvalidOrder, g.cfg.MaxDailyOrders)
	}
	if g.cfg.MaxDailyBuyNotional > 0 && g.stats.BuyNotional+notional > g.cfg.MaxDailyBuyNotional {
		return fmt.Errorf("%w: daily buy limit %.8g would be exceeded (spent %.8g)", ports.ErrInvalidOrder, g.cfg.MaxDailyBuyNotional, g.stats.BuyNotional)
	}
	return nil
}

// rollDay resets the daily counters when t falls on a later UTC day.
func (g *Guard) rollDay(t time.Time) {
	day := t.UTC().Truncate(24 * time.Hour)
	if day.After(g.stats.Day) {
		g.stats.Day = day
		g.stats.Orders = 0
		g.stats.BuyNotional = 0
	}
}
