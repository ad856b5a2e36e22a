package ports

import (
	"context"

	"buyLowSellHigh/internal/domain"
)

// The interfaces below are what the bar routine needs from its execution host.
// The live bot backs them with the exchange and the ledger, backtests with the
// paper exchange.

// MarketData supplies price history and the current price.
type MarketData interface {
	// History returns up to barCount klines at the given frequency, oldest first,
	// ending with the current bar.
	History(ctx context.Context, symbol, frequency string, barCount int) ([]*domain.Kline, error)
	// CurrentPrice returns the latest price for the symbol.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Portfolio is the ledger view: cash, position and open-order presence.
type Portfolio interface {
	// Cash returns the quote currency available for buying.
	Cash(ctx context.Context) (float64, error)
	// Position returns the holding for symbol, or nil when nothing is held.
	Position(ctx context.Context, symbol string) (*domain.Position, error)
	// HasOpenOrders reports whether unfilled orders exist for symbol.
	HasOpenOrders(ctx context.Context, symbol string) (bool, error)
}

// OrderRouter accepts order requests produced by the bar routine.
type OrderRouter interface {
	Submit(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)
}

// Recorder receives advisory telemetry. It must never fail the bar.
type Recorder interface {
	RecordBar(ctx context.Context, t domain.BarTelemetry)
	RecordBarError(ctx context.Context, e domain.BarError)
}

// DecisionEngine turns a bar snapshot into a decision.
type DecisionEngine interface {
	Decide(ctx context.Context, in domain.BarInput) (domain.Decision, error)
	// RequiredDataPoints is the history length needed for a defined indicator.
	RequiredDataPoints() int
}
