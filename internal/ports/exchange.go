package ports

import (
	"context"
	"time"

	"buyLowSellHigh/internal/domain"
)

// OrderResponse represents the essential details returned after placing or cancelling an order.
type OrderResponse struct {
	OrderID       int64     // Exchange's order ID
	Symbol        string    // Symbol for the order
	ClientOrderID string    // User-defined order ID
	Price         float64   // Limit price
	OrigQuantity  float64   // Original quantity requested
	ExecutedQty   float64   // Quantity filled
	Status        string    // Order status (e.g., NEW, FILLED, CANCELED)
	TimeInForce   string    // Time in force (e.g., GTC, IOC, FOK)
	Type          string    // Order type (e.g., LIMIT)
	Side          string    // Order side (BUY, SELL)
	Timestamp     time.Time // Time the order response was generated
}

// LimitOrder is what the adapter needs to place a spot limit order.
type LimitOrder struct {
	Symbol        string
	Side          domain.OrderSide
	Quantity      float64
	Price         float64
	ClientOrderID string
}

// ExchangeClient is the spot-exchange surface used by the live host.
type ExchangeClient interface {
	// SetServerTime synchronizes the client's time offset with the server.
	SetServerTime(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetTickerPrice retrieves the last traded price for a symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// GetAccountBalance retrieves the free balance of an asset (e.g., "USDT").
	GetAccountBalance(ctx context.Context, asset string) (float64, error)

	// GetKlines retrieves the most recent closed klines, oldest first.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)

	// GetKlinesRange retrieves every kline between start and end.
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)

	// ListOpenOrders lists unfilled orders for a symbol.
	ListOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error)

	// PlaceLimitOrder places a good-till-cancelled limit order.
	PlaceLimitOrder(ctx context.Context, order LimitOrder) (*OrderResponse, error)

	// CancelOrder cancels an existing open order by its ID.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)

	// ListFills returns the account's executions for a symbol with exchange id >= fromID.
	ListFills(ctx context.Context, symbol string, fromID int64) ([]*domain.Fill, error)

	// StreamKlines starts a WebSocket kline stream.
	// Returns channels to control the stream (doneCh, stopCh) or an error if connection fails.
	StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
