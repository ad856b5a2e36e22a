package app

import (
	"context"
	"fmt"
	"time"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"
	"buyLowSellHigh/internal/utils"
)

// ExchangeRouter submits order requests to the exchange as limit orders.
// Transient exchange failures are retried with the same client order id, so a
// retry never produces a second order.
type ExchangeRouter struct {
	exchange ports.ExchangeClient
	logger   ports.Logger
	retry    utils.RetryPolicy
}

// NewExchangeRouter creates a router; retry.Attempts comes from RETRY_ORDER.
func NewExchangeRouter(exchange ports.ExchangeClient, logger ports.Logger, retry utils.RetryPolicy) (*ExchangeRouter, error) {
	if exchange == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for ExchangeRouter")
	}
	return &ExchangeRouter{exchange: exchange, logger: logger, retry: retry}, nil
}

// Submit places req and returns the order as acknowledged by the exchange.
func (r *ExchangeRouter) Submit(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	lo := ports.LimitOrder{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Price:         req.LimitPrice,
		ClientOrderID: req.ClientOrderID,
	}

	attempt := 0
	var resp *ports.OrderResponse
	err := utils.Retry(ctx, r.retry, ports.IsTransient, func() error {
		attempt++
		var err error
		resp, err = r.exchange.PlaceLimitOrder(ctx, lo)
		if err != nil && ports.IsTransient(err) {
			r.logger.Warn(ctx, "Limit order placement failed, retrying", map[string]interface{}{
				"attempt":       attempt,
				"clientOrderID": req.ClientOrderID,
				"error":         err.Error(),
			})
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("limit order %s failed after %d attempt(s): %w", req.ClientOrderID, attempt, err)
	}
	return orderFromResponse(req, resp), nil
}

func orderFromResponse(req domain.OrderRequest, resp *ports.OrderResponse) *domain.Order {
	status := domain.OrderStatus(resp.Status)
	if status == "" {
		status = domain.OrderStatusNew
	}
	created := resp.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}
	qty := resp.OrigQuantity
	if qty == 0 {
		qty = req.Quantity
	}
	price := resp.Price
	if price == 0 {
		price = req.LimitPrice
	}
	return &domain.Order{
		ID:            fmt.Sprintf("%d", resp.OrderID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Intent:        req.Intent,
		Quantity:      qty,
		ExecutedQty:   resp.ExecutedQty,
		LimitPrice:    price,
		Status:        status,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}
