package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
)

const (
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	// Largest page the klines endpoint serves.
	maxKlinesLimit = 1000
	// Largest page the account trade list serves.
	maxTradesLimit = 1000
)

// Client implements the ports.ExchangeClient interface against the Binance spot API.
type Client struct {
	spotClient           *binance.Client
	logger               ports.Logger
	pricePrecision       int32
	quantityPrecision    int32
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	PricePrecision       int           // Decimals sent for limit prices
	QuantityPrecision    int           // Decimals sent for quantities, truncated
	ReconnectDelay       time.Duration // First reconnect delay, doubled per failed attempt
	MaxReconnectAttempts int           // Max attempts before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	// The websocket endpoints are chosen from the package level flag.
	binance.UseTestnet = cfg.UseTestnet
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		spotClient:           client,
		logger:               cfg.Logger,
		pricePrecision:       int32(cfg.PricePrecision),
		quantityPrecision:    int32(cfg.QuantityPrecision),
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// mapAPIErrorCode maps a Binance error code onto the application errors.
func mapAPIErrorCode(code int64) error {
	switch code {
	case -1001: // Internal error; unable to process your request
		return ports.ErrExchangeUnavailable
	case -1003, -1015: // Too many requests / too many new orders
		return ports.ErrRateLimited
	case -1007: // Timeout waiting for response from backend server
		return ports.ErrTimeout
	case -1021: // Timestamp for this request is outside of the recvWindow
		return ports.ErrTimeout
	case -1022: // Signature for this request is not valid
		return ports.ErrAuthenticationFailed
	case -1013, -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
		return ports.ErrInvalidRequest
	case -2010: // New order rejected
		return ports.ErrOrderPlacementFailed
	case -2011: // Cancel order rejected
		return ports.ErrOrderCancelFailed
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -2014, -2015: // API-key format invalid / invalid key, IP, or permissions
		return ports.ErrInvalidAPIKeys
	case -2018, -2019, -3005: // Balance is insufficient
		return ports.ErrInsufficientFunds
	default:
		return ports.ErrUnknown
	}
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
		mappedErr := mapAPIErrorCode(apiErr.Code)
		// Spot reports most order rejections as -2010 and puts the cause in the message.
		if apiErr.Code == -2010 && strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
			mappedErr = ports.ErrInsufficientFunds
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case isConnectionError(err):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "i/o timeout")
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	offset, err := c.spotClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"offsetMs": offset})
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	serverTimeMs, err := c.spotClient.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(serverTimeMs), nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.spotClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetTickerPrice retrieves the last traded price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	prices, err := c.spotClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", p.Price, err), op)
		}
		return price, nil
	}
	return 0, c.handleError(ctx, fmt.Errorf("no ticker data returned for symbol %s", symbol), op)
}

// GetAccountBalance retrieves the free balance for a specific asset (e.g., "USDT").
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetAccountBalance"
	account, err := c.spotClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	return freeBalance(account.Balances, asset)
}

// freeBalance returns the free amount of asset. An asset missing from the
// account has a zero balance.
func freeBalance(balances []binance.Balance, asset string) (float64, error) {
	for _, bal := range balances {
		if bal.Asset != asset {
			continue
		}
		free, err := strconv.ParseFloat(bal.Free, 64)
		if err != nil {
			return 0, fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.Free, asset, err)
		}
		return free, nil
	}
	return 0, nil
}

// GetKlines retrieves the most recent closed klines, oldest first.
// The still-forming kline the endpoint returns last is dropped.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	if limit <= 0 {
		return nil, fmt.Errorf("%s: limit must be positive: %w", op, ports.ErrInvalidRequest)
	}
	fetch := limit + 1
	if fetch > maxKlinesLimit {
		fetch = maxKlinesLimit
	}
	binanceKlines, err := c.spotClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(fetch).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	klines, err := translateKlines(binanceKlines, symbol, interval, time.Now())
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

// GetKlinesRange fetches all klines for a symbol/interval between start and end time.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	var allKlines []*domain.Kline
	from := start

	for {
		page, err := c.spotClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(page) == 0 {
			break
		}
		klines, err := translateKlines(page, symbol, interval, time.Now())
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		allKlines = append(allKlines, klines...)

		from = time.UnixMilli(page[len(page)-1].CloseTime + 1)
		if from.After(end) || len(page) < maxKlinesLimit {
			break
		}
	}
	return allKlines, nil
}

// ListOpenOrders lists unfilled orders for a symbol.
func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	op := "ListOpenOrders"
	orders, err := c.spotClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*domain.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, translateOrder(o))
	}
	return out, nil
}

// PlaceLimitOrder places a good-till-cancelled limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, order ports.LimitOrder) (*ports.OrderResponse, error) {
	op := "PlaceLimitOrder"
	quantity := formatQuantity(order.Quantity, c.quantityPrecision)
	price := formatPrice(order.Price, c.pricePrecision)
	if quantity == "0" || price == "0" {
		return nil, fmt.Errorf("%s: quantity %v at price %v rounds to zero: %w", op, order.Quantity, order.Price, ports.ErrInvalidRequest)
	}

	svc := c.spotClient.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(binance.SideType(order.Side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(quantity).
		Price(price)
	if order.ClientOrderID != "" {
		svc = svc.NewClientOrderID(order.ClientOrderID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateCreateOrderResponse(res)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":        order.Symbol,
		"side":          order.Side,
		"quantity":      quantity,
		"price":         price,
		"orderID":       resp.OrderID,
		"clientOrderID": resp.ClientOrderID,
		"status":        resp.Status,
	})
	return resp, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})

	res, err := c.spotClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateCancelOrderResponse(res)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": resp.Status})
	return resp, nil
}

// ListFills returns the account's executions for symbol with trade id >= fromID, oldest first.
func (c *Client) ListFills(ctx context.Context, symbol string, fromID int64) ([]*domain.Fill, error) {
	op := "ListFills"
	var fills []*domain.Fill
	next := fromID

	for {
		trades, err := c.spotClient.NewListTradesService().
			Symbol(symbol).
			FromID(next).
			Limit(maxTradesLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		for _, t := range trades {
			f, err := translateTrade(t)
			if err != nil {
				return nil, c.handleError(ctx, err, op)
			}
			fills = append(fills, f)
		}
		if len(trades) < maxTradesLimit {
			break
		}
		next = trades[len(trades)-1].ID + 1
	}

	if len(fills) > 0 {
		c.logger.Debug(ctx, op+" returned new fills", map[string]interface{}{"symbol": symbol, "count": len(fills), "fromID": fromID})
	}
	return fills, nil
}

// StreamKlines starts a WebSocket stream for K-line/candlestick data and
// reconnects with exponential backoff when the connection drops.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamKlines"
	wsCtx, cancelWs := context.WithCancel(ctx)
	fields := map[string]interface{}{"symbol": symbol, "interval": interval}

	binanceHandler := func(event *binance.WsKlineEvent) {
		kline, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(wsCtx, err, op+": Failed to translate WebSocket kline event")
			return
		}
		handler(kline)
	}

	binanceErrHandler := func(err error) {
		errHandler(c.handleError(wsCtx, err, op+" WebSocket"))
	}

	b := &backoff.Backoff{
		Min:    c.reconnectDelay,
		Max:    c.reconnectDelay * 32,
		Factor: 2,
		Jitter: true,
	}

	go func() {
		defer cancelWs()

		for {
			if wsCtx.Err() != nil {
				c.logger.Info(wsCtx, op+": Context cancelled, stopping connection attempts.", fields)
				return
			}

			innerDoneCh, innerStopCh, connectErr := binance.WsKlineServe(symbol, interval, binanceHandler, binanceErrHandler)
			if connectErr != nil {
				c.handleError(wsCtx, connectErr, op+" connection attempt")
				if int(b.Attempt())+1 >= c.maxReconnectAttempts {
					c.logger.Error(wsCtx, connectErr, op+": Max reconnection attempts exceeded, giving up.",
						map[string]interface{}{"symbol": symbol, "interval": interval, "maxAttempts": c.maxReconnectAttempts})
					return
				}
				delay := b.Duration()
				c.logger.Info(wsCtx, op+": Connection failed, retrying...",
					map[string]interface{}{"symbol": symbol, "interval": interval, "attempt": int(b.Attempt()) + 1, "delay": delay.String()})
				select {
				case <-time.After(delay):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			c.logger.Info(wsCtx, op+": WebSocket connection established.", fields)
			b.Reset()

			select {
			case <-innerDoneCh:
				c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly. Reconnecting...", fields)
			case <-wsCtx.Done():
				select {
				case innerStopCh <- struct{}{}:
				default:
				}
				c.logger.Info(wsCtx, op+": Context cancelled, stopping WebSocket.", fields)
				return
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{}, 1)

	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": Received external stop signal, cancelling WebSocket context.", fields)
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// --- Translation Helpers ---

func formatQuantity(qty float64, precision int32) string {
	return decimal.NewFromFloat(qty).Truncate(precision).String()
}

func formatPrice(price float64, precision int32) string {
	return decimal.NewFromFloat(price).Round(precision).String()
}

func parseDecimal(field, value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s '%s': %w", field, value, err)
	}
	return d.InexactFloat64(), nil
}

func translateOrderStatus(s binance.OrderStatusType) domain.OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew:
		return domain.OrderStatusNew
	case binance.OrderStatusTypePartiallyFilled:
		return domain.OrderStatusPartial
	case binance.OrderStatusTypeFilled:
		return domain.OrderStatusFilled
	case binance.OrderStatusTypeCanceled:
		return domain.OrderStatusCanceled
	case binance.OrderStatusTypeRejected:
		return domain.OrderStatusRejected
	case binance.OrderStatusTypeExpired:
		return domain.OrderStatusExpired
	default:
		return domain.OrderStatusUnknown
	}
}

func intentForSide(side domain.OrderSide) domain.OrderIntent {
	if side == domain.Sell {
		return domain.IntentClose
	}
	return domain.IntentBuy
}

func translateOrder(o *binance.Order) *domain.Order {
	price, _ := strconv.ParseFloat(o.Price, 64)
	origQty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	side := domain.OrderSide(o.Side)
	return &domain.Order{
		ID:            strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          side,
		Intent:        intentForSide(side),
		Quantity:      origQty,
		ExecutedQty:   execQty,
		LimitPrice:    price,
		Status:        translateOrderStatus(o.Status),
		CreatedAt:     time.UnixMilli(o.Time),
		UpdatedAt:     time.UnixMilli(o.UpdateTime),
	}
}

func translateCreateOrderResponse(order *binance.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Price:         price,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		TimeInForce:   string(order.TimeInForce),
		Type:          string(order.Type),
		Side:          string(order.Side),
		Timestamp:     time.UnixMilli(order.TransactTime),
	}
}

func translateCancelOrderResponse(res *binance.CancelOrderResponse) *ports.OrderResponse {
	if res == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(res.Price, 64)
	origQty, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)

	return &ports.OrderResponse{
		OrderID:       res.OrderID,
		Symbol:        res.Symbol,
		ClientOrderID: res.OrigClientOrderID,
		Price:         price,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(res.Status),
		TimeInForce:   string(res.TimeInForce),
		Type:          string(res.Type),
		Side:          string(res.Side),
		Timestamp:     time.UnixMilli(res.TransactTime),
	}
}

func translateTrade(t *binance.TradeV3) (*domain.Fill, error) {
	if t == nil {
		return nil, errors.New("received nil trade")
	}
	price, err := parseDecimal("price", t.Price)
	if err != nil {
		return nil, err
	}
	qty, err := parseDecimal("quantity", t.Quantity)
	if err != nil {
		return nil, err
	}
	side := domain.Sell
	if t.IsBuyer {
		side = domain.Buy
	}
	return &domain.Fill{
		ExchangeID: t.ID,
		OrderID:    strconv.FormatInt(t.OrderID, 10),
		Symbol:     t.Symbol,
		Side:       side,
		Intent:     intentForSide(side),
		Quantity:   qty,
		Price:      price,
		Time:       time.UnixMilli(t.Time),
	}, nil
}

func translateWsKline(event *binance.WsKlineEvent) (*domain.Kline, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	ohlcv, err := parseOHLCV(k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return nil, err
	}
	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      ohlcv[0],
		High:      ohlcv[1],
		Low:       ohlcv[2],
		Close:     ohlcv[3],
		Volume:    ohlcv[4],
		IsFinal:   k.IsFinal,
	}, nil
}

// translateKlines converts a REST page and drops klines that have not closed by now.
func translateKlines(page []*binance.Kline, symbol, interval string, now time.Time) ([]*domain.Kline, error) {
	out := make([]*domain.Kline, 0, len(page))
	for _, bk := range page {
		if bk == nil {
			return nil, errors.New("received nil historical kline")
		}
		closeTime := time.UnixMilli(bk.CloseTime)
		if closeTime.After(now) {
			continue
		}
		ohlcv, err := parseOHLCV(bk.Open, bk.High, bk.Low, bk.Close, bk.Volume)
		if err != nil {
			return nil, fmt.Errorf("failed to translate historical kline: %w", err)
		}
		out = append(out, &domain.Kline{
			OpenTime:  time.UnixMilli(bk.OpenTime),
			CloseTime: closeTime,
			Symbol:    symbol,
			Interval:  interval,
			Open:      ohlcv[0],
			High:      ohlcv[1],
			Low:       ohlcv[2],
			Close:     ohlcv[3],
			Volume:    ohlcv[4],
			IsFinal:   true,
		})
	}
	return out, nil
}

func parseOHLCV(open, high, low, cls, vol string) ([5]float64, error) {
	var out [5]float64
	names := [5]string{"open price", "high price", "low price", "close price", "volume"}
	for i, v := range [5]string{open, high, low, cls, vol} {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return out, fmt.Errorf("parsing %s '%s': %w", names[i], v, err)
		}
		out[i] = f
	}
	return out, nil
}

var _ ports.ExchangeClient = (*Client)(nil)
