package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	// No-op for tests
}

func (m *mockLogger) count(msg string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, list := range [][]string{m.debugMsgs, m.infoMsgs, m.warnMsgs, m.errorMsgs} {
		for _, s := range list {
			if s == msg {
				n++
			}
		}
	}
	return n
}

type mockEngine struct {
	decision domain.Decision
	err      error
	panicMsg string
	calls    int
	inputs   []domain.BarInput
}

func (m *mockEngine) Decide(ctx context.Context, in domain.BarInput) (domain.Decision, error) {
	m.calls++
	m.inputs = append(m.inputs, in)
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	return m.decision, m.err
}

func (m *mockEngine) RequiredDataPoints() int {
	return 15
}

type mockMarket struct {
	history      []*domain.Kline
	historyErr   error
	price        float64
	priceErr     error
	historyCalls int
}

func (m *mockMarket) History(ctx context.Context, symbol, frequency string, barCount int) ([]*domain.Kline, error) {
	m.historyCalls++
	return m.history, m.historyErr
}

func (m *mockMarket) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return m.price, m.priceErr
}

type mockPortfolio struct {
	mu        sync.Mutex
	cash      float64
	cashErr   error
	position  *domain.Position
	hasOpen   bool
	openErr   error
	loadErr   error
	syncErr   error
	syncCalls int
}

func (m *mockPortfolio) Cash(ctx context.Context) (float64, error) {
	return m.cash, m.cashErr
}

func (m *mockPortfolio) Position(ctx context.Context, symbol string) (*domain.Position, error) {
	return m.position.Clone(), nil
}

func (m *mockPortfolio) HasOpenOrders(ctx context.Context, symbol string) (bool, error) {
	return m.hasOpen, m.openErr
}

func (m *mockPortfolio) Load(ctx context.Context) error {
	return m.loadErr
}

func (m *mockPortfolio) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCalls++
	return m.syncErr
}

type mockRouter struct {
	mu        sync.Mutex
	submitted []domain.OrderRequest
	err       error
}

func (m *mockRouter) Submit(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.submitted = append(m.submitted, req)
	return &domain.Order{ID: "1", ClientOrderID: req.ClientOrderID, Symbol: req.Symbol, Side: req.Side,
		Intent: req.Intent, Quantity: req.Quantity, LimitPrice: req.LimitPrice, Status: domain.OrderStatusNew}, nil
}

func (m *mockRouter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}

type mockRecorder struct {
	bars   []domain.BarTelemetry
	errors []domain.BarError
}

func (m *mockRecorder) RecordBar(ctx context.Context, t domain.BarTelemetry) {
	m.bars = append(m.bars, t)
}

func (m *mockRecorder) RecordBarError(ctx context.Context, e domain.BarError) {
	m.errors = append(m.errors, e)
}

type mockBarErrorRepo struct {
	created []*domain.BarError
	err     error
}

func (m *mockBarErrorRepo) CreateBarError(ctx context.Context, e *domain.BarError) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.created = append(m.created, e)
	return int64(len(m.created)), nil
}

func (m *mockBarErrorRepo) FindByRun(ctx context.Context, runID string) ([]*domain.BarError, error) {
	return m.created, nil
}

func (m *mockBarErrorRepo) CountByRun(ctx context.Context, runID string) (int, error) {
	return len(m.created), nil
}

type mockExchange struct {
	mu sync.Mutex

	serverTimeErr error
	price         float64
	priceErr      error
	klines        []*domain.Kline
	klinesErr     error
	klinesCalls   int

	placeErrs []error // Consumed one per PlaceLimitOrder call
	placed    []ports.LimitOrder

	streamErr     error
	klineHandler  func(*domain.Kline)
	streamStarted chan struct{}
	streamDone    chan struct{}
	streamStop    chan struct{}
}

func (m *mockExchange) GetServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), m.serverTimeErr
}

func (m *mockExchange) SetServerTime(ctx context.Context) error {
	return m.serverTimeErr
}

func (m *mockExchange) Ping(ctx context.Context) error {
	return nil
}

func (m *mockExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	return m.price, m.priceErr
}

func (m *mockExchange) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	return 1000.0, nil // Default test balance
}

func (m *mockExchange) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.klinesCalls++
	return domain.LastN(m.klines, limit), m.klinesErr
}

func (m *mockExchange) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	return m.klines, m.klinesErr
}

func (m *mockExchange) ListOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	return nil, nil
}

func (m *mockExchange) PlaceLimitOrder(ctx context.Context, order ports.LimitOrder) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed = append(m.placed, order)
	if len(m.placeErrs) > 0 {
		err := m.placeErrs[0]
		m.placeErrs = m.placeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &ports.OrderResponse{
		OrderID:       int64(len(m.placed)),
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Price:         order.Price,
		OrigQuantity:  order.Quantity,
		Status:        "NEW",
		Side:          string(order.Side),
	}, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	return nil, errors.New("not implemented")
}

func (m *mockExchange) ListFills(ctx context.Context, symbol string, fromID int64) ([]*domain.Fill, error) {
	return nil, nil
}

func (m *mockExchange) StreamKlines(ctx context.Context, symbol string, interval string, klineHandler func(*domain.Kline), errorHandler func(error)) (chan struct{}, chan struct{}, error) {
	if m.streamErr != nil {
		return nil, nil, m.streamErr
	}
	m.mu.Lock()
	m.klineHandler = klineHandler
	m.streamDone = make(chan struct{})
	m.streamStop = make(chan struct{}, 1)
	done, stop := m.streamDone, m.streamStop
	m.mu.Unlock()

	go func() {
		<-stop
		close(done)
	}()
	if m.streamStarted != nil {
		close(m.streamStarted)
	}
	return done, stop, nil
}

func (m *mockExchange) handler() func(*domain.Kline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.klineHandler
}
