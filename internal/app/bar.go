package app

import (
	"context"
	"fmt"
	"time"

	applog "buyLowSellHigh/internal/adapters/logger"
	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"

	"github.com/google/uuid"
)

// BarConfig is the per-run configuration of the bar routine.
type BarConfig struct {
	Symbol           string
	HistoryBarCount  int    // Lookback window handed to the engine
	HistoryFrequency string // Kline interval, e.g. "15m"
	SwallowErrors    bool   // Contain faults instead of returning them
	RunID            string // Tags error log entries and log lines
}

// BarOutcome summarizes one handled bar.
type BarOutcome struct {
	BarTime     time.Time
	Decision    domain.Decision
	Order       *domain.Order // Submitted order, nil when no action was taken
	Err         error         // Captured fault, nil on success
	TotalErrors int           // Error log length after this bar
}

// BarRunner handles one bar at a time: it snapshots the host state, asks the
// engine for a decision and submits the resulting order. It is the only place
// where faults are contained.
type BarRunner struct {
	cfg       BarConfig
	logger    ports.Logger
	engine    ports.DecisionEngine
	market    ports.MarketData
	portfolio ports.Portfolio
	router    ports.OrderRouter
	recorder  ports.Recorder
	errLog    *ErrorLog

	newClientOrderID func() string
}

// NewBarRunner creates a bar runner. recorder may be nil.
func NewBarRunner(
	cfg BarConfig,
	logger ports.Logger,
	engine ports.DecisionEngine,
	market ports.MarketData,
	portfolio ports.Portfolio,
	router ports.OrderRouter,
	recorder ports.Recorder,
	errLog *ErrorLog,
) (*BarRunner, error) {
	if logger == nil || engine == nil || market == nil || portfolio == nil || router == nil || errLog == nil {
		return nil, fmt.Errorf("missing required dependencies for BarRunner")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ports.ErrConfigurationError)
	}
	if cfg.HistoryBarCount <= 0 {
		return nil, fmt.Errorf("%w: history bar count must be positive", ports.ErrConfigurationError)
	}
	if cfg.HistoryFrequency == "" {
		return nil, fmt.Errorf("%w: history frequency is required", ports.ErrConfigurationError)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &BarRunner{
		cfg:              cfg,
		logger:           logger,
		engine:           engine,
		market:           market,
		portfolio:        portfolio,
		router:           router,
		recorder:         recorder,
		errLog:           errLog,
		newClientOrderID: uuid.NewString,
	}, nil
}

// ErrorLog returns the run's error log.
func (r *BarRunner) ErrorLog() *ErrorLog {
	return r.errLog
}

// RunBar handles the bar starting at barTime. A fault is appended to the error
// log and only returned when SwallowErrors is off. The cumulative error count
// is logged for every bar.
func (r *BarRunner) RunBar(ctx context.Context, barTime time.Time) (BarOutcome, error) {
	ctx = applog.WithBar(ctx, r.cfg.RunID, barTime)
	out := BarOutcome{BarTime: barTime}

	decision, order, err := r.runGuarded(ctx, barTime)
	out.Decision = decision
	out.Order = order

	if err != nil {
		be := domain.BarError{
			RunID:   r.cfg.RunID,
			Symbol:  r.cfg.Symbol,
			BarTime: barTime,
			Message: err.Error(),
			Err:     err,
		}
		r.errLog.Append(ctx, be)
		r.recorder.RecordBarError(ctx, be)
		r.logger.Error(ctx, err, "Bar handling failed")
		out.Err = err
	}

	out.TotalErrors = r.errLog.Len()
	r.logger.Info(ctx, "Bar completed", map[string]interface{}{
		"action":      string(decision.Action.Kind),
		"reason":      string(decision.Reason),
		"totalErrors": out.TotalErrors,
	})

	if err != nil && !r.cfg.SwallowErrors {
		return out, err
	}
	return out, nil
}

// runGuarded turns a panic in the bar routine into an error.
func (r *BarRunner) runGuarded(ctx context.Context, barTime time.Time) (decision domain.Decision, order *domain.Order, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ports.ErrBarPanic, rec)
		}
	}()
	return r.handleBar(ctx, barTime)
}

func (r *BarRunner) handleBar(ctx context.Context, barTime time.Time) (domain.Decision, *domain.Order, error) {
	price, err := r.market.CurrentPrice(ctx, r.cfg.Symbol)
	if err != nil {
		return domain.Decision{}, nil, fmt.Errorf("failed to get current price: %w", err)
	}
	hasOpen, err := r.portfolio.HasOpenOrders(ctx, r.cfg.Symbol)
	if err != nil {
		return domain.Decision{}, nil, fmt.Errorf("failed to check open orders: %w", err)
	}

	// History is read on every bar so the indicator is recorded even while orders rest.
	in := domain.BarInput{CurrentPrice: price, HasOpenOrders: hasOpen}
	if in.History, err = r.market.History(ctx, r.cfg.Symbol, r.cfg.HistoryFrequency, r.cfg.HistoryBarCount); err != nil {
		return domain.Decision{}, nil, fmt.Errorf("failed to get price history: %w", err)
	}
	if !hasOpen {
		if in.Cash, err = r.portfolio.Cash(ctx); err != nil {
			return domain.Decision{}, nil, fmt.Errorf("failed to get cash: %w", err)
		}
		if in.Position, err = r.portfolio.Position(ctx, r.cfg.Symbol); err != nil {
			return domain.Decision{}, nil, fmt.Errorf("failed to get position: %w", err)
		}
	}

	decision, err := r.engine.Decide(ctx, in)
	if err != nil {
		return domain.Decision{}, nil, err
	}

	r.recorder.RecordBar(ctx, domain.BarTelemetry{
		Symbol:    r.cfg.Symbol,
		BarTime:   barTime,
		Price:     price,
		Indicator: decision.Indicator,
		Action:    decision.Action.Kind,
		Reason:    decision.Reason,
	})

	if decision.Action.Kind == domain.ActionNone {
		return decision, nil, nil
	}

	req, err := r.orderRequest(decision.Action, in.Position, barTime)
	if err != nil {
		return decision, nil, err
	}
	order, err := r.router.Submit(ctx, req)
	if err != nil {
		return decision, nil, fmt.Errorf("failed to submit %s order: %w", req.Intent, err)
	}
	r.logger.Info(ctx, "Order submitted", map[string]interface{}{
		"clientOrderID": req.ClientOrderID,
		"intent":        string(req.Intent),
		"quantity":      req.Quantity,
		"limitPrice":    req.LimitPrice,
	})
	return decision, order, nil
}

// orderRequest builds the host request for a buy or close action.
func (r *BarRunner) orderRequest(action domain.Action, pos *domain.Position, barTime time.Time) (domain.OrderRequest, error) {
	req := domain.OrderRequest{
		ClientOrderID: r.newClientOrderID(),
		Symbol:        r.cfg.Symbol,
		LimitPrice:    action.LimitPrice,
		CreatedAt:     barTime,
	}
	switch action.Kind {
	case domain.ActionBuy:
		req.Side = domain.Buy
		req.Intent = domain.IntentBuy
		req.Quantity = action.Units
	case domain.ActionClose:
		if pos == nil || pos.Amount <= 0 {
			return domain.OrderRequest{}, fmt.Errorf("%w: close without a position", ports.ErrInvalidOrder)
		}
		req.Side = domain.Sell
		req.Intent = domain.IntentClose
		req.Quantity = pos.Amount
	default:
		return domain.OrderRequest{}, fmt.Errorf("%w: unknown action %q", ports.ErrInvalidOrder, action.Kind)
	}
	if req.Quantity <= 0 || req.LimitPrice <= 0 {
		return domain.OrderRequest{}, fmt.Errorf("%w: quantity %v at %v", ports.ErrInvalidOrder, req.Quantity, req.LimitPrice)
	}
	return req, nil
}

type nopRecorder struct{}

func (nopRecorder) RecordBar(context.Context, domain.BarTelemetry)  {}
func (nopRecorder) RecordBarError(context.Context, domain.BarError) {}
