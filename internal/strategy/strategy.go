package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"
	"buyLowSellHigh/internal/strategy/indicators"
)

// Config holds the sizing and pricing policy of the engine.
type Config struct {
	TargetPositions float64   // Position cap in base units, e.g. 5000
	ProfitTarget    float64   // Fraction above cost basis that triggers a close, e.g. 0.1
	SlippageAllowed float64   // Fraction applied to limit prices, e.g. 0.05
	Ladder          BuyLadder // Indicator threshold -> buy increment
}

// Validate checks the policy values.
func (c Config) Validate() error {
	if c.TargetPositions <= 0 {
		return fmt.Errorf("target positions must be positive, got %v", c.TargetPositions)
	}
	if c.ProfitTarget < 0 {
		return fmt.Errorf("profit target cannot be negative, got %v", c.ProfitTarget)
	}
	if c.SlippageAllowed < 0 || c.SlippageAllowed >= 1 {
		return fmt.Errorf("slippage allowed must be in [0, 1), got %v", c.SlippageAllowed)
	}
	if _, err := NewBuyLadder(c.Ladder); err != nil {
		return fmt.Errorf("invalid buy ladder: %w", err)
	}
	return nil
}

// Engine decides, once per bar, whether to buy, close or do nothing.
// It keeps no state between calls.
type Engine struct {
	cfg       Config
	indicator indicators.Indicator
	logger    ports.Logger
}

// New creates a new Engine instance.
func New(cfg Config, indicator indicators.Indicator, logger ports.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if indicator == nil {
		return nil, fmt.Errorf("indicator is required for strategy")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrConfigurationError, err)
	}
	return &Engine{cfg: cfg, indicator: indicator, logger: logger}, nil
}

// RequiredDataPoints returns the history length needed for a defined indicator.
func (e *Engine) RequiredDataPoints() int {
	return e.indicator.RequiredDataPoints()
}

// Decide returns the action for one bar. Insufficient funds, insufficient data and
// a capped position are regular outcomes; an error means a genuine fault.
func (e *Engine) Decide(ctx context.Context, in domain.BarInput) (domain.Decision, error) {
	if in.HasOpenOrders {
		e.logger.Debug(ctx, "Open orders pending, skipping bar")
		return domain.Decision{Action: domain.NoAction(), Indicator: e.telemetryReading(ctx, in.History), Reason: domain.ReasonOpenOrders}, nil
	}

	price := in.CurrentPrice
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return domain.Decision{}, fmt.Errorf("%w: current price %v", ports.ErrInvalidOrder, price)
	}

	reading, err := e.evaluate(ctx, in.History)
	if err != nil {
		return domain.Decision{}, err
	}

	pos := in.Position
	reason := domain.ReasonEntry
	if pos != nil {
		switch {
		case pos.Amount >= e.cfg.TargetPositions:
			e.logger.Debug(ctx, "Position cap reached", map[string]interface{}{
				"amount": pos.Amount,
				"target": e.cfg.TargetPositions,
			})
			return domain.Decision{Action: domain.NoAction(), Indicator: reading, Reason: domain.ReasonPositionCap}, nil
		case price < pos.CostBasis:
			reason = domain.ReasonAveragingDown
		case pos.Amount > 0 && price > pos.CostBasis*(1+e.cfg.ProfitTarget):
			limit := price * (1 - e.cfg.SlippageAllowed)
			e.logger.Info(ctx, "Take profit condition met", map[string]interface{}{
				"amount":     pos.Amount,
				"costBasis":  pos.CostBasis,
				"price":      price,
				"limitPrice": limit,
			})
			return domain.Decision{Action: domain.CloseAction(limit), Indicator: reading, Reason: domain.ReasonTakeProfit}, nil
		default:
			return domain.Decision{Action: domain.NoAction(), Indicator: reading, Reason: domain.ReasonNoOpportunity}, nil
		}
	}

	return e.buy(ctx, in, reading, reason), nil
}

// evaluate computes the indicator. A short window yields an undefined reading.
func (e *Engine) evaluate(ctx context.Context, history []*domain.Kline) (domain.Reading, error) {
	value, err := e.indicator.Calculate(ctx, history)
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientData) {
			e.logger.Debug(ctx, "Not enough kline data for indicator", map[string]interface{}{
				"available": len(history),
				"required":  e.indicator.RequiredDataPoints(),
			})
			return domain.Undefined(), nil
		}
		return domain.Reading{}, fmt.Errorf("failed to calculate %s: %w", e.indicator.Name(), err)
	}
	return domain.Defined(value), nil
}

// telemetryReading computes the indicator for recording only. A fault yields an
// undefined reading since nothing is traded on it.
func (e *Engine) telemetryReading(ctx context.Context, history []*domain.Kline) domain.Reading {
	if len(history) == 0 {
		return domain.Undefined()
	}
	reading, err := e.evaluate(ctx, history)
	if err != nil {
		e.logger.Warn(ctx, "Indicator failed on a bar with open orders", map[string]interface{}{"error": err.Error()})
		return domain.Undefined()
	}
	return reading
}

func (e *Engine) buy(ctx context.Context, in domain.BarInput, reading domain.Reading, reason domain.DecisionReason) domain.Decision {
	if !reading.Defined {
		return domain.Decision{Action: domain.NoAction(), Indicator: reading, Reason: domain.ReasonInsufficientData}
	}
	units, ok := e.cfg.Ladder.Increment(reading.Value)
	if !ok {
		e.logger.Debug(ctx, "Indicator above buy ladder", map[string]interface{}{"rsi": reading.Value})
		return domain.Decision{Action: domain.NoAction(), Indicator: reading, Reason: domain.ReasonRSITooHigh}
	}
	cost := in.CurrentPrice * units
	if cost > in.Cash {
		e.logger.Info(ctx, "Insufficient cash for buy increment", map[string]interface{}{
			"units": units,
			"cost":  cost,
			"cash":  in.Cash,
		})
		return domain.Decision{Action: domain.NoAction(), Indicator: reading, Reason: domain.ReasonInsufficientFunds}
	}
	limit := in.CurrentPrice * (1 + e.cfg.SlippageAllowed)
	e.logger.Info(ctx, "Buy conditions met", map[string]interface{}{
		"rsi":        reading.Value,
		"units":      units,
		"price":      in.CurrentPrice,
		"limitPrice": limit,
		"reason":     string(reason),
	})
	return domain.Decision{Action: domain.BuyAction(units, limit), Indicator: reading, Reason: reason}
}
