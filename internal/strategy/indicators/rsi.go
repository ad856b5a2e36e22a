package indicators

import (
	"context"
	"fmt"
	"math"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"
)

// RSIConfig holds configuration for the RSI indicator
type RSIConfig struct {
	IndicatorConfig
}

// RSI implements the Relative Strength Index indicator
type RSI struct {
	config RSIConfig
}

// NewRSI creates a new RSI indicator instance
func NewRSI(config RSIConfig) (*RSI, error) {
	if config.Period < 1 {
		return nil, fmt.Errorf("%w: RSI period must be positive, got %d", ports.ErrConfigurationError, config.Period)
	}
	return &RSI{config: config}, nil
}

// Name returns the name of the indicator
func (r *RSI) Name() string {
	return "RSI"
}

// RequiredDataPoints is period+1: the first average needs period price changes.
func (r *RSI) RequiredDataPoints() int {
	return r.config.Period + 1
}

// Calculate computes the RSI of the last kline using Wilder's smoothing over the whole window.
func (r *RSI) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	return CalculateRSI(domain.ClosePrices(klines), r.config.Period)
}

// CalculateRSI computes the RSI of the last price in prices.
func CalculateRSI(prices []float64, period int) (float64, error) {
	if len(prices) <= period {
		return 0, fmt.Errorf("%w: have %d prices, RSI(%d) needs %d", ports.ErrInsufficientData, len(prices), period, period+1)
	}
	for i, p := range prices {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return 0, fmt.Errorf("invalid price %v at index %d", p, i)
		}
	}

	// Seed with the simple average of the first period changes
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Wilder's smoothing for the remaining changes
	smoothing := float64(period - 1)
	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*smoothing + gain) / float64(period)
		avgLoss = (avgLoss*smoothing + loss) / float64(period)
	}

	if avgGain+avgLoss == 0 {
		return 0, nil // Flat window reads as fully oversold
	}
	if avgLoss == 0 {
		return 100, nil
	}

	rsi := 100 - (100 / (1 + avgGain/avgLoss))
	return math.Max(0, math.Min(100, rsi)), nil
}
