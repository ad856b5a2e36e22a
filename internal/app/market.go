package app

import (
	"context"
	"fmt"
	"sync"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"
)

const (
	maxKlineCacheSize = 500 // Limit cache size to avoid memory issues
)

// LiveMarket serves price history from klines received on the stream and
// falls back to the REST API when the cache cannot satisfy a request.
type LiveMarket struct {
	exchange ports.ExchangeClient
	logger   ports.Logger
	symbol   string
	interval string

	mu    sync.Mutex
	cache []*domain.Kline // Final klines, oldest first
}

// NewLiveMarket creates a market data source for one symbol and interval.
func NewLiveMarket(exchange ports.ExchangeClient, logger ports.Logger, symbol, interval string) *LiveMarket {
	return &LiveMarket{
		exchange: exchange,
		logger:   logger,
		symbol:   symbol,
		interval: interval,
		cache:    make([]*domain.Kline, 0, maxKlineCacheSize),
	}
}

// Warm fills the cache with the most recent n closed klines.
func (m *LiveMarket) Warm(ctx context.Context, n int) error {
	klines, err := m.exchange.GetKlines(ctx, m.symbol, m.interval, n)
	if err != nil {
		return fmt.Errorf("failed to load initial klines: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = m.cache[:0]
	for _, k := range klines {
		m.appendLocked(k)
	}
	m.logger.Info(ctx, "Loaded initial klines", map[string]interface{}{"count": len(m.cache)})
	return nil
}

// Append adds a final kline to the cache. A kline for an already cached open
// time replaces it; non-final klines are ignored.
func (m *LiveMarket) Append(k *domain.Kline) {
	if k == nil || !k.IsFinal {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(k)
}

func (m *LiveMarket) appendLocked(k *domain.Kline) {
	if n := len(m.cache); n > 0 {
		last := m.cache[n-1]
		if k.OpenTime.Equal(last.OpenTime) {
			m.cache[n-1] = k
			return
		}
		if k.OpenTime.Before(last.OpenTime) {
			return
		}
	}
	m.cache = append(m.cache, k)
	// Trim cache if it exceeds max size
	if len(m.cache) > maxKlineCacheSize {
		m.cache = m.cache[len(m.cache)-maxKlineCacheSize:]
	}
}

// History returns the last barCount klines, oldest first.
func (m *LiveMarket) History(ctx context.Context, symbol, frequency string, barCount int) ([]*domain.Kline, error) {
	if barCount <= 0 {
		return nil, fmt.Errorf("%w: bar count must be positive, got %d", ports.ErrInvalidRequest, barCount)
	}
	if symbol == m.symbol && frequency == m.interval {
		m.mu.Lock()
		if len(m.cache) >= barCount {
			out := make([]*domain.Kline, barCount)
			copy(out, domain.LastN(m.cache, barCount))
			m.mu.Unlock()
			return out, nil
		}
		m.mu.Unlock()
		m.logger.Debug(ctx, "Kline cache short, fetching history", map[string]interface{}{"barCount": barCount})
	}
	return m.exchange.GetKlines(ctx, symbol, frequency, barCount)
}

// CurrentPrice returns the last traded price.
func (m *LiveMarket) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return m.exchange.GetTickerPrice(ctx, symbol)
}
