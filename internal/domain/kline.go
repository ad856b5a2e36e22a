package domain

import "time"

// Kline represents a single candlestick. It doubles as the price sample fed to
// indicators: Close is the sample price and OpenTime its timestamp.
type Kline struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Kline interval (e.g., "15m", "1h")
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume
	IsFinal   bool      // Whether this kline is the final one for the interval
}

// ClosePrices extracts the close series, oldest first.
func ClosePrices(klines []*Kline) []float64 {
	prices := make([]float64, 0, len(klines))
	for _, k := range klines {
		prices = append(prices, k.Close)
	}
	return prices
}

// LastN returns the most recent n klines (or all of them when fewer exist).
// The returned slice shares the backing array with the input.
func LastN(klines []*Kline, n int) []*Kline {
	if n <= 0 || n >= len(klines) {
		return klines
	}
	return klines[len(klines)-n:]
}

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// IntervalDuration returns the bar length of a kline interval such as "15m".
func IntervalDuration(interval string) (time.Duration, bool) {
	d, ok := intervals[interval]
	return d, ok
}
