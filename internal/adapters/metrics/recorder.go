// Package metrics turns per-bar telemetry into Prometheus series and
// in-memory records.
//
// Exposed series:
//   - lowbuyer_price{symbol}                  last price seen by the engine
//   - lowbuyer_rsi{symbol}                    last defined indicator value
//   - lowbuyer_decisions_total{action,reason} decisions taken
//   - lowbuyer_bar_errors_total{symbol}       bars that ended in an error
//   - lowbuyer_last_bar_timestamp_seconds     open time of the last handled bar
package metrics

import (
	"context"
	"net/http"
	"sync"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromRecorder publishes telemetry on its own registry.
type PromRecorder struct {
	registry  *prometheus.Registry
	price     *prometheus.GaugeVec
	rsi       *prometheus.GaugeVec
	decisions *prometheus.CounterVec
	barErrors *prometheus.CounterVec
	lastBar   prometheus.Gauge
}

// NewPromRecorder creates a recorder and registers its collectors.
func NewPromRecorder() *PromRecorder {
	r := &PromRecorder{
		registry: prometheus.NewRegistry(),
		price: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lowbuyer_price",
				Help: "Last price handed to the decision engine",
			},
			[]string{"symbol"},
		),
		rsi: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lowbuyer_rsi",
				Help: "Last defined RSI reading",
			},
			[]string{"symbol"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lowbuyer_decisions_total",
				Help: "Decisions taken, by action and reason",
			},
			[]string{"action", "reason"},
		),
		barErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lowbuyer_bar_errors_total",
				Help: "Bars whose handling failed",
			},
			[]string{"symbol"},
		),
		lastBar: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lowbuyer_last_bar_timestamp_seconds",
				Help: "Open time of the last handled bar",
			},
		),
	}
	r.registry.MustRegister(r.price, r.rsi, r.decisions, r.barErrors, r.lastBar)
	return r
}

// RecordBar implements ports.Recorder.
func (r *PromRecorder) RecordBar(_ context.Context, t domain.BarTelemetry) {
	r.price.WithLabelValues(t.Symbol).Set(t.Price)
	// An undefined reading leaves the last value in place.
	if t.Indicator.Defined {
		r.rsi.WithLabelValues(t.Symbol).Set(t.Indicator.Value)
	}
	r.decisions.WithLabelValues(string(t.Action), string(t.Reason)).Inc()
	r.lastBar.Set(float64(t.BarTime.Unix()))
}

// RecordBarError implements ports.Recorder.
func (r *PromRecorder) RecordBarError(_ context.Context, e domain.BarError) {
	r.barErrors.WithLabelValues(e.Symbol).Inc()
	r.lastBar.Set(float64(e.BarTime.Unix()))
}

// Handler serves the registry in the Prometheus text format.
func (r *PromRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (r *PromRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// SeriesRecorder keeps every record in memory. Backtests read it back at the end.
type SeriesRecorder struct {
	mu     sync.Mutex
	bars   []domain.BarTelemetry
	errors []domain.BarError
}

// NewSeriesRecorder creates an empty in-memory recorder.
func NewSeriesRecorder() *SeriesRecorder {
	return &SeriesRecorder{}
}

func (s *SeriesRecorder) RecordBar(_ context.Context, t domain.BarTelemetry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = append(s.bars, t)
}

func (s *SeriesRecorder) RecordBarError(_ context.Context, e domain.BarError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, e)
}

// Series returns a copy of the per-bar telemetry, in recording order.
func (s *SeriesRecorder) Series() []domain.BarTelemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BarTelemetry, len(s.bars))
	copy(out, s.bars)
	return out
}

// Errors returns a copy of the recorded bar errors.
func (s *SeriesRecorder) Errors() []domain.BarError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BarError, len(s.errors))
	copy(out, s.errors)
	return out
}

// Tee forwards every record to each recorder in order.
type Tee []ports.Recorder

func (t Tee) RecordBar(ctx context.Context, b domain.BarTelemetry) {
	for _, r := range t {
		r.RecordBar(ctx, b)
	}
}

func (t Tee) RecordBarError(ctx context.Context, e domain.BarError) {
	for _, r := range t {
		r.RecordBarError(ctx, e)
	}
}

var (
	_ ports.Recorder = (*PromRecorder)(nil)
	_ ports.Recorder = (*SeriesRecorder)(nil)
	_ ports.Recorder = Tee(nil)
)
