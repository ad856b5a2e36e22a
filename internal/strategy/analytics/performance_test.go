package analytics

import (
	"math"
	"testing"
	"time"

	"buyLowSellHigh/internal/domain"
)

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestAnalyzePerformance(t *testing.T) {
	initialBalance := 10000.0
	trades := []*domain.Trade{
		{
			Symbol:      "XRPUSDT",
			EntryPrice:  0.5,
			ExitPrice:   0.55,
			Quantity:    2000,
			PNL:         100,
			EntryTime:   base.Add(-24 * time.Hour),
			ExitTime:    base,
			CloseReason: domain.CloseReasonTakeProfit,
		},
		{
			Symbol:      "XRPUSDT",
			EntryPrice:  0.5,
			ExitPrice:   0.45,
			Quantity:    2000,
			PNL:         -100,
			EntryTime:   base.Add(-12 * time.Hour),
			ExitTime:    base.Add(-6 * time.Hour),
			CloseReason: domain.CloseReasonManual,
		},
	}

	metrics := AnalyzePerformance(trades, initialBalance)

	if metrics.TotalTrades != 2 {
		t.Errorf("Expected 2 total trades, got %d", metrics.TotalTrades)
	}
	if metrics.WinningTrades != 1 {
		t.Errorf("Expected 1 winning trade, got %d", metrics.WinningTrades)
	}
	if metrics.LosingTrades != 1 {
		t.Errorf("Expected 1 losing trade, got %d", metrics.LosingTrades)
	}
	if metrics.WinRate != 0.5 {
		t.Errorf("Expected 0.5 win rate, got %f", metrics.WinRate)
	}
	if metrics.TotalProfit != 0 {
		t.Errorf("Expected 0 total profit, got %f", metrics.TotalProfit)
	}
	if metrics.FinalBalance != initialBalance {
		t.Errorf("Expected final balance of %f, got %f", initialBalance, metrics.FinalBalance)
	}
	if metrics.AverageWin != 100 {
		t.Errorf("Expected 100 average win, got %f", metrics.AverageWin)
	}
	if metrics.AverageLoss != -100 {
		t.Errorf("Expected -100 average loss, got %f", metrics.AverageLoss)
	}
	if metrics.ProfitFactor != 1.0 {
		t.Errorf("Expected 1.0 profit factor, got %f", metrics.ProfitFactor)
	}
	if metrics.RiskRewardRatio != 1.0 {
		t.Errorf("Expected 1.0 risk reward ratio, got %f", metrics.RiskRewardRatio)
	}
	if metrics.ExitReasons[domain.CloseReasonTakeProfit] != 1 || metrics.ExitReasons[domain.CloseReasonManual] != 1 {
		t.Errorf("Unexpected exit reasons %v", metrics.ExitReasons)
	}
	if metrics.AverageTradeDuration != 15*time.Hour {
		t.Errorf("Expected 15h average duration, got %s", metrics.AverageTradeDuration)
	}

	// The loss exited first, so the curve dips before it recovers.
	if len(metrics.EquityCurve) != 2 {
		t.Fatalf("Expected 2 equity curve points, got %d", len(metrics.EquityCurve))
	}
	if metrics.EquityCurve[0].Value != 9900 || metrics.EquityCurve[1].Value != 10000 {
		t.Errorf("Unexpected equity curve %+v", metrics.EquityCurve)
	}

	monthlyReturns := metrics.GetMonthlyReturns()
	if len(monthlyReturns) != 1 {
		t.Errorf("Expected 1 monthly return, got %d", len(monthlyReturns))
	}
}

func TestAnalyzePerformanceDoesNotReorderInput(t *testing.T) {
	trades := []*domain.Trade{
		{PNL: 1, EntryPrice: 1, Quantity: 1, ExitTime: base.Add(time.Hour)},
		{PNL: 2, EntryPrice: 1, Quantity: 1, ExitTime: base},
	}
	AnalyzePerformance(trades, 100)
	if trades[0].PNL != 1 {
		t.Errorf("input slice was reordered")
	}
}

func TestAnalyzePerformanceEmptyTrades(t *testing.T) {
	metrics := AnalyzePerformance([]*domain.Trade{}, 10000.0)
	if metrics.TotalTrades != 0 {
		t.Errorf("Expected 0 total trades, got %d", metrics.TotalTrades)
	}
	if metrics.FinalBalance != 10000.0 {
		t.Errorf("Expected final balance of 10000.0, got %f", metrics.FinalBalance)
	}
}

func TestAnalyzePerformanceDrawdown(t *testing.T) {
	initialBalance := 10000.0
	trades := []*domain.Trade{
		{
			Symbol:      "XRPUSDT",
			EntryPrice:  0.5,
			ExitPrice:   0.6,
			Quantity:    10000,
			PNL:         1000,
			EntryTime:   base.Add(-24 * time.Hour),
			ExitTime:    base.Add(-18 * time.Hour),
			CloseReason: domain.CloseReasonTakeProfit,
		},
		{
			Symbol:      "XRPUSDT",
			EntryPrice:  0.55,
			ExitPrice:   0.45,
			Quantity:    22000,
			PNL:         -2200,
			EntryTime:   base.Add(-12 * time.Hour),
			ExitTime:    base.Add(-6 * time.Hour),
			CloseReason: domain.CloseReasonManual,
		},
	}

	metrics := AnalyzePerformance(trades, initialBalance)

	if math.Abs(metrics.MaxDrawdown-0.2) > 1e-12 {
		t.Errorf("Expected 0.2 max drawdown, got %f", metrics.MaxDrawdown)
	}
	if len(metrics.Drawdowns) != 1 {
		t.Fatalf("Expected 1 drawdown period, got %d", len(metrics.Drawdowns))
	}
	if math.Abs(metrics.Drawdowns[0].Depth-0.2) > 1e-12 {
		t.Errorf("Expected 0.2 drawdown depth, got %f", metrics.Drawdowns[0].Depth)
	}
	if metrics.RecoveryFactor >= 0 {
		t.Errorf("Expected negative recovery factor for a losing run, got %f", metrics.RecoveryFactor)
	}
}

func TestAnalyzePerformanceConsecutiveTrades(t *testing.T) {
	trades := []*domain.Trade{
		{Symbol: "XRPUSDT", EntryPrice: 0.5, Quantity: 100, PNL: 5, EntryTime: base, ExitTime: base.Add(time.Hour)},
		{Symbol: "XRPUSDT", EntryPrice: 0.5, Quantity: 100, PNL: 10, EntryTime: base, ExitTime: base.Add(2 * time.Hour)},
	}

	metrics := AnalyzePerformance(trades, 10000)

	if metrics.MaxConsecutiveWins != 2 {
		t.Errorf("Expected 2 max consecutive wins, got %d", metrics.MaxConsecutiveWins)
	}
	if metrics.MaxConsecutiveLosses != 0 {
		t.Errorf("Expected 0 max consecutive losses, got %d", metrics.MaxConsecutiveLosses)
	}
	if metrics.WinRate != 1.0 {
		t.Errorf("Expected 1.0 win rate, got %f", metrics.WinRate)
	}
	// Returns 0.1 and 0.2: mean 0.15, sample std ~0.0707.
	if math.Abs(metrics.SharpeRatio-0.15/math.Sqrt(0.005)) > 1e-9 {
		t.Errorf("Unexpected sharpe ratio %f", metrics.SharpeRatio)
	}
}

func TestSharpeRatio(t *testing.T) {
	tests := []struct {
		name    string
		returns []float64
		want    float64
	}{
		{"empty", nil, 0},
		{"single", []float64{0.1}, 0},
		{"flat", []float64{0.5, 0.5, 0.5}, 0},
		{"symmetric", []float64{0.1, -0.1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SharpeRatio(tt.returns); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("SharpeRatio(%v) = %f, want %f", tt.returns, got, tt.want)
			}
		})
	}
}
