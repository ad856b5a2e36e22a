package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/strategy/optimization"
	"buyLowSellHigh/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		in           string
		lo, hi, step float64
		wantErr      bool
	}{
		{in: "0.05:0.2:0.05", lo: 0.05, hi: 0.2, step: 0.05},
		{in: " 1000 : 3000 : 1000 ", lo: 1000, hi: 3000, step: 1000},
		{in: "0.1", lo: 0.1, hi: 0.1, step: 1},
		{in: "0.1:0.2", wantErr: true},
		{in: "a:b:c", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lo, hi, step, err := parseRange(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
			assert.Equal(t, tt.step, step)
		})
	}
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("from", "")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseTime("from", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseTime("from", "2024-03-01T12:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), got)

	_, err = parseTime("from", "yesterday")
	assert.ErrorContains(t, err, "--from")
}

func TestOptimizationRanges(t *testing.T) {
	optProfitTarget, optSlippage, optTargetPositions = "0.05:0.1:0.05", "", "1000:2000:500"
	t.Cleanup(func() { optProfitTarget, optSlippage, optTargetPositions = "", "", "" })

	ranges, err := optimizationRanges()
	require.NoError(t, err)
	assert.Equal(t, []optimization.ParameterRange{
		{Name: optimization.ParamProfitTarget, Min: 0.05, Max: 0.1, Step: 0.05},
		{Name: optimization.ParamTargetPositions, Min: 1000, Max: 2000, Step: 500, IsInt: true},
	}, ranges)

	optSlippage = "bad"
	_, err = optimizationRanges()
	assert.ErrorContains(t, err, "--slippage")
}

// writeValley writes 20 falling and 20 rising 15m klines.
func writeValley(t *testing.T, path string) {
	t.Helper()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	klines := make([]*domain.Kline, 40)
	for i := range klines {
		cls := 100 - float64(i)
		if i >= 20 {
			cls = 80 + 2*float64(i-19)
		}
		open := start.Add(time.Duration(i) * 15 * time.Minute)
		klines[i] = &domain.Kline{
			OpenTime:  open,
			CloseTime: open.Add(15 * time.Minute),
			Symbol:    "XRPUSDT",
			Interval:  "15m",
			Open:      cls,
			High:      cls + 1,
			Low:       cls - 1,
			Close:     cls,
			Volume:    1000,
		}
	}
	require.NoError(t, utils.WriteKlinesToCSV(klines, path))
}

func TestBacktestThenHistory(t *testing.T) {
	for k, v := range map[string]string{
		"SYMBOL":            "XRPUSDT",
		"BASE_ASSET":        "XRP",
		"QUOTE_ASSET":       "USDT",
		"HISTORY_FREQUENCY": "15m",
		"STRATEGY_FILE":     "",
		"LOG_LEVEL":         "ERROR",
	} {
		t.Setenv(k, v)
	}

	dir := t.TempDir()
	klinesPath := filepath.Join(dir, "klines.csv")
	tradesPath := filepath.Join(dir, "trades.csv")
	barsPath := filepath.Join(dir, "bars.csv")
	dbPath := filepath.Join(dir, "bt.db")
	writeValley(t, klinesPath)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs([]string{
		"backtest",
		"--klines", klinesPath,
		"--cash", "10000",
		"--trades-out", tradesPath,
		"--bars-out", barsPath,
		"--db", dbPath,
	})
	require.NoError(t, rootCmd.Execute(), errOut.String())
	assert.Contains(t, out.String(), "Bars:            40")
	assert.Contains(t, out.String(), "Bar errors:      0")
	assert.Contains(t, out.String(), "Final equity:")
	assert.FileExists(t, tradesPath)

	bars, err := os.ReadFile(barsPath)
	require.NoError(t, err)
	assert.Equal(t, 41, bytes.Count(bars, []byte("\n")), "header plus one row per bar")

	out.Reset()
	rootCmd.SetArgs([]string{"history", "trades", "--db", dbPath, "--symbol", "XRPUSDT"})
	require.NoError(t, rootCmd.Execute(), errOut.String())
	assert.Contains(t, out.String(), "EXIT_TIME")
	assert.Contains(t, out.String(), "Total realized PNL for XRPUSDT")

	out.Reset()
	rootCmd.SetArgs([]string{"history", "errors", "no-such-run", "--db", dbPath})
	require.NoError(t, rootCmd.Execute(), errOut.String())
	assert.Contains(t, out.String(), "Run no-such-run: 0 bar errors")
}

func TestBacktestRequiresKlines(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs([]string{"backtest", "--klines", filepath.Join(t.TempDir(), "missing.csv")})
	assert.Error(t, rootCmd.Execute())
}
