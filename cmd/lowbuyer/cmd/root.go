package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"buyLowSellHigh/config"
	"buyLowSellHigh/internal/adapters/logger"
	"buyLowSellHigh/internal/strategy"
	"buyLowSellHigh/internal/strategy/indicators"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lowbuyer",
	Short: "Research tools for the RSI buy-low / sell-high bot",
	Long: `lowbuyer replays historical klines through the same bar routine the live
bot runs, sweeps strategy parameters and downloads klines from Binance.

Settings come from the environment (.env) exactly as for the live bot;
flags override them for a single run.

Examples:
  lowbuyer fetch --symbol XRPUSDT --interval 15m --from 2024-01-01T00:00:00Z --out data/xrp.csv
  lowbuyer backtest --klines data/xrp.csv --trades-out trades.csv --bars-out bars.csv
  lowbuyer optimize --klines data/xrp.csv --profit-target 0.05:0.2:0.05`,
	SilenceUsage: true,
}

var logLevel string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (DEBUG, INFO, WARN, ERROR)")
}

// loadSettings loads the backtest configuration and a logger writing to the
// command's stderr.
func loadSettings(cmd *cobra.Command) (*config.Config, *logger.StdLogger, error) {
	cfg, err := config.LoadBacktestConfig()
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logger.ParseLevel(logLevel)
	}
	return cfg, logger.NewStdLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel), nil
}

func newEngine(cfg *config.Config, log *logger.StdLogger) (*strategy.Engine, error) {
	rsi, err := indicators.NewRSI(indicators.RSIConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod}})
	if err != nil {
		return nil, err
	}
	return strategy.New(cfg.EngineConfig(), rsi, log)
}

// parseTime accepts RFC3339 or a bare date. Empty means unset.
func parseTime(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("--%s: expected RFC3339 or YYYY-MM-DD, got %q", flag, value)
}

// parseRange parses "min:max:step" or a single value.
func parseRange(value string) (lo, hi, step float64, err error) {
	parts := strings.Split(value, ":")
	switch len(parts) {
	case 1:
		if lo, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
			return 0, 0, 0, err
		}
		return lo, lo, 1, nil
	case 3:
		nums := make([]float64, 3)
		for i, p := range parts {
			if nums[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
				return 0, 0, 0, err
			}
		}
		return nums[0], nums[1], nums[2], nil
	default:
		return 0, 0, 0, fmt.Errorf("expected min:max:step, got %q", value)
	}
}
