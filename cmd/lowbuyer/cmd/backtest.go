package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"buyLowSellHigh/config"
	"buyLowSellHigh/internal/adapters/sqlite"
	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/strategy/backtesting"
	"buyLowSellHigh/internal/utils"

	"github.com/spf13/cobra"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay a kline CSV through the bar routine",
	Long: `Backtest replays klines from a CSV file (as written by "lowbuyer fetch")
against a paper exchange. Each bar runs the same routine as the live bot:
snapshot, decision, limit order. Orders fill on later bars.

With --db the run's trades and bar errors are stored for "lowbuyer history".

Example:
  lowbuyer backtest --klines data/xrp.csv --from 2024-02-01 --trades-out trades.csv`,
	RunE: runBacktest,
}

var (
	btKlinesPath string
	btFrom       string
	btTo         string
	btCash       float64
	btStrict     bool
	btTradesOut  string
	btBarsOut    string
	btDBPath     string
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&btKlinesPath, "klines", "k", "", "path to kline CSV (required)")
	backtestCmd.Flags().StringVar(&btFrom, "from", "", "first bar to trade; earlier bars only serve as history")
	backtestCmd.Flags().StringVar(&btTo, "to", "", "last bar to trade")
	backtestCmd.Flags().Float64Var(&btCash, "cash", 0, "starting quote balance (default BACKTEST_INITIAL_CASH)")
	backtestCmd.Flags().BoolVar(&btStrict, "strict", false, "stop at the first bar fault instead of logging it")
	backtestCmd.Flags().StringVar(&btTradesOut, "trades-out", "", "write realized trades to this CSV")
	backtestCmd.Flags().StringVar(&btBarsOut, "bars-out", "", "write the per-bar series to this CSV")
	backtestCmd.Flags().StringVarP(&btDBPath, "db", "d", "", "SQLite file to store trades and bar errors")

	backtestCmd.MarkFlagRequired("klines")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, log, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	btCfg, err := backtestConfig(cfg, btFrom, btTo, btCash)
	if err != nil {
		return err
	}
	btCfg.Logger = log
	if btStrict {
		btCfg.SwallowErrors = false
	}

	klines, err := utils.ReadKlinesFromCSV(btKlinesPath)
	if err != nil {
		return fmt.Errorf("load klines: %w", err)
	}

	var repo *sqlite.Repository
	if btDBPath != "" {
		repo, err = sqlite.NewRepository(sqlite.Config{DBPath: btDBPath, Logger: log})
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer repo.Close()
		btCfg.ErrorSink = repo
	}

	engine, err := newEngine(cfg, log)
	if err != nil {
		return err
	}

	result, err := backtesting.Backtest(ctx, engine, klines, btCfg)
	if err != nil {
		return err
	}

	if repo != nil {
		for _, trade := range result.Trades {
			if _, err := repo.CreateTrade(ctx, trade); err != nil {
				return fmt.Errorf("store trade: %w", err)
			}
		}
	}
	if btTradesOut != "" {
		if err := utils.WriteTradesToCSV(result.Trades, btTradesOut); err != nil {
			return fmt.Errorf("write trades: %w", err)
		}
	}
	if btBarsOut != "" {
		if err := utils.WriteTelemetryToCSV(result.Series, btBarsOut); err != nil {
			return fmt.Errorf("write bars: %w", err)
		}
	}

	printSummary(cmd.OutOrStdout(), result)
	return nil
}

// backtestConfig builds the run configuration from settings and flags. Logger is left unset.
func backtestConfig(cfg *config.Config, from, to string, initialCash float64) (backtesting.BacktestConfig, error) {
	start, err := parseTime("from", from)
	if err != nil {
		return backtesting.BacktestConfig{}, err
	}
	end, err := parseTime("to", to)
	if err != nil {
		return backtesting.BacktestConfig{}, err
	}
	cash := cfg.InitialCash
	if initialCash > 0 {
		cash = initialCash
	}
	return backtesting.BacktestConfig{
		Symbol:          cfg.Symbol,
		Interval:        cfg.HistoryFrequency,
		StartTime:       start,
		EndTime:         end,
		InitialCash:     cash,
		HistoryBarCount: cfg.HistoryBarCount,
		OrderTTLBars:    cfg.OrderTTLBars,
		Risk:            cfg.RiskConfig(),
		SwallowErrors:   cfg.SwallowErrors,
		RunID:           utils.NewRunID(),
	}, nil
}

func printSummary(w io.Writer, r *backtesting.BacktestResult) {
	m := r.Metrics
	fmt.Fprintf(w, "Run %s\n", r.RunID)
	fmt.Fprintf(w, "  Bars:            %d\n", r.Bars)
	fmt.Fprintf(w, "  Orders / fills:  %d / %d\n", len(r.Orders), len(r.Fills))
	fmt.Fprintf(w, "  Bar errors:      %d\n", len(r.Errors))
	fmt.Fprintf(w, "  Final cash:      %.2f\n", r.FinalCash)
	if r.FinalPosition != nil {
		fmt.Fprintf(w, "  Open position:   %g @ %.4f (unrealized %+.2f)\n", r.FinalPosition.Amount, r.FinalPosition.CostBasis, r.UnrealizedPNL())
	}
	fmt.Fprintf(w, "  Final equity:    %.2f (%+.2f%%)\n", r.FinalEquity, r.ReturnOnEquity()*100)
	fmt.Fprintf(w, "  Trades:          %d (win rate %.1f%%)\n", m.TotalTrades, m.WinRate*100)
	fmt.Fprintf(w, "  Realized PNL:    %.2f\n", m.TotalProfit)
	fmt.Fprintf(w, "  Max drawdown:    %.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(w, "  Sharpe (trade):  %.2f\n", m.SharpeRatio)
	reasons := make([]string, 0, len(m.ExitReasons))
	for reason := range m.ExitReasons {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(w, "  Exits %-10s %d\n", reason+":", m.ExitReasons[domain.CloseReason(reason)])
	}
}
