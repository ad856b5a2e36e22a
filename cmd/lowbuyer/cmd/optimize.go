package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"buyLowSellHigh/internal/strategy/optimization"
	"buyLowSellHigh/internal/utils"

	"github.com/spf13/cobra"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Sweep strategy parameters over a kline CSV",
	Long: `Optimize backtests every combination of the given parameter ranges
concurrently and prints the best scoring ones. Ranges are min:max:step or a
single value; parameters without a flag keep their configured value.

Example:
  lowbuyer optimize --klines data/xrp.csv --profit-target 0.05:0.2:0.05 --slippage 0.01:0.05:0.02`,
	RunE: runOptimize,
}

var (
	optKlinesPath      string
	optFrom            string
	optTo              string
	optCash            float64
	optProfitTarget    string
	optSlippage        string
	optTargetPositions string
	optWorkers         int
	optTop             int
)

func init() {
	rootCmd.AddCommand(optimizeCmd)

	optimizeCmd.Flags().StringVarP(&optKlinesPath, "klines", "k", "", "path to kline CSV (required)")
	optimizeCmd.Flags().StringVar(&optFrom, "from", "", "first bar to trade")
	optimizeCmd.Flags().StringVar(&optTo, "to", "", "last bar to trade")
	optimizeCmd.Flags().Float64Var(&optCash, "cash", 0, "starting quote balance (default BACKTEST_INITIAL_CASH)")
	optimizeCmd.Flags().StringVar(&optProfitTarget, "profit-target", "", "profit target range, e.g. 0.05:0.2:0.05")
	optimizeCmd.Flags().StringVar(&optSlippage, "slippage", "", "slippage allowed range, e.g. 0.01:0.05:0.02")
	optimizeCmd.Flags().StringVar(&optTargetPositions, "target-positions", "", "position cap range, e.g. 1000:5000:1000")
	optimizeCmd.Flags().IntVarP(&optWorkers, "workers", "w", 0, "concurrent backtests (default GOMAXPROCS)")
	optimizeCmd.Flags().IntVar(&optTop, "top", 10, "results to print")

	optimizeCmd.MarkFlagRequired("klines")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, log, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	ranges, err := optimizationRanges()
	if err != nil {
		return err
	}
	if len(ranges) == 0 {
		return fmt.Errorf("at least one of --profit-target, --slippage or --target-positions is required")
	}

	btCfg, err := backtestConfig(cfg, optFrom, optTo, optCash)
	if err != nil {
		return err
	}
	btCfg.Logger = log

	klines, err := utils.ReadKlinesFromCSV(optKlinesPath)
	if err != nil {
		return fmt.Errorf("load klines: %w", err)
	}

	optimizer, err := optimization.NewOptimizer(optimization.OptimizerConfig{
		ParameterRanges: ranges,
		Strategy:        cfg.EngineConfig(),
		RSIPeriod:       cfg.RSIPeriod,
		Backtest:        btCfg,
		Workers:         optWorkers,
	})
	if err != nil {
		return err
	}

	results, err := optimizer.Optimize(ctx, klines)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPROFIT_TARGET\tSLIPPAGE\tTARGET_POS\tRETURN\tTRADES\tWIN_RATE\tMAX_DD\tSCORE")
	engineCfg := cfg.EngineConfig()
	for i, r := range results {
		if i >= optTop {
			break
		}
		value := func(name string, fallback float64) float64 {
			if v, ok := r.Parameters[name]; ok {
				return v
			}
			return fallback
		}
		fmt.Fprintf(w, "%d\t%g\t%g\t%g\t%.2f%%\t%d\t%.1f%%\t%.2f%%\t%.4f\n",
			i+1,
			value(optimization.ParamProfitTarget, engineCfg.ProfitTarget),
			value(optimization.ParamSlippageAllowed, engineCfg.SlippageAllowed),
			value(optimization.ParamTargetPositions, engineCfg.TargetPositions),
			r.Backtest.ReturnOnEquity()*100,
			r.Metrics.TotalTrades,
			r.Metrics.WinRate*100,
			r.Metrics.MaxDrawdown*100,
			r.Score,
		)
	}
	return w.Flush()
}

func optimizationRanges() ([]optimization.ParameterRange, error) {
	flags := []struct {
		flag  string
		value string
		param string
		isInt bool
	}{
		{"profit-target", optProfitTarget, optimization.ParamProfitTarget, false},
		{"slippage", optSlippage, optimization.ParamSlippageAllowed, false},
		{"target-positions", optTargetPositions, optimization.ParamTargetPositions, true},
	}
	var ranges []optimization.ParameterRange
	for _, f := range flags {
		if f.value == "" {
			continue
		}
		lo, hi, step, err := parseRange(f.value)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", f.flag, err)
		}
		ranges = append(ranges, optimization.ParameterRange{Name: f.param, Min: lo, Max: hi, Step: step, IsInt: f.isInt})
	}
	return ranges, nil
}
