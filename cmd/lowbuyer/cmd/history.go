package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"buyLowSellHigh/internal/adapters/logger"
	"buyLowSellHigh/internal/adapters/sqlite"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query stored trades and bar errors",
	Long: `History reads the SQLite database written by the live bot or by
"lowbuyer backtest --db".

Subcommands:
  trades  - Most recent realized trades and total profit for a symbol
  errors  - Bar errors recorded by one run

Examples:
  lowbuyer history trades --symbol XRPUSDT --limit 20
  lowbuyer history errors 01HV3Z8N5Q6Y7W2T9K4M1R0BCD`,
}

var historyTradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List realized trades for a symbol",
	Args:  cobra.NoArgs,
	RunE:  runHistoryTrades,
}

var historyErrorsCmd = &cobra.Command{
	Use:   "errors <run-id>",
	Short: "List bar errors of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryErrors,
}

var (
	historyDBPath string
	historySymbol string
	historyLimit  int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyTradesCmd)
	historyCmd.AddCommand(historyErrorsCmd)

	historyCmd.PersistentFlags().StringVarP(&historyDBPath, "db", "d", "./data/lowbuyer.db", "path to SQLite database")
	historyTradesCmd.Flags().StringVarP(&historySymbol, "symbol", "s", "XRPUSDT", "symbol")
	historyTradesCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "trades to list, newest first")
}

func openHistory(cmd *cobra.Command) (*sqlite.Repository, error) {
	level := logger.LevelWarn
	if logLevel != "" {
		level = logger.ParseLevel(logLevel)
	}
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: historyDBPath,
		Logger: logger.NewStdLoggerTo(cmd.ErrOrStderr(), level),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return repo, nil
}

func runHistoryTrades(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	trades, err := repo.FindBySymbol(ctx, historySymbol, historyLimit)
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	total, err := repo.GetTotalProfit(ctx, historySymbol)
	if err != nil {
		return fmt.Errorf("total profit: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EXIT_TIME\tQTY\tENTRY\tEXIT\tPNL\tREASON")
	for _, t := range trades {
		fmt.Fprintf(w, "%s\t%g\t%.4f\t%.4f\t%.2f\t%s\n",
			t.ExitTime.UTC().Format(time.RFC3339), t.Quantity, t.EntryPrice, t.ExitPrice, t.PNL, t.CloseReason)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Total realized PNL for %s: %.2f\n", historySymbol, total)
	return nil
}

func runHistoryErrors(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	runID := args[0]
	count, err := repo.CountByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("count errors: %w", err)
	}
	errs, err := repo.FindByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("list errors: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %d bar errors\n", runID, count)
	for _, e := range errs {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s %s\n", e.BarTime.UTC().Format(time.RFC3339), e.Symbol, e.Message)
	}
	return nil
}
