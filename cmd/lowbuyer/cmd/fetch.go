package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"buyLowSellHigh/internal/adapters/binanceclient"
	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/utils"

	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download closed klines from Binance to CSV",
	Long: `Fetch downloads klines for a symbol and interval from the Binance spot
REST API and writes them in the CSV format the backtester reads. Only
closed klines are written.

Example:
  lowbuyer fetch --symbol XRPUSDT --interval 15m --from 2024-01-01 --to 2024-04-01 --out data/xrp_15m.csv`,
	RunE: runFetch,
}

var (
	fetchSymbol   string
	fetchInterval string
	fetchFrom     string
	fetchTo       string
	fetchOut      string
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVarP(&fetchSymbol, "symbol", "s", "", "symbol (default SYMBOL)")
	fetchCmd.Flags().StringVarP(&fetchInterval, "interval", "i", "", "kline interval (default HISTORY_FREQUENCY)")
	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "start time (default 30 days before --to)")
	fetchCmd.Flags().StringVar(&fetchTo, "to", "", "end time (default now)")
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "output CSV (default data/<symbol>_<interval>_<from>_to_<to>.csv)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, log, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	symbol := cfg.Symbol
	if fetchSymbol != "" {
		symbol = fetchSymbol
	}
	interval := cfg.HistoryFrequency
	if fetchInterval != "" {
		interval = fetchInterval
	}
	if _, ok := domain.IntervalDuration(interval); !ok {
		return fmt.Errorf("--interval: unsupported interval %q", interval)
	}
	end, err := parseTime("to", fetchTo)
	if err != nil {
		return err
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start, err := parseTime("from", fetchFrom)
	if err != nil {
		return err
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}
	if !start.Before(end) {
		return fmt.Errorf("--from must be before --to")
	}

	// Market data endpoints need no credentials.
	client, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               log,
		PricePrecision:       cfg.PricePrecision,
		QuantityPrecision:    cfg.QuantityPrecision,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		return fmt.Errorf("create binance client: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Fetching klines for %s %s from %s to %s...\n", symbol, interval, start.Format(time.RFC3339), end.Format(time.RFC3339))
	klines, err := client.GetKlinesRange(ctx, symbol, interval, start, end)
	if err != nil {
		return fmt.Errorf("fetch klines: %w", err)
	}
	if len(klines) == 0 {
		return fmt.Errorf("no klines returned for %s %s", symbol, interval)
	}

	out := fetchOut
	if out == "" {
		out = filepath.Join("data", fmt.Sprintf("%s_%s_%s_to_%s.csv", symbol, interval, start.Format("20060102"), end.Format("20060102")))
	}
	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := utils.WriteKlinesToCSV(klines, out); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %d klines to %s\n", len(klines), out)
	return nil
}
