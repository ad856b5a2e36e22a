package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"buyLowSellHigh/internal/adapters/logger" // Import the logger package for LogLevel
	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/risk"
	"buyLowSellHigh/internal/strategy"
)

// Config holds all application configuration. It is built once at startup and
// not changed afterwards.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Market
	Symbol           string // e.g. XRPUSDT
	BaseAsset        string // e.g. XRP
	QuoteAsset       string // e.g. USDT
	HistoryFrequency string // Kline interval of the lookback window
	HistoryBarCount  int    // Bars handed to the strategy each bar

	// Strategy Parameters
	RSIPeriod       int
	TargetPositions float64 // Position cap in base units
	ProfitTarget    float64 // e.g. 0.1 closes at 10% above cost basis
	SlippageAllowed float64 // e.g. 0.05 prices buys 5% above and sells 5% below market
	BuyLadder       strategy.BuyLadder

	// Bar handling
	SwallowErrors bool

	// Host retry counters. The strategy never retries; only the exchange-facing
	// adapters consume these.
	RetryCheckOpenOrders int
	RetryUpdatePortfolio int
	RetryOrder           int
	RetryDelay           time.Duration

	// Order formatting
	PricePrecision    int
	QuantityPrecision int

	// Order limits checked before submission, 0 disables
	MinNotional         float64
	MaxOrderNotional    float64
	MaxDailyOrders      int
	MaxDailyBuyNotional float64

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Metrics endpoint, empty disables it
	MetricsAddr string

	// Backtesting
	InitialCash  float64
	OrderTTLBars int // Bars a paper order stays open; 0 keeps it until filled
}

// strategyFile is the optional YAML overlay named by STRATEGY_FILE.
// Environment variables still take precedence over it.
type strategyFile struct {
	Symbol           string          `yaml:"symbol"`
	BaseAsset        string          `yaml:"base_asset"`
	QuoteAsset       string          `yaml:"quote_asset"`
	HistoryFrequency string          `yaml:"history_frequency"`
	HistoryBarCount  int             `yaml:"history_bar_count"`
	RSIPeriod        int             `yaml:"rsi_period"`
	TargetPositions  float64         `yaml:"target_positions"`
	ProfitTarget     *float64        `yaml:"profit_target"`
	SlippageAllowed  *float64        `yaml:"slippage_allowed"`
	BuyLadder        []strategy.Rung `yaml:"buy_ladder"`
	SwallowErrors    *bool           `yaml:"swallow_errors"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	return &Config{
		IsTestnet:            true, // Default to testnet for safety
		Symbol:               "XRPUSDT",
		BaseAsset:            "XRP",
		QuoteAsset:           "USDT",
		HistoryFrequency:     "15m",
		HistoryBarCount:      20,
		RSIPeriod:            14,
		TargetPositions:      5000,
		ProfitTarget:         0.1,
		SlippageAllowed:      0.05,
		BuyLadder:            strategy.DefaultBuyLadder(),
		SwallowErrors:        true,
		RetryCheckOpenOrders: 10,
		RetryUpdatePortfolio: 10,
		RetryOrder:           5,
		RetryDelay:           500 * time.Millisecond,
		PricePrecision:       4,
		QuantityPrecision:    1,
		MinNotional:          5,
		DBPath:               "./data/lowbuyer.db",
		LogLevel:             logger.LevelInfo,
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 10,
		MetricsAddr:          ":9100",
		InitialCash:          10000,
	}
}

// LoadConfig loads configuration for live trading from environment variables (.env file).
func LoadConfig() (*Config, error) {
	return load(true)
}

// LoadBacktestConfig is LoadConfig without the API credential requirement.
func LoadBacktestConfig() (*Config, error) {
	return load(false)
}

func load(requireCredentials bool) (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := Defaults()
	var err error
	var errs []string // Collect validation errors

	if path := getEnv("STRATEGY_FILE", ""); path != "" {
		if err := applyStrategyFile(cfg, path); err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", cfg.IsTestnet)

	if requireCredentials {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set")
		}
	}

	// Market
	cfg.Symbol = strings.ToUpper(getEnv("SYMBOL", cfg.Symbol))
	cfg.BaseAsset = strings.ToUpper(getEnv("BASE_ASSET", cfg.BaseAsset))
	cfg.QuoteAsset = strings.ToUpper(getEnv("QUOTE_ASSET", cfg.QuoteAsset))
	if cfg.BaseAsset == "" || cfg.QuoteAsset == "" {
		errs = append(errs, "BASE_ASSET and QUOTE_ASSET must be set")
	} else if cfg.Symbol != cfg.BaseAsset+cfg.QuoteAsset {
		errs = append(errs, fmt.Sprintf("SYMBOL %s does not match BASE_ASSET+QUOTE_ASSET %s%s", cfg.Symbol, cfg.BaseAsset, cfg.QuoteAsset))
	}

	cfg.HistoryFrequency = getEnv("HISTORY_FREQUENCY", cfg.HistoryFrequency)
	if _, ok := domain.IntervalDuration(cfg.HistoryFrequency); !ok {
		errs = append(errs, fmt.Sprintf("unsupported HISTORY_FREQUENCY %q", cfg.HistoryFrequency))
	}

	cfg.HistoryBarCount, err = getEnvAsIntRequired("HISTORY_BAR_COUNT", cfg.HistoryBarCount)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid HISTORY_BAR_COUNT: %v", err))
	}

	// Strategy Parameters
	cfg.RSIPeriod, err = getEnvAsIntRequired("RSI_PERIOD", cfg.RSIPeriod)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RSI_PERIOD: %v", err))
	} else if cfg.RSIPeriod <= 0 {
		errs = append(errs, "RSI_PERIOD must be positive")
	} else if cfg.HistoryBarCount <= cfg.RSIPeriod {
		errs = append(errs, fmt.Sprintf("HISTORY_BAR_COUNT (%d) must exceed RSI_PERIOD (%d)", cfg.HistoryBarCount, cfg.RSIPeriod))
	}

	cfg.TargetPositions, err = getEnvAsFloatRequired("TARGET_POSITIONS", cfg.TargetPositions)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TARGET_POSITIONS: %v", err))
	} else if cfg.TargetPositions <= 0 {
		errs = append(errs, "TARGET_POSITIONS must be positive")
	}

	cfg.ProfitTarget, err = getEnvAsFloatRequired("PROFIT_TARGET", cfg.ProfitTarget)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PROFIT_TARGET: %v", err))
	} else if cfg.ProfitTarget < 0 {
		errs = append(errs, "PROFIT_TARGET cannot be negative")
	}

	cfg.SlippageAllowed, err = getEnvAsFloatRequired("SLIPPAGE_ALLOWED", cfg.SlippageAllowed)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SLIPPAGE_ALLOWED: %v", err))
	} else if cfg.SlippageAllowed < 0 || cfg.SlippageAllowed >= 1.0 {
		errs = append(errs, "SLIPPAGE_ALLOWED must be between 0.0 (inclusive) and 1.0 (exclusive)")
	}

	if ladder := getEnv("BUY_LADDER", ""); ladder != "" {
		cfg.BuyLadder, err = strategy.ParseBuyLadder(ladder)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid BUY_LADDER: %v", err))
		}
	}

	// Bar handling
	cfg.SwallowErrors = getEnvAsBool("SWALLOW_ERRORS", cfg.SwallowErrors)
	cfg.RetryCheckOpenOrders = getEnvAsInt("RETRY_CHECK_OPEN_ORDERS", cfg.RetryCheckOpenOrders)
	cfg.RetryUpdatePortfolio = getEnvAsInt("RETRY_UPDATE_PORTFOLIO", cfg.RetryUpdatePortfolio)
	cfg.RetryOrder = getEnvAsInt("RETRY_ORDER", cfg.RetryOrder)
	if cfg.RetryCheckOpenOrders < 1 || cfg.RetryUpdatePortfolio < 1 || cfg.RetryOrder < 1 {
		errs = append(errs, "retry counts must be at least 1")
	}
	retryDelayMillis := getEnvAsInt("RETRY_DELAY_MS", int(cfg.RetryDelay/time.Millisecond))
	if retryDelayMillis <= 0 {
		errs = append(errs, "RETRY_DELAY_MS must be positive")
	}
	cfg.RetryDelay = time.Duration(retryDelayMillis) * time.Millisecond

	cfg.PricePrecision = getEnvAsInt("PRICE_PRECISION", cfg.PricePrecision)
	cfg.QuantityPrecision = getEnvAsInt("QUANTITY_PRECISION", cfg.QuantityPrecision)
	if cfg.PricePrecision < 0 || cfg.QuantityPrecision < 0 {
		errs = append(errs, "PRICE_PRECISION and QUANTITY_PRECISION cannot be negative")
	}

	// The paper exchange has no notional filter; backtests only check limits that are set explicitly.
	if !requireCredentials {
		cfg.MinNotional = 0
	}
	cfg.MinNotional, err = getEnvAsFloatRequired("MIN_NOTIONAL", cfg.MinNotional)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_NOTIONAL: %v", err))
	}
	cfg.MaxOrderNotional, err = getEnvAsFloatRequired("MAX_ORDER_NOTIONAL", cfg.MaxOrderNotional)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_ORDER_NOTIONAL: %v", err))
	}
	cfg.MaxDailyBuyNotional, err = getEnvAsFloatRequired("MAX_DAILY_BUY_NOTIONAL", cfg.MaxDailyBuyNotional)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_BUY_NOTIONAL: %v", err))
	}
	cfg.MaxDailyOrders = getEnvAsInt("MAX_DAILY_ORDERS", cfg.MaxDailyOrders)
	if cfg.MinNotional < 0 || cfg.MaxOrderNotional < 0 || cfg.MaxDailyBuyNotional < 0 || cfg.MaxDailyOrders < 0 {
		errs = append(errs, "order limits cannot be negative")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", int(cfg.ReconnectDelay/time.Second))
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", cfg.MaxReconnectAttempts)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	if getEnvAsBool("METRICS_DISABLED", false) {
		cfg.MetricsAddr = ""
	}

	// Backtesting
	cfg.InitialCash, err = getEnvAsFloatRequired("BACKTEST_INITIAL_CASH", cfg.InitialCash)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BACKTEST_INITIAL_CASH: %v", err))
	} else if cfg.InitialCash < 0 {
		errs = append(errs, "BACKTEST_INITIAL_CASH cannot be negative")
	}
	cfg.OrderTTLBars = getEnvAsInt("PAPER_ORDER_TTL_BARS", cfg.OrderTTLBars)
	if cfg.OrderTTLBars < 0 {
		errs = append(errs, "PAPER_ORDER_TTL_BARS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// EngineConfig returns the strategy policy part of the configuration.
func (c *Config) EngineConfig() strategy.Config {
	return strategy.Config{
		TargetPositions: c.TargetPositions,
		ProfitTarget:    c.ProfitTarget,
		SlippageAllowed: c.SlippageAllowed,
		Ladder:          c.BuyLadder,
	}
}

// RiskConfig returns the order limits part of the configuration.
func (c *Config) RiskConfig() risk.Config {
	return risk.Config{
		MinNotional:         c.MinNotional,
		MaxOrderNotional:    c.MaxOrderNotional,
		MaxDailyOrders:      c.MaxDailyOrders,
		MaxDailyBuyNotional: c.MaxDailyBuyNotional,
	}
}

func applyStrategyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("STRATEGY_FILE: %v", err)
	}
	var f strategyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("STRATEGY_FILE %s: %v", path, err)
	}

	if f.Symbol != "" {
		cfg.Symbol = f.Symbol
	}
	if f.BaseAsset != "" {
		cfg.BaseAsset = f.BaseAsset
	}
	if f.QuoteAsset != "" {
		cfg.QuoteAsset = f.QuoteAsset
	}
	if f.HistoryFrequency != "" {
		cfg.HistoryFrequency = f.HistoryFrequency
	}
	if f.HistoryBarCount != 0 {
		cfg.HistoryBarCount = f.HistoryBarCount
	}
	if f.RSIPeriod != 0 {
		cfg.RSIPeriod = f.RSIPeriod
	}
	if f.TargetPositions != 0 {
		cfg.TargetPositions = f.TargetPositions
	}
	if f.ProfitTarget != nil {
		cfg.ProfitTarget = *f.ProfitTarget
	}
	if f.SlippageAllowed != nil {
		cfg.SlippageAllowed = *f.SlippageAllowed
	}
	if f.SwallowErrors != nil {
		cfg.SwallowErrors = *f.SwallowErrors
	}
	if len(f.BuyLadder) > 0 {
		ladder, err := strategy.NewBuyLadder(f.BuyLadder)
		if err != nil {
			return fmt.Errorf("STRATEGY_FILE %s: buy_ladder: %v", path, err)
		}
		cfg.BuyLadder = ladder
	}
	return nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
