package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"time"

	"buyLowSellHigh/config"
	"buyLowSellHigh/internal/adapters/binanceclient"
	"buyLowSellHigh/internal/adapters/logger"
	"buyLowSellHigh/internal/adapters/metrics"
	"buyLowSellHigh/internal/adapters/sqlite"
	"buyLowSellHigh/internal/app"
	"buyLowSellHigh/internal/ledger"
	"buyLowSellHigh/internal/ports"
	"buyLowSellHigh/internal/risk"
	"buyLowSellHigh/internal/strategy"
	"buyLowSellHigh/internal/strategy/indicators"
	"buyLowSellHigh/internal/utils"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		PricePrecision:       cfg.PricePrecision,
		QuantityPrecision:    cfg.QuantityPrecision,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Decision Engine
	rsi, err := indicators.NewRSI(indicators.RSIConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod}})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize RSI indicator: %v", err)
	}
	engine, err := strategy.New(cfg.EngineConfig(), rsi, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize decision engine")
		log.Fatalf("FATAL: Failed to initialize decision engine: %v", err)
	}
	appLogger.Info(context.Background(), "Decision engine initialized", map[string]interface{}{
		"rsiPeriod":       cfg.RSIPeriod,
		"targetPositions": cfg.TargetPositions,
		"profitTarget":    cfg.ProfitTarget,
		"slippageAllowed": cfg.SlippageAllowed,
	})

	// 6. Initialize Host Adapters
	retry := func(attempts int) utils.RetryPolicy {
		return utils.RetryPolicy{Attempts: attempts, MinDelay: cfg.RetryDelay, MaxDelay: 10 * cfg.RetryDelay}
	}
	market := app.NewLiveMarket(binanceClient, appLogger, cfg.Symbol, cfg.HistoryFrequency)
	portfolio, err := ledger.NewLivePortfolio(ledger.LiveConfig{
		Symbol:      cfg.Symbol,
		QuoteAsset:  cfg.QuoteAsset,
		OpenOrders:  retry(cfg.RetryCheckOpenOrders),
		UpdateState: retry(cfg.RetryUpdatePortfolio),
	}, appLogger, binanceClient, repo.Positions(), repo, repo)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize portfolio: %v", err)
	}
	exchangeRouter, err := app.NewExchangeRouter(binanceClient, appLogger, retry(cfg.RetryOrder))
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize order router: %v", err)
	}
	var router ports.OrderRouter = exchangeRouter
	if rc := cfg.RiskConfig(); rc.Enabled() {
		if router, err = risk.NewGuard(rc, exchangeRouter, appLogger); err != nil {
			log.Fatalf("FATAL: Failed to initialize risk guard: %v", err)
		}
	}

	// 7. Metrics
	var recorder ports.Recorder
	if cfg.MetricsAddr != "" {
		prom := metrics.NewPromRecorder()
		recorder = prom
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error(context.Background(), err, "Metrics server stopped")
			}
		}()
		defer srv.Close()
		appLogger.Info(context.Background(), "Metrics endpoint listening", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	// 8. Initialize Bar Runner
	runID := utils.NewRunID()
	runner, err := app.NewBarRunner(app.BarConfig{
		Symbol:           cfg.Symbol,
		HistoryBarCount:  cfg.HistoryBarCount,
		HistoryFrequency: cfg.HistoryFrequency,
		SwallowErrors:    cfg.SwallowErrors,
		RunID:            runID,
	}, appLogger, engine, market, portfolio, router, recorder, app.NewErrorLog(repo, appLogger))
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize bar runner: %v", err)
	}
	appLogger.Info(context.Background(), "Bar runner initialized", map[string]interface{}{"runID": runID})

	// 9. Initialize Application Service
	tradingService, err := app.NewTradingService(cfg, appLogger, binanceClient, market, portfolio, runner)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}
	appLogger.Info(context.Background(), "Trading service initialized")

	// 10. Start the Service
	if err := tradingService.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
