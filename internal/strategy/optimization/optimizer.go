package optimization

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"
	"buyLowSellHigh/internal/strategy"
	"buyLowSellHigh/internal/strategy/analytics"
	"buyLowSellHigh/internal/strategy/backtesting"
	"buyLowSellHigh/internal/strategy/indicators"

	"github.com/shopspring/decimal"
)

// Parameter names understood by the optimizer.
const (
	ParamProfitTarget    = "profit_target"
	ParamSlippageAllowed = "slippage_allowed"
	ParamTargetPositions = "target_positions"
)

// ParameterRange defines a range for a parameter to optimize
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// OptimizationResult holds the outcome of one parameter combination
type OptimizationResult struct {
	Parameters map[string]float64
	Backtest   *backtesting.BacktestResult
	Metrics    *analytics.PerformanceMetrics
	Score      float64
}

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	ParameterRanges []ParameterRange
	Strategy        strategy.Config            // Values not swept come from here
	RSIPeriod       int                        // Indicator period shared by every run
	Backtest        backtesting.BacktestConfig // Logger is required
	Workers         int                        // Concurrent backtests; 0 means GOMAXPROCS
	ScoreFunction   func(*backtesting.BacktestResult) float64
}

// Optimizer sweeps a parameter grid with concurrent backtests
type Optimizer struct {
	config    OptimizerConfig
	indicator indicators.Indicator
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig) (*Optimizer, error) {
	if config.Backtest.Logger == nil {
		return nil, fmt.Errorf("logger is required for optimizer")
	}
	if len(config.ParameterRanges) == 0 {
		return nil, fmt.Errorf("%w: no parameter ranges", ports.ErrConfigurationError)
	}
	for _, r := range config.ParameterRanges {
		switch r.Name {
		case ParamProfitTarget, ParamSlippageAllowed, ParamTargetPositions:
		default:
			return nil, fmt.Errorf("%w: unknown parameter %q", ports.ErrConfigurationError, r.Name)
		}
		if r.Step <= 0 || r.Max < r.Min {
			return nil, fmt.Errorf("%w: invalid range for %s", ports.ErrConfigurationError, r.Name)
		}
	}
	rsi, err := indicators.NewRSI(indicators.RSIConfig{IndicatorConfig: indicators.IndicatorConfig{Period: config.RSIPeriod}})
	if err != nil {
		return nil, err
	}
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	if config.Workers <= 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}
	return &Optimizer{config: config, indicator: rsi}, nil
}

// Optimize backtests every parameter combination and returns the results
// best score first. Combinations the engine rejects are skipped.
func (o *Optimizer) Optimize(ctx context.Context, klines []*domain.Kline) ([]OptimizationResult, error) {
	logger := o.config.Backtest.Logger
	combinations := o.generateParameterCombinations()

	jobs := make(chan map[string]float64)
	resultChan := make(chan OptimizationResult, len(combinations))
	var wg sync.WaitGroup

	for w := 0; w < o.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for params := range jobs {
				res, err := o.run(ctx, params, klines)
				if err != nil {
					logger.Warn(ctx, "Parameter combination skipped", map[string]interface{}{
						"parameters": formatParams(params),
						"error":      err.Error(),
					})
					continue
				}
				resultChan <- res
			}
		}()
	}

feed:
	for _, params := range combinations {
		select {
		case jobs <- params:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(resultChan)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
	}

	results := make([]OptimizationResult, 0, len(combinations))
	for result := range resultChan {
		results = append(results, result)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no parameter combination produced a result")
	}

	sortResultsByScore(results)
	return results, nil
}

func (o *Optimizer) run(ctx context.Context, params map[string]float64, klines []*domain.Kline) (OptimizationResult, error) {
	cfg := o.config.Strategy
	for name, v := range params {
		switch name {
		case ParamProfitTarget:
			cfg.ProfitTarget = v
		case ParamSlippageAllowed:
			cfg.SlippageAllowed = v
		case ParamTargetPositions:
			cfg.TargetPositions = v
		}
	}
	engine, err := strategy.New(cfg, o.indicator, o.config.Backtest.Logger)
	if err != nil {
		return OptimizationResult{}, err
	}

	btCfg := o.config.Backtest
	btCfg.RunID = o.config.Backtest.RunID + "/" + formatParams(params)
	result, err := backtesting.Backtest(ctx, engine, klines, btCfg)
	if err != nil {
		return OptimizationResult{}, err
	}
	return OptimizationResult{
		Parameters: params,
		Backtest:   result,
		Metrics:    result.Metrics,
		Score:      o.config.ScoreFunction(result),
	}, nil
}

// generateParameterCombinations generates all possible parameter combinations
func (o *Optimizer) generateParameterCombinations() []map[string]float64 {
	var combinations []map[string]float64
	currentCombination := make(map[string]float64)

	var generate func(int)
	generate = func(paramIndex int) {
		if paramIndex == len(o.config.ParameterRanges) {
			combination := make(map[string]float64, len(currentCombination))
			for k, v := range currentCombination {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}

		param := o.config.ParameterRanges[paramIndex]
		for _, value := range gridValues(param) {
			currentCombination[param.Name] = value
			generate(paramIndex + 1)
		}
	}

	generate(0)
	return combinations
}

// gridValues lists Min, Min+Step, ... up to Max in decimal arithmetic so that
// 0.05 steps do not drift.
func gridValues(r ParameterRange) []float64 {
	lo := decimal.NewFromFloat(r.Min)
	hi := decimal.NewFromFloat(r.Max)
	step := decimal.NewFromFloat(r.Step)

	var out []float64
	for v := lo; v.LessThanOrEqual(hi); v = v.Add(step) {
		f := v.InexactFloat64()
		if r.IsInt {
			f = math.Round(f)
		}
		if len(out) > 0 && out[len(out)-1] == f {
			continue
		}
		out = append(out, f)
	}
	return out
}

func formatParams(params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, params[k])
	}
	return strings.Join(parts, ",")
}

// sortResultsByScore sorts by score, descending. Ties keep a stable order by parameters.
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return formatParams(results[i].Parameters) < formatParams(results[j].Parameters)
	})
}

// DefaultScoreFunction ranks by mark-to-market return, penalized by realized drawdown
func DefaultScoreFunction(result *backtesting.BacktestResult) float64 {
	score := result.ReturnOnEquity()
	if result.Metrics != nil {
		score -= 0.5 * result.Metrics.MaxDrawdown
		score += 0.1 * result.Metrics.WinRate
	}
	return score
}
