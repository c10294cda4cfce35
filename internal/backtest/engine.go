package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/egp/internal/brain"
	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/internal/marketdata"
	"github.com/wonny/egp/internal/portfolio"
	"github.com/wonny/egp/internal/strategyconfig"
	"github.com/wonny/egp/pkg/logger"
)

// FallbackInsufficientHistory marks a rebalance that had too few observations to estimate
const FallbackInsufficientHistory = "insufficient_history"

// Engine runs rolling-window backtests
// ⭐ SSOT: 백테스팅 실행은 여기서만
type Engine struct {
	orchestrator *brain.Orchestrator
	loader       *marketdata.Loader
	logger       *logger.Logger
}

// Config holds backtest configuration
type Config struct {
	StartDate       time.Time // 이 날짜 이전 데이터는 추정용 워밍업
	EndDate         time.Time
	InitialCapital  float64
	Rebalance       Rebalance
	Lookback        int     // 추정 윈도우 (0 = 누적)
	MinObservations int     // 미만이면 동일가중
	TransactionCost float64 // 거래대금 대비 비율 (0.0015 = 0.15%)
	PeriodsPerYear  float64
	Frequency       marketdata.Frequency
	ReturnMethod    marketdata.ReturnMethod
	Winsorize       *strategyconfig.Winsorize // 운용 경로와 같은 전처리
	Settings        brain.Settings            // RiskFreeRate는 기간 수익률
}

// Result holds backtest results
type Result struct {
	Config    Config
	StartDate time.Time
	EndDate   time.Time
	Duration  time.Duration
	Periods   int

	// Performance metrics
	Metrics                Metrics
	Benchmark              Metrics
	ExcessReturn           float64
	ExcessAnnualizedReturn float64

	// Trading metrics
	Rebalances  []RebalanceRecord
	Fallbacks   int
	TotalTrades int
	TotalCost   float64

	EquityCurve  []EquityPoint
	FinalWeights contracts.WeightVector
}

// RebalanceRecord is what happened on one rebalance date
type RebalanceRecord struct {
	Date           time.Time              `json:"date"`
	Weights        contracts.WeightVector `json:"weights"`
	Fallback       string                 `json:"fallback,omitempty"` // 동일가중 사유 (error kind)
	Excluded       []string               `json:"excluded,omitempty"`
	Trades         []Trade                `json:"trades"`
	Cost           float64                `json:"cost"`
	PortfolioValue float64                `json:"portfolio_value"`
}

// EquityPoint represents a point in the equity curve
type EquityPoint struct {
	Date      time.Time `json:"date"`
	Equity    float64   `json:"equity"`
	Benchmark float64   `json:"benchmark"`
	Return    float64   `json:"return"` // 누적
}

// NewEngine creates a new backtest engine. loader is only needed by RunStrategy.
func NewEngine(orchestrator *brain.Orchestrator, loader *marketdata.Loader, log *logger.Logger) *Engine {
	return &Engine{
		orchestrator: orchestrator,
		loader:       loader,
		logger:       logger.OrNop(log).WithComponent("backtest"),
	}
}

// ConfigFromStrategy maps a strategy file onto a backtest config
func ConfigFromStrategy(cfg *strategyconfig.Config, from, to time.Time) (Config, error) {
	settings, err := brain.SettingsFromStrategy(cfg)
	if err != nil {
		return Config{}, err
	}
	rebalance, err := ParseRebalance(cfg.Backtest.Rebalance)
	if err != nil {
		return Config{}, err
	}
	freq, err := marketdata.ParseFrequency(cfg.Estimation.Frequency)
	if err != nil {
		return Config{}, err
	}
	return Config{
		StartDate:       from,
		EndDate:         to,
		InitialCapital:  cfg.Backtest.InitialCapital,
		Rebalance:       rebalance,
		Lookback:        cfg.Estimation.Lookback,
		MinObservations: cfg.Estimation.MinObservations,
		TransactionCost: cfg.Backtest.TransactionCostBps / 10000,
		PeriodsPerYear:  freq.PeriodsPerYear(),
		Frequency:       freq,
		ReturnMethod:    marketdata.ReturnMethod(cfg.Estimation.ReturnMethod),
		Winsorize:       cfg.Estimation.Winsorize,
		Settings:        settings,
	}, nil
}

// RunStrategy loads history (including the warm-up window) and runs the backtest
func (e *Engine) RunStrategy(ctx context.Context, cfg *strategyconfig.Config, from, to time.Time) (*Result, error) {
	if e.loader == nil {
		return nil, errors.New("backtest engine has no market data loader")
	}
	config, err := ConfigFromStrategy(cfg, from, to)
	if err != nil {
		return nil, err
	}

	req := brain.PanelRequestFor(cfg, to)
	req.From = from.AddDate(0, 0, -cfg.Estimation.HistoryDays)

	index, assets, err := e.loader.LoadPrices(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	table, err := NewPriceTable(index, assets, req.Codes, config.Frequency, config.ReturnMethod)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, table, config)
}

// Run executes the backtest over table
func (e *Engine) Run(ctx context.Context, table *PriceTable, config Config) (*Result, error) {
	if table == nil || table.Len() < 2 {
		return nil, fmt.Errorf("%w: backtest needs at least 2 price rows", contracts.ErrInsufficientData)
	}
	if !(config.InitialCapital > 0) {
		return nil, fmt.Errorf("initial capital must be > 0, got %v", config.InitialCapital)
	}
	if config.PeriodsPerYear <= 0 {
		config.PeriodsPerYear = config.Frequency.PeriodsPerYear()
	}
	if config.Settings.Source == "" {
		config.Settings.Source = "backtest"
	}
	config.Settings.DropFailedAssets = true

	start := table.FirstRowOnOrAfter(config.StartDate)
	if start < 1 {
		// 첫 행은 수익률이 없으므로 추정 불가
		start = 1
	}
	if start >= table.Len() {
		return nil, fmt.Errorf("%w: no price rows on or after %s", contracts.ErrInsufficientData, config.StartDate.Format("2006-01-02"))
	}

	e.logger.WithFields(map[string]interface{}{
		"start_date":      table.Dates[start].Format("2006-01-02"),
		"end_date":        table.Dates[table.Len()-1].Format("2006-01-02"),
		"initial_capital": config.InitialCapital,
		"rebalance":       config.Rebalance.String(),
		"lookback":        config.Lookback,
	}).Info("Starting backtest")

	startTime := time.Now()
	result := &Result{
		Config:      config,
		StartDate:   table.Dates[start],
		EndDate:     table.Dates[table.Len()-1],
		EquityCurve: make([]EquityPoint, 0, table.Len()-start),
	}

	sim := NewSimulator(config.TransactionCost, e.logger)
	sim.Initialize(config.InitialCapital)

	rebalanceAt := make(map[int]bool)
	for _, i := range config.Rebalance.Indices(table.Dates, start) {
		rebalanceAt[i] = true
	}

	equity := make([]float64, 0, table.Len()-start)
	bench := make([]float64, 0, table.Len()-start)
	benchBase := table.Index[start]

	for i := start; i < table.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prices := table.PricesAt(i)

		if rebalanceAt[i] {
			record := e.targetWeights(ctx, table, i, config)

			value, err := sim.Value(prices)
			if err != nil {
				return nil, err
			}
			trades, cost, err := sim.Rebalance(table.Dates[i], record.Weights, prices)
			if err != nil {
				return nil, fmt.Errorf("rebalance %s: %w", table.Dates[i].Format("2006-01-02"), err)
			}
			record.Trades = trades
			record.Cost = cost
			record.PortfolioValue = value

			if record.Fallback != "" {
				result.Fallbacks++
			}
			result.Rebalances = append(result.Rebalances, record)
			result.FinalWeights = record.Weights
		}

		value, err := sim.Value(prices)
		if err != nil {
			return nil, err
		}
		benchValue := config.InitialCapital * table.Index[i] / benchBase

		equity = append(equity, value)
		bench = append(bench, benchValue)
		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Date:      table.Dates[i],
			Equity:    value,
			Benchmark: benchValue,
			Return:    value/config.InitialCapital - 1,
		})
	}

	// 두 시리즈 모두 거래 전 초기 자본에서 시작
	rf := config.Settings.RiskFreeRate
	result.Metrics = ComputeMetrics(append([]float64{config.InitialCapital}, equity...), config.PeriodsPerYear, rf)
	result.Benchmark = ComputeMetrics(append([]float64{config.InitialCapital}, bench...), config.PeriodsPerYear, rf)
	result.ExcessReturn = result.Metrics.TotalReturn - result.Benchmark.TotalReturn
	result.ExcessAnnualizedReturn = result.Metrics.AnnualizedReturn - result.Benchmark.AnnualizedReturn

	stats := sim.GetStats()
	result.TotalTrades = stats.TotalTrades
	result.TotalCost = stats.TotalCost
	result.Periods = len(equity)
	result.Duration = time.Since(startTime)

	e.logger.WithFields(map[string]interface{}{
		"duration":     result.Duration.Seconds(),
		"periods":      result.Periods,
		"rebalances":   len(result.Rebalances),
		"fallbacks":    result.Fallbacks,
		"total_return": fmt.Sprintf("%.2f%%", result.Metrics.TotalReturn*100),
		"sharpe_ratio": fmt.Sprintf("%.2f", result.Metrics.SharpeRatio),
		"max_drawdown": fmt.Sprintf("%.2f%%", result.Metrics.MaxDrawdown*100),
		"excess":       fmt.Sprintf("%.2f%%", result.ExcessReturn*100),
	}).Info("Backtest completed")

	return result, nil
}

// targetWeights optimizes on the trailing window ending at price row i.
// Any failure falls back to equal weights and is recorded on the rebalance.
func (e *Engine) targetWeights(ctx context.Context, table *PriceTable, i int, config Config) RebalanceRecord {
	date := table.Dates[i]
	record := RebalanceRecord{Date: date}

	equal := func(reason string) RebalanceRecord {
		w, err := portfolio.EqualWeight(table.Codes)
		if err != nil {
			// codes are validated by the table, so this only fires on an empty universe
			e.logger.WithError(err).Error("Equal weight fallback failed")
		}
		record.Weights = w
		record.Fallback = reason
		return record
	}

	// 수익률 행 i-1 까지 = 가격 행 i 까지
	window, err := table.Returns.Window(i, config.Lookback)
	if err != nil {
		return equal(contracts.ErrorKind(err))
	}
	if window.Len() < config.MinObservations {
		e.logger.WithFields(map[string]interface{}{
			"date":         date.Format("2006-01-02"),
			"observations": window.Len(),
			"required":     config.MinObservations,
		}).Warn("Insufficient history, using equal weights")
		return equal(FallbackInsufficientHistory)
	}
	if w := config.Winsorize; w != nil {
		if window, err = marketdata.Winsorize(window, w.Lower, w.Upper); err != nil {
			e.logger.WithError(err).Error("Winsorize failed, using equal weights")
			return equal(contracts.ErrorKind(err))
		}
	}

	c, err := e.orchestrator.Construct(ctx, date, window, config.Settings)
	if err != nil {
		e.logger.WithError(err).WithField("date", date.Format("2006-01-02")).
			Warn("Optimization failed, using equal weights")
		if c != nil {
			record.Excluded = c.Excluded
		}
		return equal(contracts.ErrorKind(err))
	}

	weights, err := expandWeights(c.Result.Weights, table.Codes)
	if err != nil {
		return equal(contracts.ErrorKind(err))
	}
	record.Weights = weights
	record.Excluded = c.Excluded
	return record
}

// expandWeights maps weights over a sub-universe onto codes, zero-filling excluded assets
func expandWeights(w contracts.WeightVector, codes []string) (contracts.WeightVector, error) {
	m := w.Map()
	values := make([]float64, len(codes))
	for i, code := range codes {
		values[i] = m[code]
	}
	return contracts.NewWeightVector(codes, values)
}
