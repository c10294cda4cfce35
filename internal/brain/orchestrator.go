package brain

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/internal/expected"
	"github.com/wonny/egp/internal/factor"
	"github.com/wonny/egp/internal/marketdata"
	"github.com/wonny/egp/internal/optimizer"
	"github.com/wonny/egp/internal/portfolio"
	"github.com/wonny/egp/internal/strategyconfig"
	"github.com/wonny/egp/pkg/logger"
	"github.com/wonny/egp/pkg/metrics"
	"github.com/wonny/egp/pkg/redis"
)

// Pipeline stage labels recorded in CompletedStages
const (
	StagePrices     = "S1:Prices"
	StageQuality    = "S2:Quality"
	StageFactors    = "S3:Factors"
	StageExpected   = "S4:Expected"
	StageOptimize   = "S5:Optimize"
	StageStatistics = "S6:Statistics"
	StagePortfolio  = "S7:Portfolio"
)

// Orchestrator coordinates the allocation pipeline
// ⭐ SSOT: 파이프라인 조율은 여기서만
type Orchestrator struct {
	// Stage components
	loader      *marketdata.Loader
	estimator   *factor.Estimator
	optimizer   *optimizer.Optimizer
	constructor *portfolio.Constructor

	cache   *redis.Cache
	metrics *metrics.Recorder
	logger  *logger.Logger
}

// Settings are the per-run model choices
type Settings struct {
	StrategyID       string
	Expected         contracts.ExpectedReturnProvider
	Constraints      contracts.ConstraintSpec
	RiskFreeRate     float64 // 패널 주기 기준 (연율 아님)
	MinObservations  int
	DropFailedAssets bool   // 추정 실패 종목 제외 후 재시도
	Source           string // metrics label: api | cli | scheduler | backtest
}

// SettingsFromStrategy derives run settings from a strategy file
func SettingsFromStrategy(cfg *strategyconfig.Config) (Settings, error) {
	provider, err := expected.ByName(cfg.Estimation.ExpectedMethod)
	if err != nil {
		return Settings{}, err
	}
	freq, err := marketdata.ParseFrequency(cfg.Estimation.Frequency)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		StrategyID:      cfg.Meta.StrategyID,
		Expected:        provider,
		Constraints:     cfg.Optimization.Constraints(),
		RiskFreeRate:    freq.PeriodRate(cfg.Optimization.RiskFreeRate),
		MinObservations: cfg.Estimation.MinObservations,
	}, nil
}

// PanelRequestFor builds the price request covering history_days up to asOf
func PanelRequestFor(cfg *strategyconfig.Config, asOf time.Time) marketdata.PanelRequest {
	return marketdata.PanelRequest{
		Codes:     cfg.Universe.Eligible(),
		Index:     cfg.Universe.MarketIndex,
		From:      asOf.AddDate(0, 0, -cfg.Estimation.HistoryDays),
		To:        asOf,
		Method:    marketdata.ReturnMethod(cfg.Estimation.ReturnMethod),
		Frequency: marketdata.Frequency(cfg.Estimation.Frequency),
	}
}

// RunConfig holds configuration for a pipeline run
type RunConfig struct {
	Date       time.Time
	RunID      string
	Strategy   *strategyconfig.Config
	ConfigHash string // strategyconfig.Hash, factor 캐시 키에 사용
	Source     string
}

// RunResult holds the results of a complete pipeline run
type RunResult struct {
	RunID           string
	Date            time.Time
	StrategyID      string
	ConfigHash      string
	Success         bool
	Error           error
	CompletedStages []string
	Quality         *marketdata.QualityReport
	Construction    *Construction
	Duration        time.Duration
}

// Construction is everything computed for one panel
type Construction struct {
	Params          *contracts.FactorParameters `json:"factors"`
	Input           contracts.ModelInput        `json:"input"`
	Result          *optimizer.Result           `json:"result"`
	Statistics      *portfolio.Statistics       `json:"statistics"`
	Target          *contracts.TargetPortfolio  `json:"target"`
	Excluded        []string                    `json:"excluded,omitempty"`
	CompletedStages []string                    `json:"-"`
}

// estimateFunc lets Run put a cache in front of the estimator
type estimateFunc func(ctx context.Context, panel *contracts.ReturnPanel) (*contracts.FactorParameters, error)

// NewOrchestrator creates a new orchestrator. loader and cache may be nil when only
// Construct is used; rec may be nil.
func NewOrchestrator(
	loader *marketdata.Loader,
	estimator *factor.Estimator,
	opt *optimizer.Optimizer,
	constructor *portfolio.Constructor,
	cache *redis.Cache,
	rec *metrics.Recorder,
	log *logger.Logger,
) *Orchestrator {
	log = logger.OrNop(log)
	if estimator == nil {
		estimator = factor.NewEstimator(0, log)
	}
	if opt == nil {
		opt = optimizer.NewOptimizer(optimizer.Config{}, log)
	}
	if constructor == nil {
		constructor = portfolio.NewConstructor(portfolio.DefaultPortfolioConfig(), log)
	}
	return &Orchestrator{
		loader:      loader,
		estimator:   estimator,
		optimizer:   opt,
		constructor: constructor,
		cache:       cache,
		metrics:     rec,
		logger:      log.WithComponent("brain"),
	}
}

// Run loads prices for the strategy universe and constructs the target portfolio
// S1 → S2 → S3 → S4 → S5 → S6 → S7
func (o *Orchestrator) Run(ctx context.Context, config RunConfig) (*RunResult, error) {
	startTime := time.Now()

	result := &RunResult{
		RunID:           config.RunID,
		Date:            config.Date,
		ConfigHash:      config.ConfigHash,
		Success:         false,
		CompletedStages: make([]string, 0),
	}
	// 실패한 실행도 소요 시간 기록
	defer func() {
		result.Duration = time.Since(startTime)
		o.metrics.RecordLatency("run", result.Duration)
	}()

	if config.Strategy == nil {
		result.Error = errors.New("strategy config is required")
		return result, result.Error
	}
	if o.loader == nil {
		result.Error = errors.New("orchestrator has no market data loader")
		return result, result.Error
	}
	result.StrategyID = config.Strategy.Meta.StrategyID

	settings, err := SettingsFromStrategy(config.Strategy)
	if err != nil {
		result.Error = fmt.Errorf("settings: %w", err)
		return result, result.Error
	}
	settings.Source = config.Source

	o.logger.WithFields(map[string]interface{}{
		"run_id":      config.RunID,
		"date":        config.Date.Format("2006-01-02"),
		"strategy_id": result.StrategyID,
		"config_hash": shortHash(config.ConfigHash),
		"source":      config.Source,
	}).Info("Starting pipeline run")

	// S1: Prices → returns
	req := PanelRequestFor(config.Strategy, config.Date)
	panel, err := o.loader.LoadPanel(ctx, req)
	if err != nil {
		result.Error = o.fail(settings, "S1 failed", err)
		return result, result.Error
	}
	result.CompletedStages = append(result.CompletedStages, StagePrices)

	// S2: Quality / preprocessing
	panel, quality, err := o.preprocess(panel, config.Strategy)
	result.Quality = quality
	if err != nil {
		result.Error = o.fail(settings, "S2 failed", err)
		return result, result.Error
	}
	result.CompletedStages = append(result.CompletedStages, StageQuality)

	// S3-S7
	estimate := o.cachedEstimate(config.Date)
	construction, err := o.construct(ctx, config.Date, panel, settings, estimate)
	if construction != nil {
		result.CompletedStages = append(result.CompletedStages, construction.CompletedStages...)
	}
	if err != nil {
		result.Error = err
		return result, result.Error
	}
	result.Construction = construction

	// Mark success
	result.Success = true

	o.logger.WithFields(map[string]interface{}{
		"run_id":   config.RunID,
		"duration": time.Since(startTime).Seconds(),
		"stages":   len(result.CompletedStages),
	}).Info("Pipeline run completed successfully")

	return result, nil
}

// Construct runs S3-S7 on an already aligned panel
func (o *Orchestrator) Construct(ctx context.Context, date time.Time, panel *contracts.ReturnPanel, settings Settings) (*Construction, error) {
	return o.construct(ctx, date, panel, settings, o.estimator.Estimate)
}

func (o *Orchestrator) construct(
	ctx context.Context,
	date time.Time,
	panel *contracts.ReturnPanel,
	settings Settings,
	estimate estimateFunc,
) (*Construction, error) {
	start := time.Now()
	c := &Construction{CompletedStages: make([]string, 0, 5)}

	if settings.Expected == nil {
		settings.Expected = expected.HistoricalMean{}
	}

	// S3: Factor estimation (실패 종목 제외 재시도)
	params, panel, excluded, err := o.estimateWithDrops(ctx, panel, settings, estimate)
	c.Excluded = excluded
	if err != nil {
		return c, o.fail(settings, "S3 failed", err)
	}
	c.Params = params
	c.CompletedStages = append(c.CompletedStages, StageFactors)

	// S4: Expected returns
	exp, err := settings.Expected.ExpectedReturns(panel, params)
	if err != nil {
		return c, o.fail(settings, "S4 failed", err)
	}
	in, err := contracts.NewModelInput(params, exp, settings.RiskFreeRate)
	if err != nil {
		return c, o.fail(settings, "S4 failed", err)
	}
	c.Input = in
	c.CompletedStages = append(c.CompletedStages, StageExpected)

	// S5: Optimize
	res, err := o.optimizer.Optimize(in, settings.Constraints)
	if err != nil {
		return c, o.fail(settings, "S5 failed", err)
	}
	c.Result = res
	o.metrics.RecordIterations(res.Iterations)
	c.CompletedStages = append(c.CompletedStages, StageOptimize)

	// S6: Statistics
	stats, err := portfolio.ComputeStatistics(res.Weights, in)
	if err != nil {
		return c, o.fail(settings, "S6 failed", err)
	}
	c.Statistics = stats
	c.CompletedStages = append(c.CompletedStages, StageStatistics)

	// S7: Target portfolio
	target, err := o.constructor.Construct(ctx, date, res.Weights, res.Ranking, params)
	if err != nil {
		return c, o.fail(settings, "S7 failed", err)
	}
	c.Target = target
	c.CompletedStages = append(c.CompletedStages, StagePortfolio)

	o.metrics.RecordOptimization(settings.Source, nil, "")
	o.metrics.RecordLatency("construct", time.Since(start))
	if settings.StrategyID != "" {
		o.metrics.RecordSharpe(settings.StrategyID, stats.SharpeRatio)
	}

	o.logger.WithFields(map[string]interface{}{
		"n_assets":    in.Len(),
		"n_nonzero":   stats.NonZeroPositions,
		"excluded":    len(excluded),
		"beta":        stats.Beta,
		"sharpe":      stats.SharpeRatio,
		"iterations":  res.Iterations,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Construction completed")

	return c, nil
}

// estimateWithDrops estimates factors, removing assets whose regression fails when allowed
func (o *Orchestrator) estimateWithDrops(
	ctx context.Context,
	panel *contracts.ReturnPanel,
	settings Settings,
	estimate estimateFunc,
) (*contracts.FactorParameters, *contracts.ReturnPanel, []string, error) {
	var excluded []string
	for {
		params, err := estimate(ctx, panel)
		if err == nil {
			return params, panel, excluded, nil
		}

		var assetErr *factor.AssetError
		if !settings.DropFailedAssets || !errors.As(err, &assetErr) || len(panel.Assets) <= 1 {
			return nil, panel, excluded, err
		}

		o.logger.WithError(assetErr.Err).WithFields(map[string]interface{}{
			"code":      assetErr.Code,
			"remaining": len(panel.Assets) - 1,
		}).Warn("Excluding asset after estimation failure")

		excluded = append(excluded, assetErr.Code)
		next, werr := panel.Without(assetErr.Code)
		if werr != nil {
			return nil, panel, excluded, werr
		}
		panel = next
	}
}

// preprocess applies winsorizing and the lookback window, then checks quality
func (o *Orchestrator) preprocess(panel *contracts.ReturnPanel, cfg *strategyconfig.Config) (*contracts.ReturnPanel, *marketdata.QualityReport, error) {
	var err error
	if lb := cfg.Estimation.Lookback; lb > 0 && panel.Len() > 0 {
		if panel, err = panel.Window(panel.Len(), lb); err != nil {
			return nil, nil, err
		}
	}
	if w := cfg.Estimation.Winsorize; w != nil {
		if panel, err = marketdata.Winsorize(panel, w.Lower, w.Upper); err != nil {
			return nil, nil, err
		}
	}

	report := marketdata.CheckQuality(panel, cfg.Estimation.MinObservations)
	for _, warning := range report.Warnings {
		o.logger.WithField("warning", warning).Warn("Return panel quality")
	}
	if report.Observations < cfg.Estimation.MinObservations {
		return panel, &report, fmt.Errorf("%w: %d observations, strategy requires %d",
			contracts.ErrInsufficientData, report.Observations, cfg.Estimation.MinObservations)
	}
	return panel, &report, nil
}

// cachedEstimate memoizes factor parameters per (panel contents, date).
// A panel that gains or corrects a row gets a new key, so late closes are never served stale.
func (o *Orchestrator) cachedEstimate(asOf time.Time) estimateFunc {
	if o.cache == nil {
		return o.estimator.Estimate
	}
	return func(ctx context.Context, panel *contracts.ReturnPanel) (*contracts.FactorParameters, error) {
		params := new(contracts.FactorParameters)
		err := o.cache.GetOrSet(ctx, factorCacheKey(panel, asOf), params, redis.TTLLong, func() (interface{}, error) {
			return o.estimator.Estimate(ctx, panel)
		})
		if err != nil {
			return nil, err
		}
		return params, nil
	}
}

func factorCacheKey(panel *contracts.ReturnPanel, asOf time.Time) string {
	return redis.FactorKey(panelDigest(panel), asOf)
}

// fail logs, counts and wraps a stage error
func (o *Orchestrator) fail(settings Settings, stage string, err error) error {
	kind := contracts.ErrorKind(err)
	o.metrics.RecordOptimization(settings.Source, err, kind)
	o.logger.WithError(err).WithField("kind", kind).Warn(stage)
	return fmt.Errorf("%s: %w", stage, err)
}

// panelDigest hashes dates, market returns and every asset series in panel order
func panelDigest(panel *contracts.ReturnPanel) string {
	h := sha256.New()
	buf := make([]byte, 8)
	putFloat := func(x float64) {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(x))
		h.Write(buf)
	}

	for _, d := range panel.Dates {
		binary.LittleEndian.PutUint64(buf, uint64(d.Unix()))
		h.Write(buf)
	}
	for _, x := range panel.Market {
		putFloat(x)
	}
	for _, a := range panel.Assets {
		h.Write([]byte(a.Code))
		h.Write([]byte{0})
		for _, x := range a.Returns {
			putFloat(x)
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:12])
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// GenerateRunID generates a unique run ID
func GenerateRunID() string {
	return fmt.Sprintf("run_%s", time.Now().Format("20060102_150405"))
}
