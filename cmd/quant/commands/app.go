package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/egp/internal/audit"
	"github.com/wonny/egp/internal/brain"
	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/internal/factor"
	"github.com/wonny/egp/internal/marketdata"
	"github.com/wonny/egp/internal/optimizer"
	"github.com/wonny/egp/internal/portfolio"
	"github.com/wonny/egp/internal/strategyconfig"
	"github.com/wonny/egp/pkg/config"
	"github.com/wonny/egp/pkg/database"
	"github.com/wonny/egp/pkg/logger"
	"github.com/wonny/egp/pkg/metrics"
	"github.com/wonny/egp/pkg/redis"
)

// app bundles the wired components shared by the commands
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Recorder

	db    *database.DB      // nil when DB_ENABLED=false
	redis *redis.Client     // no-op client when REDIS_ENABLED=false
	runs  *audit.Repository // nil without a database

	loader       *marketdata.Loader
	estimator    *factor.Estimator
	optimizer    *optimizer.Optimizer
	orchestrator *brain.Orchestrator
}

// newApp loads config and wires the pipeline.
// requireDB fails when the database is disabled or unreachable; otherwise it is optional.
func newApp(ctx context.Context, requireDB bool) (*app, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// 2. Initialize logger & metrics
	log := logger.New(cfg)
	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(nil),
	}

	// 3. Connect to database
	db, err := database.New(ctx, cfg)
	switch {
	case err == nil:
		a.db = db
		a.runs = audit.NewRepository(db.Pool)
		log.Info("Connected to database")
	case errors.Is(err, database.ErrDisabled) && !requireDB:
		log.Info("Database disabled, running without persistence")
	default:
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// 4. Redis cache (optional)
	rc, err := redis.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, caching disabled")
		rc = redis.Disabled()
	}
	a.redis = rc
	cache := redis.NewCache(rc, "egp")

	// 5. Price source → loader
	if a.db != nil {
		var repo contracts.PriceRepository = marketdata.NewPriceRepository(a.db.Pool)
		if rc.Enabled() {
			repo = marketdata.NewCachedRepository(repo, cache, cfg.Redis.PriceTTL)
		}
		a.loader = marketdata.NewLoader(repo, log)
	}

	// 6. Pipeline components
	a.estimator = factor.NewEstimator(cfg.Optimizer.Workers, log)
	a.optimizer = optimizer.NewOptimizer(optimizer.Config{MaxIterations: cfg.Optimizer.MaxIterations}, log)
	constructor := portfolio.NewConstructor(portfolio.DefaultPortfolioConfig(), log)
	a.orchestrator = brain.NewOrchestrator(a.loader, a.estimator, a.optimizer, constructor, cache, a.metrics, log)

	return a, nil
}

// strategy loads the --strategy file (or STRATEGY_PATH)
func (a *app) strategy() (*strategyconfig.Config, []byte, error) {
	path := strategyPath
	if path == "" {
		path = a.cfg.Optimizer.StrategyPath
	}
	cfg, data, err := strategyconfig.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load strategy %s: %w", path, err)
	}
	for _, w := range strategyconfig.Warn(cfg) {
		a.log.WithField("code", w.Code).Warn(w.Message)
	}
	return cfg, data, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
