package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/wonny/egp/internal/brain"
	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/internal/expected"
	"github.com/wonny/egp/internal/factor"
	"github.com/wonny/egp/internal/optimizer"
	"github.com/wonny/egp/internal/portfolio"
	"github.com/wonny/egp/pkg/logger"
)

// AllocationHandler serves the pure computation endpoints (no database)
// ⭐ SSOT: 배분 계산 API 핸들러는 이 구조체에서만
type AllocationHandler struct {
	estimator    *factor.Estimator
	optimizer    *optimizer.Optimizer
	orchestrator *brain.Orchestrator
	logger       *logger.Logger
}

// NewAllocationHandler creates a new allocation handler
func NewAllocationHandler(
	estimator *factor.Estimator,
	opt *optimizer.Optimizer,
	orchestrator *brain.Orchestrator,
	log *logger.Logger,
) *AllocationHandler {
	log = logger.OrNop(log)
	if estimator == nil {
		estimator = factor.NewEstimator(0, log)
	}
	if opt == nil {
		opt = optimizer.NewOptimizer(optimizer.Config{}, log)
	}
	if orchestrator == nil {
		orchestrator = brain.NewOrchestrator(nil, estimator, opt, nil, nil, nil, log)
	}
	return &AllocationHandler{
		estimator:    estimator,
		optimizer:    opt,
		orchestrator: orchestrator,
		logger:       log.WithComponent("api"),
	}
}

// ConstraintsRequest is the admissible weight region
type ConstraintsRequest struct {
	AllowShort bool     `json:"allow_short"`
	MaxWeight  *float64 `json:"max_weight,omitempty" validate:"omitempty,gt=0,lte=1"`
	MinWeight  *float64 `json:"min_weight,omitempty" validate:"omitempty,gte=0,lt=1"`
}

func (c ConstraintsRequest) spec() contracts.ConstraintSpec {
	return contracts.ConstraintSpec{AllowShort: c.AllowShort, MaxWeight: c.MaxWeight, MinWeight: c.MinWeight}
}

// PanelRequest is a return panel: one market series and one series per code, same length
type PanelRequest struct {
	Codes  []string             `json:"codes" validate:"required,min=1,unique,dive,required"`
	Market []float64            `json:"market" validate:"required,min=3"`
	Assets map[string][]float64 `json:"assets" validate:"required,min=1"`
}

func (p PanelRequest) panel() (*contracts.ReturnPanel, error) {
	series := make([]contracts.ReturnSeries, len(p.Codes))
	for i, code := range p.Codes {
		returns, ok := p.Assets[code]
		if !ok {
			return nil, fmt.Errorf("%w: no returns for %s", contracts.ErrAlignment, code)
		}
		series[i] = contracts.ReturnSeries{Code: code, Returns: returns}
	}
	if len(p.Assets) != len(p.Codes) {
		return nil, fmt.Errorf("%w: %d asset series for %d codes", contracts.ErrAlignment, len(p.Assets), len(p.Codes))
	}
	return contracts.NewReturnPanel(nil, p.Market, series)
}

// Factors estimates single-index parameters for every asset
// POST /api/factors
func (h *AllocationHandler) Factors(w http.ResponseWriter, r *http.Request) {
	var req PanelRequest
	if err := decodeRequest(r, &req); err != nil {
		respondFailure(w, err)
		return
	}

	panel, err := req.panel()
	if err != nil {
		respondFailure(w, err)
		return
	}

	params, err := h.estimator.Estimate(r.Context(), panel)
	if err != nil {
		h.logger.WithError(err).Debug("factor estimation rejected")
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusOK, params)
}

// OptimizeRequest carries already-estimated model inputs
type OptimizeRequest struct {
	Codes            []string           `json:"codes" validate:"required,min=1,unique,dive,required"`
	ExpectedReturns  []float64          `json:"expected_returns" validate:"required"`
	Betas            []float64          `json:"betas" validate:"required"`
	ResidualVars     []float64          `json:"residual_vars" validate:"required"`
	MarketVar        float64            `json:"market_var"`
	RiskFreeRate     float64            `json:"risk_free_rate"`
	ConstraintsInput ConstraintsRequest `json:"constraints"`
}

// OptimizeResponse is the optimizer result plus portfolio statistics
type OptimizeResponse struct {
	*optimizer.Result
	Statistics *portfolio.Statistics `json:"statistics"`
}

// Optimize ranks assets by EGP score and projects onto the constraints
// POST /api/optimize
func (h *AllocationHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := decodeRequest(r, &req); err != nil {
		respondFailure(w, err)
		return
	}

	in, err := req.input()
	if err != nil {
		respondFailure(w, err)
		return
	}

	res, err := h.optimizer.Optimize(in, req.ConstraintsInput.spec())
	if err != nil {
		respondFailure(w, err)
		return
	}
	stats, err := portfolio.ComputeStatistics(res.Weights, in)
	if err != nil {
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusOK, OptimizeResponse{Result: res, Statistics: stats})
}

func (req OptimizeRequest) input() (optimizer.Input, error) {
	exp, err := contracts.NewAssetVector(req.Codes, req.ExpectedReturns)
	if err != nil {
		return optimizer.Input{}, err
	}
	betas, err := contracts.NewAssetVector(req.Codes, req.Betas)
	if err != nil {
		return optimizer.Input{}, err
	}
	resid, err := contracts.NewAssetVector(req.Codes, req.ResidualVars)
	if err != nil {
		return optimizer.Input{}, err
	}
	in := optimizer.Input{
		ExpectedReturns:   exp,
		Betas:             betas,
		ResidualVariances: resid,
		MarketVariance:    req.MarketVar,
		RiskFreeRate:      req.RiskFreeRate,
	}
	return in, in.Validate()
}

// ConstructRequest runs the whole pipeline on a caller-supplied panel
type ConstructRequest struct {
	PanelRequest
	StrategyID       string             `json:"strategy_id"`
	Date             string             `json:"date" validate:"omitempty,datetime=2006-01-02"`
	RiskFreeRate     float64            `json:"risk_free_rate"` // 기간 수익률
	ExpectedMethod   string             `json:"expected_method" default:"historical" validate:"oneof=historical factor"`
	ExpectedReturns  map[string]float64 `json:"expected_returns,omitempty"` // 지정 시 expected_method 무시
	ConstraintsInput ConstraintsRequest `json:"constraints"`
	DropFailedAssets bool               `json:"drop_failed_assets"`
}

// Construct runs estimation, ranking, projection and statistics in one call
// POST /api/construct
func (h *AllocationHandler) Construct(w http.ResponseWriter, r *http.Request) {
	var req ConstructRequest
	if err := decodeRequest(r, &req); err != nil {
		respondFailure(w, err)
		return
	}

	panel, err := req.panel()
	if err != nil {
		respondFailure(w, err)
		return
	}

	settings, date, err := req.settings()
	if err != nil {
		respondFailure(w, err)
		return
	}

	c, err := h.orchestrator.Construct(r.Context(), date, panel, settings)
	if err != nil {
		h.logger.WithError(err).Debug("construction rejected")
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusOK, c)
}

func (req ConstructRequest) settings() (brain.Settings, time.Time, error) {
	date := time.Now().UTC().Truncate(24 * time.Hour)
	if req.Date != "" {
		d, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return brain.Settings{}, date, &RequestError{Message: "invalid date: " + err.Error()}
		}
		date = d
	}

	provider, err := expected.ByName(req.ExpectedMethod)
	if err != nil {
		return brain.Settings{}, date, &RequestError{Message: err.Error()}
	}
	if len(req.ExpectedReturns) > 0 {
		// 유니버스 순서로 재정렬 (코드 불일치 → alignment)
		forecasts, err := contracts.AssetVectorFromMap(req.Codes, req.ExpectedReturns)
		if err != nil {
			return brain.Settings{}, date, err
		}
		provider = expected.Static{Forecasts: forecasts}
	}

	return brain.Settings{
		StrategyID:       req.StrategyID,
		Expected:         provider,
		Constraints:      req.ConstraintsInput.spec(),
		RiskFreeRate:     req.RiskFreeRate,
		DropFailedAssets: req.DropFailedAssets,
		Source:           "api",
	}, date, nil
}
