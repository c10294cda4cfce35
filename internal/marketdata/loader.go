package marketdata

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/pkg/logger"
)

// defaultFetchConcurrency bounds parallel price queries
const defaultFetchConcurrency = 8

// PanelRequest describes one return panel to build
type PanelRequest struct {
	Codes     []string
	Index     string
	From      time.Time
	To        time.Time
	Method    ReturnMethod
	Frequency Frequency
}

// Validate checks the request shape
func (r PanelRequest) Validate() error {
	if len(r.Codes) == 0 {
		return fmt.Errorf("%w: no asset codes requested", contracts.ErrInsufficientData)
	}
	if r.Index == "" {
		return fmt.Errorf("market index code is required")
	}
	if !r.From.Before(r.To) {
		return fmt.Errorf("from %s must be before to %s", r.From.Format("2006-01-02"), r.To.Format("2006-01-02"))
	}
	return nil
}

// Loader fetches prices and aligns them into a return panel
// ⭐ SSOT: 가격 → 수익률 패널 변환은 여기서만
type Loader struct {
	repo        contracts.PriceRepository
	concurrency int
	logger      *logger.Logger
}

// NewLoader creates a loader over repo
func NewLoader(repo contracts.PriceRepository, log *logger.Logger) *Loader {
	return &Loader{
		repo:        repo,
		concurrency: defaultFetchConcurrency,
		logger:      logger.OrNop(log).WithComponent("marketdata"),
	}
}

// LoadPrices fetches the index and every asset series concurrently
func (l *Loader) LoadPrices(ctx context.Context, req PanelRequest) ([]contracts.PricePoint, map[string][]contracts.PricePoint, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	var market []contracts.PricePoint
	assets := make([][]contracts.PricePoint, len(req.Codes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)

	g.Go(func() error {
		points, err := l.repo.IndexPrices(gctx, req.Index, req.From, req.To)
		if err != nil {
			return err
		}
		market = points
		return nil
	})
	for i, code := range req.Codes {
		g.Go(func() error {
			points, err := l.repo.AssetPrices(gctx, code, req.From, req.To)
			if err != nil {
				return err
			}
			assets[i] = points
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	byCode := make(map[string][]contracts.PricePoint, len(req.Codes))
	for i, code := range req.Codes {
		byCode[code] = assets[i]
	}
	return market, byCode, nil
}

// LoadPanel fetches prices, resamples, converts to returns and inner-joins on dates.
func (l *Loader) LoadPanel(ctx context.Context, req PanelRequest) (*contracts.ReturnPanel, error) {
	market, assets, err := l.LoadPrices(ctx, req)
	if err != nil {
		return nil, err
	}
	return BuildPanel(req, market, assets, l.logger)
}

// BuildPanel turns raw closes into an aligned return panel
func BuildPanel(req PanelRequest, market []contracts.PricePoint, assets map[string][]contracts.PricePoint, log *logger.Logger) (*contracts.ReturnPanel, error) {
	log = logger.OrNop(log)
	method := req.Method
	if method == "" {
		method = SimpleReturns
	}

	marketReturns, err := Returns(Resample(market, req.Frequency), method)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", req.Index, err)
	}

	assetReturns := make(map[string][]ReturnPoint, len(req.Codes))
	for _, code := range req.Codes {
		r, err := Returns(Resample(assets[code], req.Frequency), method)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", code, err)
		}
		assetReturns[code] = r
	}

	panel, err := Align(marketReturns, req.Codes, assetReturns)
	if err != nil {
		return nil, err
	}

	if dropped := len(marketReturns) - panel.Len(); dropped > 0 {
		log.WithFields(map[string]interface{}{
			"index":        req.Index,
			"dropped_rows": dropped,
			"observations": panel.Len(),
		}).Debug("dates dropped by alignment")
	}
	return panel, nil
}
