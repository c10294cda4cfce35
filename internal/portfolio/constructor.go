package portfolio

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/pkg/logger"
)

// Constructor turns optimized weights into a target portfolio
// ⭐ SSOT: 목표 포트폴리오 생성 로직은 여기서만
type Constructor struct {
	config PortfolioConfig
	logger *logger.Logger
}

// PortfolioConfig defines target construction parameters
type PortfolioConfig struct {
	MinPositionWeight float64 // 이 값 이하 |비중|은 포지션에서 제외
	MaxPositions      int     // 0 = 제한 없음 (표시용 상위 N, 비중 재배분 없음)
}

// DefaultPortfolioConfig returns default configuration
func DefaultPortfolioConfig() PortfolioConfig {
	return PortfolioConfig{
		MinPositionWeight: nonZeroTolerance,
		MaxPositions:      0,
	}
}

// NewConstructor creates a new portfolio constructor
func NewConstructor(config PortfolioConfig, log *logger.Logger) *Constructor {
	return &Constructor{
		config: config,
		logger: logger.OrNop(log).WithComponent("constructor"),
	}
}

// Construct builds the target portfolio for date from final weights and the ranking behind them.
func (c *Constructor) Construct(
	ctx context.Context,
	date time.Time,
	weights contracts.WeightVector,
	ranking *contracts.RankingResult,
	params *contracts.FactorParameters,
) (*contracts.TargetPortfolio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ranking == nil || !weights.Vector().SameUniverse(ranking.Scores) {
		return nil, fmt.Errorf("%w: weights and ranking cover different universes", contracts.ErrAlignment)
	}

	target := &contracts.TargetPortfolio{
		Date:      date,
		Positions: make([]contracts.TargetPosition, 0, weights.Len()),
	}

	ranks := c.scoreRanks(ranking.Scores)

	for i := 0; i < weights.Len(); i++ {
		code, w := weights.At(i)
		if abs(w) <= c.config.MinPositionWeight {
			continue
		}
		_, z := ranking.Scores.At(i)

		pos := contracts.TargetPosition{
			Code:   code,
			Weight: w,
			Score:  z,
			Action: contracts.ActionBuy,
			Reason: c.getActionReason(ranks[code], weights.Len(), z, ranking.C0, w),
		}
		if params != nil {
			if f, ok := params.Get(code); ok {
				pos.Beta = f.Beta
			}
		}
		if w < 0 {
			pos.Action = contracts.ActionSell
		}
		target.Positions = append(target.Positions, pos)
	}

	// 비중 내림차순 (동률은 유니버스 순서)
	sort.SliceStable(target.Positions, func(i, j int) bool {
		return target.Positions[i].Weight > target.Positions[j].Weight
	})
	if c.config.MaxPositions > 0 && len(target.Positions) > c.config.MaxPositions {
		c.logger.WithFields(map[string]interface{}{
			"positions":     len(target.Positions),
			"max_positions": c.config.MaxPositions,
		}).Warn("Target has more positions than display limit")
	}

	c.logger.WithFields(map[string]interface{}{
		"date":         date.Format("2006-01-02"),
		"positions":    len(target.Positions),
		"total_weight": target.TotalWeight(),
		"c0":           ranking.C0,
	}).Info("Portfolio constructed")

	return target, nil
}

// EqualWeight returns 1/N over codes
func EqualWeight(codes []string) (contracts.WeightVector, error) {
	if len(codes) == 0 {
		return contracts.WeightVector{}, fmt.Errorf("%w: no assets to weight", contracts.ErrInsufficientData)
	}
	weight := 1.0 / float64(len(codes))
	weights := make([]float64, len(codes))
	for i := range weights {
		weights[i] = weight
	}
	return contracts.NewWeightVector(codes, weights)
}

// scoreRanks maps code → 1-based rank by descending Z
func (c *Constructor) scoreRanks(scores contracts.AssetVector) map[string]int {
	codes := scores.Codes()
	values := scores.Values()
	order := make([]int, len(codes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return values[order[i]] > values[order[j]]
	})

	ranks := make(map[string]int, len(codes))
	for r, i := range order {
		ranks[codes[i]] = r + 1
	}
	return ranks
}

// getActionReason describes why the asset is held
func (c *Constructor) getActionReason(rank, n int, z, c0, weight float64) string {
	switch {
	case weight < 0:
		return fmt.Sprintf("Short: Z rank %d/%d (Z=%.4f, C0=%.4f)", rank, n, z, c0)
	case z <= 0:
		return fmt.Sprintf("Sole holding (Z=%.4f)", z)
	default:
		return fmt.Sprintf("Z rank %d/%d (Z=%.4f, C0=%.4f)", rank, n, z, c0)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
