package backtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/pkg/logger"
)

// Simulator is the cash/holdings ledger of a backtest
// ⭐ SSOT: 백테스팅 체결 시뮬레이션은 여기서만 (정수 주식수, 비례 거래비용)
type Simulator struct {
	logger *logger.Logger

	costRate decimal.Decimal

	// Current state
	cash     decimal.Decimal
	holdings map[string]int64 // 음수 = 공매도

	// Statistics
	totalTrades int
	totalCost   decimal.Decimal
}

// Trade is one share-count change at a rebalance
type Trade struct {
	Code     string  `json:"code"`
	Quantity int64   `json:"quantity"` // 양수 매수, 음수 매도
	Price    float64 `json:"price"`
	Value    float64 `json:"value"`
	Cost     float64 `json:"cost"`
}

// Stats holds simulation statistics
type Stats struct {
	TotalTrades int     `json:"total_trades"`
	TotalCost   float64 `json:"total_cost"`
}

// NewSimulator creates a ledger charging costRate (e.g. 0.0015) of traded value
func NewSimulator(costRate float64, log *logger.Logger) *Simulator {
	return &Simulator{
		logger:   logger.OrNop(log).WithComponent("simulator"),
		costRate: decimal.NewFromFloat(costRate),
		holdings: make(map[string]int64),
	}
}

// Initialize resets the simulator with initial capital
func (s *Simulator) Initialize(capital float64) {
	s.cash = decimal.NewFromFloat(capital)
	s.holdings = make(map[string]int64)
	s.totalTrades = 0
	s.totalCost = decimal.Zero
}

// Rebalance trades to the share counts closest to weights (truncated toward zero)
// at the given closes and returns the executed trades and their total cost.
func (s *Simulator) Rebalance(date time.Time, weights contracts.WeightVector, prices map[string]float64) ([]Trade, float64, error) {
	value, err := s.value(prices)
	if err != nil {
		return nil, 0, err
	}

	// 목표 수량
	targets := make(map[string]int64, weights.Len())
	for i := 0; i < weights.Len(); i++ {
		code, w := weights.At(i)
		price, ok := prices[code]
		if !ok || price <= 0 {
			return nil, 0, fmt.Errorf("%w: no price for %s on %s", contracts.ErrInsufficientData, code, date.Format("2006-01-02"))
		}
		targetValue := decimal.NewFromFloat(w).Mul(value)
		targets[code] = targetValue.Div(decimal.NewFromFloat(price)).Truncate(0).IntPart()
	}
	// 유니버스에서 빠진 종목은 청산
	for code := range s.holdings {
		if _, ok := targets[code]; !ok {
			if _, priced := prices[code]; !priced {
				return nil, 0, fmt.Errorf("%w: no price to close %s on %s", contracts.ErrInsufficientData, code, date.Format("2006-01-02"))
			}
			targets[code] = 0
		}
	}

	codes := make([]string, 0, len(targets))
	for code := range targets {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	trades := make([]Trade, 0, len(codes))
	cashFlow := decimal.Zero
	cost := decimal.Zero
	for _, code := range codes {
		qty := targets[code] - s.holdings[code]
		if qty == 0 {
			continue
		}
		price := decimal.NewFromFloat(prices[code])
		tradeValue := price.Mul(decimal.NewFromInt(qty))
		tradeCost := tradeValue.Abs().Mul(s.costRate)

		trades = append(trades, Trade{
			Code:     code,
			Quantity: qty,
			Price:    prices[code],
			Value:    tradeValue.InexactFloat64(),
			Cost:     tradeCost.InexactFloat64(),
		})
		cashFlow = cashFlow.Add(tradeValue)
		cost = cost.Add(tradeCost)

		if targets[code] == 0 {
			delete(s.holdings, code)
		} else {
			s.holdings[code] = targets[code]
		}
	}

	s.cash = s.cash.Sub(cashFlow).Sub(cost)
	s.totalTrades += len(trades)
	s.totalCost = s.totalCost.Add(cost)

	s.logger.WithFields(map[string]interface{}{
		"date":   date.Format("2006-01-02"),
		"trades": len(trades),
		"cost":   cost.StringFixed(2),
		"value":  value.StringFixed(2),
	}).Debug("Rebalanced")

	return trades, cost.InexactFloat64(), nil
}

// Value marks cash plus holdings to the given closes
func (s *Simulator) Value(prices map[string]float64) (float64, error) {
	v, err := s.value(prices)
	if err != nil {
		return 0, err
	}
	return v.InexactFloat64(), nil
}

func (s *Simulator) value(prices map[string]float64) (decimal.Decimal, error) {
	total := s.cash
	for code, qty := range s.holdings {
		price, ok := prices[code]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: no price for held %s", contracts.ErrInsufficientData, code)
		}
		total = total.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty)))
	}
	return total, nil
}

// Cash returns the cash balance
func (s *Simulator) Cash() float64 {
	return s.cash.InexactFloat64()
}

// Holdings returns a copy of the share counts
func (s *Simulator) Holdings() map[string]int64 {
	out := make(map[string]int64, len(s.holdings))
	for code, qty := range s.holdings {
		out[code] = qty
	}
	return out
}

// GetStats returns simulation statistics
func (s *Simulator) GetStats() Stats {
	return Stats{
		TotalTrades: s.totalTrades,
		TotalCost:   s.totalCost.InexactFloat64(),
	}
}
