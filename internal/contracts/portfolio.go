package contracts

import (
	"math"
	"time"
)

// TargetPortfolio is the constructor output handed to the backtest and scheduler
// ⭐ SSOT: 최적화 결과 → 리밸런싱 전달 (Σ비중 = 1, 현금 0)
type TargetPortfolio struct {
	Date      time.Time        `json:"date"`
	Positions []TargetPosition `json:"positions"`
	Cash      float64          `json:"cash"` // 목표 현금 비중 (fully invested → 0)
}

// TargetPosition represents a target position in the portfolio
type TargetPosition struct {
	Code   string  `json:"code"`
	Weight float64 `json:"weight"` // 목표 비중 (short 허용 시 음수 가능)
	Score  float64 `json:"z"`      // 랭킹 점수 Z
	Beta   float64 `json:"beta"`
	Action Action  `json:"action"` // BUY, SELL, HOLD
	Reason string  `json:"reason"`
}

// CalculateQty converts the target weight into a whole share count for the given capital.
// price가 0이거나 음수면 0 반환 (fail-closed)
func (tp *TargetPosition) CalculateQty(capital, price float64) int64 {
	if price <= 0 || capital <= 0 {
		return 0
	}
	return int64(math.Trunc(capital * tp.Weight / price))
}

// Action represents the action to take for a position
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// actionTolerance is the weight change below which a position is left alone
const actionTolerance = 1e-4

// TotalWeight returns the sum of all position weights
func (tp *TargetPortfolio) TotalWeight() float64 {
	total := 0.0
	for _, pos := range tp.Positions {
		total += pos.Weight
	}
	return total
}

// Count returns the number of positions
func (tp *TargetPortfolio) Count() int {
	return len(tp.Positions)
}

// GetPosition finds a position by stock code
func (tp *TargetPortfolio) GetPosition(code string) (*TargetPosition, bool) {
	for i := range tp.Positions {
		if tp.Positions[i].Code == code {
			return &tp.Positions[i], true
		}
	}
	return nil, false
}

// Weights returns the target weights keyed by code
func (tp *TargetPortfolio) Weights() map[string]float64 {
	m := make(map[string]float64, len(tp.Positions))
	for _, pos := range tp.Positions {
		m[pos.Code] = pos.Weight
	}
	return m
}

// AssignActions sets BUY/SELL/HOLD relative to the previously held weights and
// returns SELL positions for codes held before but absent from the target.
func (tp *TargetPortfolio) AssignActions(previous map[string]float64) []TargetPosition {
	for i := range tp.Positions {
		pos := &tp.Positions[i]
		delta := pos.Weight - previous[pos.Code]
		switch {
		case delta > actionTolerance:
			pos.Action = ActionBuy
		case delta < -actionTolerance:
			pos.Action = ActionSell
		default:
			pos.Action = ActionHold
		}
	}

	var exits []TargetPosition
	for code, w := range previous {
		if _, ok := tp.GetPosition(code); ok || w == 0 {
			continue
		}
		exits = append(exits, TargetPosition{Code: code, Action: ActionSell, Reason: "dropped from target"})
	}
	return exits
}
