package backtest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RebalanceKind is the rebalance calendar
type RebalanceKind string

const (
	Monthly   RebalanceKind = "M"
	Quarterly RebalanceKind = "Q"
	Yearly    RebalanceKind = "Y"
	EveryN    RebalanceKind = "N" // N 기간마다
)

// Rebalance describes when the portfolio is re-optimized
type Rebalance struct {
	Kind  RebalanceKind
	Every int // EveryN 전용
}

// ParseRebalance accepts M, Q, Y or "<N>d" (every N observations)
func ParseRebalance(s string) (Rebalance, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "M":
		return Rebalance{Kind: Monthly}, nil
	case "Q":
		return Rebalance{Kind: Quarterly}, nil
	case "Y":
		return Rebalance{Kind: Yearly}, nil
	}
	if trimmed := strings.TrimSuffix(strings.ToLower(s), "d"); trimmed != strings.ToLower(s) {
		n, err := strconv.Atoi(trimmed)
		if err == nil && n > 0 {
			return Rebalance{Kind: EveryN, Every: n}, nil
		}
	}
	return Rebalance{}, fmt.Errorf("unknown rebalance %q (want M|Q|Y|<N>d)", s)
}

// String renders the schedule in its config form
func (r Rebalance) String() string {
	if r.Kind == EveryN {
		return fmt.Sprintf("%dd", r.Every)
	}
	return string(r.Kind)
}

// Indices returns the rows of dates[from:] on which to rebalance.
// Calendar schedules use the last observed date of each month/quarter/year, so the
// final row only qualifies when it closes its period. The first row always rebalances
// so the portfolio is invested from the start.
func (r Rebalance) Indices(dates []time.Time, from int) []int {
	if from < 0 {
		from = 0
	}
	if from >= len(dates) {
		return nil
	}

	out := []int{from}
	if r.Kind == EveryN {
		for i := from + r.Every; i < len(dates); i += r.Every {
			out = append(out, i)
		}
		return out
	}

	for i := from + 1; i < len(dates); i++ {
		last := i == len(dates)-1
		if !last && r.period(dates[i+1]) != r.period(dates[i]) {
			out = append(out, i)
			continue
		}
		if last && r.closesPeriod(dates[i]) {
			out = append(out, i)
		}
	}
	return out
}

func (r Rebalance) period(t time.Time) int {
	switch r.Kind {
	case Quarterly:
		return t.Year()*10 + (int(t.Month())-1)/3
	case Yearly:
		return t.Year()
	default:
		return t.Year()*100 + int(t.Month())
	}
}

// closesPeriod reports whether t is the last calendar day of its period
func (r Rebalance) closesPeriod(t time.Time) bool {
	next := t.AddDate(0, 0, 1)
	return r.period(next) != r.period(t)
}
