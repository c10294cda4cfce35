package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/internal/marketdata"
)

// PriceTable holds closes aligned on common dates plus the derived return panel.
// Return row k covers price rows k → k+1, so Returns.Dates[k] == Dates[k+1].
type PriceTable struct {
	Dates   []time.Time
	Index   []float64
	Codes   []string
	Closes  map[string][]float64
	Returns *contracts.ReturnPanel
}

// NewPriceTable resamples closes to freq, inner-joins them on dates and derives returns
func NewPriceTable(
	index []contracts.PricePoint,
	assets map[string][]contracts.PricePoint,
	codes []string,
	freq marketdata.Frequency,
	method marketdata.ReturnMethod,
) (*PriceTable, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no asset codes", contracts.ErrInsufficientData)
	}

	index = marketdata.Resample(index, freq)
	series := make(map[string]map[int64]float64, len(codes))
	for _, code := range codes {
		points := marketdata.Resample(assets[code], freq)
		byDay := make(map[int64]float64, len(points))
		for _, p := range points {
			byDay[dayKey(p.Date)] = p.Close
		}
		series[code] = byDay
	}

	table := &PriceTable{
		Codes:  append([]string(nil), codes...),
		Closes: make(map[string][]float64, len(codes)),
	}
	for _, p := range index {
		key := dayKey(p.Date)
		complete := true
		for _, code := range codes {
			if _, ok := series[code][key]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		table.Dates = append(table.Dates, p.Date)
		table.Index = append(table.Index, p.Close)
		for _, code := range codes {
			table.Closes[code] = append(table.Closes[code], series[code][key])
		}
	}

	if len(table.Dates) < 2 {
		return nil, fmt.Errorf("%w: %d common dates, need at least 2", contracts.ErrInsufficientData, len(table.Dates))
	}

	panel, err := table.returns(method)
	if err != nil {
		return nil, err
	}
	table.Returns = panel
	return table, nil
}

func (t *PriceTable) returns(method marketdata.ReturnMethod) (*contracts.ReturnPanel, error) {
	n := len(t.Dates) - 1
	ret := func(prices []float64, code string) ([]float64, error) {
		out := make([]float64, n)
		for k := 0; k < n; k++ {
			prev, cur := prices[k], prices[k+1]
			if prev <= 0 || cur <= 0 {
				return nil, fmt.Errorf("%w: non-positive close for %s on %s",
					contracts.ErrDegenerateInput, code, t.Dates[k+1].Format("2006-01-02"))
			}
			if method == marketdata.LogReturns {
				out[k] = math.Log(cur / prev)
			} else {
				out[k] = cur/prev - 1
			}
		}
		return out, nil
	}

	market, err := ret(t.Index, "index")
	if err != nil {
		return nil, err
	}
	assets := make([]contracts.ReturnSeries, len(t.Codes))
	for i, code := range t.Codes {
		r, err := ret(t.Closes[code], code)
		if err != nil {
			return nil, err
		}
		assets[i] = contracts.ReturnSeries{Code: code, Returns: r}
	}
	return contracts.NewReturnPanel(t.Dates[1:], market, assets)
}

// Len returns the number of price rows
func (t *PriceTable) Len() int {
	return len(t.Dates)
}

// PricesAt returns every asset close on price row i
func (t *PriceTable) PricesAt(i int) map[string]float64 {
	out := make(map[string]float64, len(t.Codes))
	for _, code := range t.Codes {
		out[code] = t.Closes[code][i]
	}
	return out
}

// FirstRowOnOrAfter returns the first price row dated >= d (Len() when none)
func (t *PriceTable) FirstRowOnOrAfter(d time.Time) int {
	for i, date := range t.Dates {
		if !date.Before(d) {
			return i
		}
	}
	return len(t.Dates)
}

func dayKey(t time.Time) int64 {
	y, m, d := t.Date()
	return int64(y)*10000 + int64(m)*100 + int64(d)
}
