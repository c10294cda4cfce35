package contracts

import (
	"fmt"
	"time"
)

// ReturnSeries holds one asset's periodic returns
type ReturnSeries struct {
	Code    string    `json:"code"`
	Returns []float64 `json:"returns"`
}

// Len returns the number of observations
func (s ReturnSeries) Len() int {
	return len(s.Returns)
}

// ReturnPanel is an estimation window: asset series paired 1:1 by time index with the market series
// ⭐ SSOT: S0(데이터) → 추정기 전달 계약. 달력 정렬은 데이터 로더 책임, 여기서는 길이만 검증
type ReturnPanel struct {
	Dates  []time.Time    `json:"dates,omitempty"` // optional, same length as Market when set
	Market []float64      `json:"market"`
	Assets []ReturnSeries `json:"assets"`
}

// NewReturnPanel copies the inputs and validates alignment.
func NewReturnPanel(dates []time.Time, market []float64, assets []ReturnSeries) (*ReturnPanel, error) {
	p := &ReturnPanel{
		Market: append([]float64(nil), market...),
		Assets: make([]ReturnSeries, len(assets)),
	}
	if len(dates) > 0 {
		p.Dates = append([]time.Time(nil), dates...)
	}
	for i, a := range assets {
		p.Assets[i] = ReturnSeries{Code: a.Code, Returns: append([]float64(nil), a.Returns...)}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that every asset series matches the market series length and codes are unique.
func (p *ReturnPanel) Validate() error {
	if len(p.Assets) == 0 {
		return fmt.Errorf("%w: panel has no assets", ErrInsufficientData)
	}
	if len(p.Dates) > 0 && len(p.Dates) != len(p.Market) {
		return fmt.Errorf("%w: %d dates for %d market returns", ErrAlignment, len(p.Dates), len(p.Market))
	}

	seen := make(map[string]struct{}, len(p.Assets))
	for _, a := range p.Assets {
		if a.Code == "" {
			return fmt.Errorf("%w: asset with empty code", ErrAlignment)
		}
		if _, dup := seen[a.Code]; dup {
			return fmt.Errorf("%w: duplicate asset %s", ErrAlignment, a.Code)
		}
		seen[a.Code] = struct{}{}

		if len(a.Returns) != len(p.Market) {
			return fmt.Errorf("%w: %s has %d returns, market has %d",
				ErrAlignment, a.Code, len(a.Returns), len(p.Market))
		}
	}
	return nil
}

// Len returns the number of time observations (T)
func (p *ReturnPanel) Len() int {
	return len(p.Market)
}

// Codes returns the asset universe in panel order
func (p *ReturnPanel) Codes() []string {
	codes := make([]string, len(p.Assets))
	for i, a := range p.Assets {
		codes[i] = a.Code
	}
	return codes
}

// Series finds an asset series by code
func (p *ReturnPanel) Series(code string) (ReturnSeries, bool) {
	for _, a := range p.Assets {
		if a.Code == code {
			return a, true
		}
	}
	return ReturnSeries{}, false
}

// Window returns an independent copy of the rows (end-lookback, end], i.e. the trailing
// lookback observations ending at row index end-1. A lookback <= 0 or larger than end takes
// every row up to end.
func (p *ReturnPanel) Window(end, lookback int) (*ReturnPanel, error) {
	if end <= 0 || end > len(p.Market) {
		return nil, fmt.Errorf("%w: window end %d outside [1, %d]", ErrInsufficientData, end, len(p.Market))
	}
	start := 0
	if lookback > 0 && end-lookback > 0 {
		start = end - lookback
	}

	assets := make([]ReturnSeries, len(p.Assets))
	for i, a := range p.Assets {
		assets[i] = ReturnSeries{Code: a.Code, Returns: a.Returns[start:end]}
	}
	var dates []time.Time
	if len(p.Dates) > 0 {
		dates = p.Dates[start:end]
	}
	return NewReturnPanel(dates, p.Market[start:end], assets)
}

// Without returns a copy of the panel with the given asset removed.
func (p *ReturnPanel) Without(code string) (*ReturnPanel, error) {
	assets := make([]ReturnSeries, 0, len(p.Assets))
	for _, a := range p.Assets {
		if a.Code != code {
			assets = append(assets, a)
		}
	}
	return NewReturnPanel(p.Dates, p.Market, assets)
}
