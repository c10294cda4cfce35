package marketdata

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/wonny/egp/internal/contracts"
)

// ReturnMethod selects how prices become returns
type ReturnMethod string

const (
	SimpleReturns ReturnMethod = "simple" // P_t/P_{t-1} - 1
	LogReturns    ReturnMethod = "log"    // ln(P_t/P_{t-1})
)

// Frequency is the sampling frequency of the return panel
type Frequency string

const (
	Daily   Frequency = "D"
	Weekly  Frequency = "W"
	Monthly Frequency = "M"
)

// PeriodsPerYear returns the annualization factor for the frequency
func (f Frequency) PeriodsPerYear() float64 {
	switch f {
	case Weekly:
		return 52
	case Monthly:
		return 12
	default:
		return 252
	}
}

// PeriodRate converts an annual rate to a per-period rate by compounding
func (f Frequency) PeriodRate(annual float64) float64 {
	return math.Pow(1+annual, 1/f.PeriodsPerYear()) - 1
}

// ParseFrequency accepts D/W/M (case-insensitive), defaulting to daily
func ParseFrequency(s string) (Frequency, error) {
	switch s {
	case "", "D", "d", "daily":
		return Daily, nil
	case "W", "w", "weekly":
		return Weekly, nil
	case "M", "m", "monthly":
		return Monthly, nil
	default:
		return "", fmt.Errorf("unknown frequency %q (want D|W|M)", s)
	}
}

// ReturnPoint is one dated return observation
type ReturnPoint struct {
	Date  time.Time
	Value float64
}

// Resample keeps the last price of each week or month. Points must be in date order.
func Resample(points []contracts.PricePoint, freq Frequency) []contracts.PricePoint {
	if freq == Daily || freq == "" {
		return points
	}

	bucket := func(t time.Time) int {
		if freq == Weekly {
			y, w := t.ISOWeek()
			return y*100 + w
		}
		return t.Year()*100 + int(t.Month())
	}

	out := make([]contracts.PricePoint, 0, len(points))
	for i, p := range points {
		if i+1 < len(points) && bucket(points[i+1].Date) == bucket(p.Date) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Returns converts consecutive closes to returns. Non-positive prices are rejected.
func Returns(points []contracts.PricePoint, method ReturnMethod) ([]ReturnPoint, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: %d prices, need at least 2", contracts.ErrInsufficientData, len(points))
	}

	out := make([]ReturnPoint, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1].Close, points[i].Close
		if prev <= 0 || cur <= 0 {
			return nil, fmt.Errorf("%w: non-positive close on %s", contracts.ErrDegenerateInput,
				points[i].Date.Format("2006-01-02"))
		}
		r := cur/prev - 1
		if method == LogReturns {
			r = math.Log(cur / prev)
		}
		out = append(out, ReturnPoint{Date: points[i].Date, Value: r})
	}
	return out, nil
}

// Align inner-joins asset returns with market returns on dates and builds a panel.
// Only dates present in the market series and every asset series survive.
func Align(market []ReturnPoint, codes []string, assets map[string][]ReturnPoint) (*contracts.ReturnPanel, error) {
	counts := make(map[int64]int, len(market))
	for _, code := range codes {
		series, ok := assets[code]
		if !ok {
			return nil, fmt.Errorf("%w: no returns for %s", contracts.ErrAlignment, code)
		}
		for _, p := range series {
			counts[dayKey(p.Date)]++
		}
	}

	var dates []time.Time
	var marketValues []float64
	for _, p := range market {
		if counts[dayKey(p.Date)] == len(codes) {
			dates = append(dates, p.Date)
			marketValues = append(marketValues, p.Value)
		}
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: no common dates between market and assets", contracts.ErrInsufficientData)
	}

	keep := make(map[int64]struct{}, len(dates))
	for _, d := range dates {
		keep[dayKey(d)] = struct{}{}
	}

	series := make([]contracts.ReturnSeries, len(codes))
	for i, code := range codes {
		values := make([]float64, 0, len(dates))
		for _, p := range assets[code] {
			if _, ok := keep[dayKey(p.Date)]; ok {
				values = append(values, p.Value)
			}
		}
		series[i] = contracts.ReturnSeries{Code: code, Returns: values}
	}

	return contracts.NewReturnPanel(dates, marketValues, series)
}

func dayKey(t time.Time) int64 {
	y, m, d := t.Date()
	return int64(y)*10000 + int64(m)*100 + int64(d)
}

// Winsorize clips every asset series to its [lower, upper] empirical quantiles.
// The market series is left untouched.
func Winsorize(panel *contracts.ReturnPanel, lower, upper float64) (*contracts.ReturnPanel, error) {
	if lower < 0 || upper > 1 || lower >= upper {
		return nil, fmt.Errorf("winsorize bounds [%v, %v] must satisfy 0 <= lower < upper <= 1", lower, upper)
	}

	assets := make([]contracts.ReturnSeries, len(panel.Assets))
	for i, a := range panel.Assets {
		sorted := append([]float64(nil), a.Returns...)
		sort.Float64s(sorted)
		lo := stat.Quantile(lower, stat.Empirical, sorted, nil)
		hi := stat.Quantile(upper, stat.Empirical, sorted, nil)

		clipped := make([]float64, len(a.Returns))
		for j, r := range a.Returns {
			clipped[j] = math.Min(math.Max(r, lo), hi)
		}
		assets[i] = contracts.ReturnSeries{Code: a.Code, Returns: clipped}
	}
	return contracts.NewReturnPanel(panel.Dates, panel.Market, assets)
}

// QualityReport flags series that will estimate poorly
type QualityReport struct {
	Observations int      `json:"observations"`
	ZeroVariance []string `json:"zero_variance,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// CheckQuality reports short windows and constant series
func CheckQuality(panel *contracts.ReturnPanel, minObservations int) QualityReport {
	report := QualityReport{Observations: panel.Len()}
	if panel.Len() < minObservations {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("only %d observations (min: %d)", panel.Len(), minObservations))
	}
	if panel.Len() > 1 && stat.Variance(panel.Market, nil) == 0 {
		report.ZeroVariance = append(report.ZeroVariance, "market")
		report.Warnings = append(report.Warnings, "market: zero variance (constant values)")
	}
	for _, a := range panel.Assets {
		if a.Len() > 1 && stat.Variance(a.Returns, nil) == 0 {
			report.ZeroVariance = append(report.ZeroVariance, a.Code)
			report.Warnings = append(report.Warnings, a.Code+": zero variance (constant values)")
		}
	}
	return report
}
