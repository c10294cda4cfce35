package strategyconfig

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"
	_ "time/tzdata" // meta.timezone 검증용 (컨테이너에 zoneinfo 없음)

	"github.com/robfig/cron/v3"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning 권장 위반 (경고만)
type Warning struct {
	Code    string
	Message string
}

var rebalancePattern = regexp.MustCompile(`^(M|Q|Y|[1-9][0-9]*d)$`)

// Validate checks all required constraints
// 실패 시 error 반환 (프로그램 중단)
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.StrategyID == "" {
		return ValidationError{"meta.strategy_id", "required"}
	}
	if cfg.Meta.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Meta.Timezone); err != nil {
			return ValidationError{"meta.timezone", err.Error()}
		}
	}

	// === Universe ===
	if cfg.Universe.MarketIndex == "" {
		return ValidationError{"universe.market_index", "required"}
	}
	if len(cfg.Universe.Eligible()) == 0 {
		return ValidationError{"universe.codes", "must contain at least one code after exclusions"}
	}
	if err := validateUnique(cfg.Universe.Codes); err != nil {
		return ValidationError{"universe.codes", err.Error()}
	}

	// === Estimation ===
	e := cfg.Estimation
	if e.HistoryDays <= 0 {
		return ValidationError{"estimation.history_days", "must be > 0"}
	}
	if e.Lookback < 0 {
		return ValidationError{"estimation.lookback", "must be >= 0"}
	}
	switch e.Frequency {
	case "D", "W", "M":
	default:
		return ValidationError{"estimation.frequency", "must be D, W or M"}
	}
	switch e.ReturnMethod {
	case "simple", "log":
	default:
		return ValidationError{"estimation.return_method", "must be simple or log"}
	}
	switch e.ExpectedMethod {
	case "historical", "factor":
	default:
		return ValidationError{"estimation.expected_method", "must be historical or factor"}
	}
	if e.MinObservations < 3 {
		// 잔차분산은 T-2 자유도 → 최소 3개
		return ValidationError{"estimation.min_observations", "must be >= 3"}
	}
	if e.Lookback > 0 && e.Lookback < e.MinObservations {
		return ValidationError{"estimation.lookback", fmt.Sprintf("lookback=%d < min_observations=%d", e.Lookback, e.MinObservations)}
	}
	if w := e.Winsorize; w != nil {
		if err := validatePctRange(w.Lower, "estimation.winsorize.lower"); err != nil {
			return err
		}
		if err := validatePctRange(w.Upper, "estimation.winsorize.upper"); err != nil {
			return err
		}
		if w.Lower >= w.Upper {
			return ValidationError{"estimation.winsorize", "lower must be < upper"}
		}
	}

	// === Optimization ===
	o := cfg.Optimization
	if math.IsNaN(o.RiskFreeRate) || math.IsInf(o.RiskFreeRate, 0) || o.RiskFreeRate <= -1 {
		return ValidationError{"optimization.risk_free_rate", "must be a finite annual rate > -1"}
	}
	if o.MaxIterations < 0 {
		return ValidationError{"optimization.max_iterations", "must be >= 0"}
	}
	if err := o.Constraints().Validate(); err != nil {
		return ValidationError{"optimization", err.Error()}
	}
	if o.MaxWeight != nil {
		// 상한 × 종목수 < 1 이면 어떤 가중치도 불가능
		n := len(cfg.Universe.Eligible())
		if float64(n)*(*o.MaxWeight) < 1-1e-6 {
			return ValidationError{"optimization.max_weight", fmt.Sprintf("max_weight=%.4f cannot fund %d assets", *o.MaxWeight, n)}
		}
	}

	// === Backtest ===
	b := cfg.Backtest
	if b.InitialCapital <= 0 {
		return ValidationError{"backtest.initial_capital", "must be > 0"}
	}
	if !rebalancePattern.MatchString(b.Rebalance) {
		return ValidationError{"backtest.rebalance", "must be M, Q, Y or <N>d"}
	}
	if b.TransactionCostBps < 0 {
		return ValidationError{"backtest.transaction_cost_bps", "must be >= 0"}
	}

	// === Schedule ===
	if cfg.Schedule.Enabled {
		if err := validateCron(cfg.Schedule.Cron); err != nil {
			return ValidationError{"schedule.cron", err.Error()}
		}
	}

	return nil
}

// Warn checks recommended constraints (non-fatal)
func Warn(cfg *Config) []Warning {
	var warnings []Warning

	// 관측치 부족 경고
	if cfg.Estimation.MinObservations < 10 {
		warnings = append(warnings, Warning{
			Code:    "FEW_OBSERVATIONS",
			Message: "min_observations < 10: 베타 추정 불안정",
		})
	}

	// 무위험수익률 과대
	if cfg.Optimization.RiskFreeRate > 0.10 {
		warnings = append(warnings, Warning{
			Code:    "HIGH_RISK_FREE",
			Message: "risk_free_rate > 10%: 연율 입력인지 확인",
		})
	}

	// 숏 허용 + 상한 없음 → 레버리지 무제한
	if cfg.Optimization.AllowShort && cfg.Optimization.MaxWeight == nil {
		warnings = append(warnings, Warning{
			Code:    "UNBOUNDED_SHORT",
			Message: "allow_short without max_weight: 레버리지 제한 없음",
		})
	}

	// 과도한 거래비용
	if cfg.Backtest.TransactionCostBps > 50 {
		warnings = append(warnings, Warning{
			Code:    "HIGH_COST",
			Message: "transaction_cost_bps > 50: 회전율 대비 비용 과다",
		})
	}

	return warnings
}

// === Helper Functions ===

func validateUnique(codes []string) error {
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		if seen[code] {
			return fmt.Errorf("duplicate code %q", code)
		}
		seen[code] = true
	}
	return nil
}

func validateCron(spec string) error {
	if spec == "" {
		return errors.New("required when schedule is enabled")
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(spec)
	return err
}

// validatePctRange는 퍼센트 값이 0~1 범위인지 검증
func validatePctRange(pct float64, field string) error {
	if pct < 0 || pct > 1 {
		return ValidationError{field, "must be in range [0, 1]"}
	}
	return nil
}
