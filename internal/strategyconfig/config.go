package strategyconfig

import (
	"time"

	"github.com/wonny/egp/internal/contracts"
)

// Config는 자산배분 전략의 전체 설정
// ⭐ SSOT: 유니버스/추정/최적화/백테스트 파라미터는 이 파일 하나에서만
type Config struct {
	Meta         Meta         `yaml:"meta" json:"meta"`
	Universe     Universe     `yaml:"universe" json:"universe"`
	Estimation   Estimation   `yaml:"estimation" json:"estimation"`
	Optimization Optimization `yaml:"optimization" json:"optimization"`
	Backtest     Backtest     `yaml:"backtest" json:"backtest"`
	Schedule     Schedule     `yaml:"schedule" json:"schedule"`
}

// Meta 메타 정보
type Meta struct {
	StrategyID string `yaml:"strategy_id" json:"strategy_id"`
	Version    string `yaml:"version" json:"version"`
	Timezone   string `yaml:"timezone" json:"timezone"`
}

// Universe 투자 가능 자산과 시장 지수
type Universe struct {
	MarketIndex string   `yaml:"market_index" json:"market_index"`
	Codes       []string `yaml:"codes" json:"codes"`
	Exclude     []string `yaml:"exclude" json:"exclude"`
}

// Eligible returns codes minus exclusions, de-duplicated, in file order
func (u Universe) Eligible() []string {
	excluded := make(map[string]bool, len(u.Exclude))
	for _, code := range u.Exclude {
		excluded[code] = true
	}

	seen := make(map[string]bool, len(u.Codes))
	out := make([]string, 0, len(u.Codes))
	for _, code := range u.Codes {
		if code == "" || excluded[code] || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}

// Estimation 팩터 추정 설정
type Estimation struct {
	HistoryDays     int        `yaml:"history_days" json:"history_days" default:"365"` // 가격 조회 기간 (달력 기준)
	Lookback        int        `yaml:"lookback" json:"lookback"`                       // 사용할 수익률 기간 수 (0 = 전체)
	Frequency       string     `yaml:"frequency" json:"frequency" default:"D"`         // D | W | M
	ReturnMethod    string     `yaml:"return_method" json:"return_method" default:"simple"`
	ExpectedMethod  string     `yaml:"expected_method" json:"expected_method" default:"historical"`
	MinObservations int        `yaml:"min_observations" json:"min_observations" default:"30"`
	Winsorize       *Winsorize `yaml:"winsorize,omitempty" json:"winsorize,omitempty"`
}

// Winsorize 극단값 절단 분위수
type Winsorize struct {
	Lower float64 `yaml:"lower" json:"lower"`
	Upper float64 `yaml:"upper" json:"upper"`
}

// Optimization 최적화 설정
type Optimization struct {
	RiskFreeRate  float64  `yaml:"risk_free_rate" json:"risk_free_rate"` // 연율
	AllowShort    bool     `yaml:"allow_short" json:"allow_short"`
	MaxWeight     *float64 `yaml:"max_weight,omitempty" json:"max_weight,omitempty"`
	MinWeight     *float64 `yaml:"min_weight,omitempty" json:"min_weight,omitempty"`
	MaxIterations int      `yaml:"max_iterations" json:"max_iterations"`
}

// Constraints converts the optimization block into a projector spec
func (o Optimization) Constraints() contracts.ConstraintSpec {
	spec := contracts.ConstraintSpec{AllowShort: o.AllowShort}
	if o.MaxWeight != nil {
		spec = spec.WithMaxWeight(*o.MaxWeight)
	}
	if o.MinWeight != nil {
		spec = spec.WithMinWeight(*o.MinWeight)
	}
	return spec
}

// Backtest 백테스트 설정 (벤치마크 = market_index 매수 후 보유)
type Backtest struct {
	InitialCapital     float64 `yaml:"initial_capital" json:"initial_capital"`
	Rebalance          string  `yaml:"rebalance" json:"rebalance" default:"M"` // M | Q | Y | <N>d
	TransactionCostBps float64 `yaml:"transaction_cost_bps" json:"transaction_cost_bps"`
}

// Schedule 정기 리밸런싱 스케줄
type Schedule struct {
	Cron    string `yaml:"cron" json:"cron"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// DecisionSnapshot 의사결정 스냅샷 (재현성용)
type DecisionSnapshot struct {
	ConfigHash     string    `json:"config_hash"`
	ConfigYAML     string    `json:"config_yaml"`
	StrategyID     string    `json:"strategy_id"`
	Universe       []string  `json:"universe"` // eligible codes at decision time
	GitCommit      string    `json:"git_commit"`
	DataSnapshotID string    `json:"data_snapshot_id"`
	CreatedAt      time.Time `json:"created_at"`
}
