package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/egp/internal/backtest"
)

// backtestCmd represents the backtest command
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "백테스팅 프레임워크",
	Long: `과거 데이터로 롤링 윈도우 리밸런싱을 시뮬레이션합니다.

백테스팅은 다음을 검증합니다:
- 전략 수익률 vs 시장 지수 (매수 후 보유)
- 리스크 지표 (Sharpe, Sortino, MDD)
- 회전율과 거래비용
- 동일가중 fallback 빈도

Example:
  go run ./cmd/quant backtest run --from 2023-01-01 --to 2023-12-31`,
}

var (
	backtestRunCmd = &cobra.Command{
		Use:   "run",
		Short: "백테스트 실행",
		Long: `지정된 기간 동안 백테스트를 실행합니다.
리밸런싱 주기/거래비용/초기자본은 전략 파일의 backtest 블록을 따릅니다.

Flags:
  --from        시작 날짜 (YYYY-MM-DD)
  --to          종료 날짜 (YYYY-MM-DD, 기본: 오늘)
  --json        JSON 출력

Example:
  go run ./cmd/quant backtest run --from 2023-01-01 --to 2023-12-31
  go run ./cmd/quant backtest run --from 2023-01-01 --strategy config/strategy/kospi_top10.yaml`,
		RunE: runBacktest,
	}

	// Flags
	backtestFrom string
	backtestTo   string
	backtestJSON bool
)

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.AddCommand(backtestRunCmd)

	// Flags
	backtestRunCmd.Flags().StringVar(&backtestFrom, "from", "", "시작 날짜 (YYYY-MM-DD, 필수)")
	backtestRunCmd.Flags().StringVar(&backtestTo, "to", "", "종료 날짜 (YYYY-MM-DD, 기본: 오늘)")
	backtestRunCmd.Flags().BoolVar(&backtestJSON, "json", false, "JSON 출력")

	_ = backtestRunCmd.MarkFlagRequired("from")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	// Parse dates
	startDate, err := parseDateFlag(backtestFrom, time.Now())
	if err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	endDate, err := parseDateFlag(backtestTo, time.Now())
	if err != nil {
		return fmt.Errorf("invalid end date: %w", err)
	}
	if !endDate.After(startDate) {
		return fmt.Errorf("--to (%s) must be after --from (%s)", backtestTo, backtestFrom)
	}

	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer a.close()

	strategy, _, err := a.strategy()
	if err != nil {
		return err
	}

	if !backtestJSON {
		fmt.Println("=== EGP Backtest Engine ===")
		fmt.Printf("\n📋 Strategy: %s\n", strategy.Meta.StrategyID)
		fmt.Printf("📅 Period: %s ~ %s\n", startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))
		fmt.Printf("💰 Initial Capital: %s원\n", formatNumber(int64(strategy.Backtest.InitialCapital)))
		fmt.Printf("🔄 Rebalance: %s\n", strategy.Backtest.Rebalance)
		fmt.Printf("💸 Cost: %.1f bps\n\n", strategy.Backtest.TransactionCostBps)
		fmt.Println("🚀 Starting backtest...")
	}

	engine := backtest.NewEngine(a.orchestrator, a.loader, a.log)
	result, err := engine.RunStrategy(cmd.Context(), strategy, startDate, endDate)
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}
	a.metrics.RecordSharpe(strategy.Meta.StrategyID, result.Metrics.SharpeRatio)

	if backtestJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printBacktestResult(result)
	return nil
}

func printBacktestResult(result *backtest.Result) {
	fmt.Println("\n✅ Backtest Completed")
	fmt.Println("=" + strings.Repeat("=", 60))
	fmt.Println()

	// Summary
	fmt.Println("📊 Summary")
	fmt.Printf("Period: %s ~ %s (%d periods)\n",
		result.StartDate.Format("2006-01-02"),
		result.EndDate.Format("2006-01-02"),
		result.Periods)
	fmt.Printf("Rebalances: %d times (%d equal-weight fallbacks)\n", len(result.Rebalances), result.Fallbacks)
	fmt.Printf("Duration: %.2f seconds\n", result.Duration.Seconds())
	fmt.Println()

	// Performance
	m, b := result.Metrics, result.Benchmark
	fmt.Println("💰 Performance")
	PrintTableHeader([]string{"", "Strategy", "Benchmark"}, []int{16, 12, 12})
	row := func(name, s, bm string) { PrintTableRow([]string{name, s, bm}, []int{16, 12, 12}) }
	row("Final Value", formatNumber(int64(m.FinalValue)), formatNumber(int64(b.FinalValue)))
	row("Total Return", formatPct(m.TotalReturn), formatPct(b.TotalReturn))
	row("Annual Return", formatPct(m.AnnualizedReturn), formatPct(b.AnnualizedReturn))
	row("Volatility", formatPct(m.Volatility), formatPct(b.Volatility))
	row("Sharpe", fmt.Sprintf("%.2f", m.SharpeRatio), fmt.Sprintf("%.2f", b.SharpeRatio))
	row("Sortino", fmt.Sprintf("%.2f", m.SortinoRatio), fmt.Sprintf("%.2f", b.SortinoRatio))
	row("Max Drawdown", formatPct(m.MaxDrawdown), formatPct(b.MaxDrawdown))
	row("Win Rate", formatPct(m.WinRate), formatPct(b.WinRate))
	row("VaR 95%", formatPct(m.VaR95), formatPct(b.VaR95))
	row("CVaR 95%", formatPct(m.CVaR95), formatPct(b.CVaR95))
	fmt.Println()
	fmt.Printf("Excess Return:   %+.2f%% (annualized %+.2f%%)\n",
		result.ExcessReturn*100, result.ExcessAnnualizedReturn*100)
	fmt.Println()

	// Trading Metrics
	fmt.Println("💹 Trading Metrics")
	fmt.Printf("Total Trades:    %d\n", result.TotalTrades)
	fmt.Printf("Total Cost:      %s원\n", formatNumber(int64(result.TotalCost)))
	fmt.Println()

	if result.FinalWeights.Len() > 0 {
		fmt.Println("📌 Final Weights")
		for _, h := range result.FinalWeights.TopHoldings(10) {
			fmt.Printf("  %-10s %s\n", h.Code, formatPct(h.Weight))
		}
		fmt.Println()
	}

	// Equity Curve (last 10 points)
	fmt.Println("📈 Equity Curve (Last 10 Periods)")
	startIdx := len(result.EquityCurve) - 10
	if startIdx < 0 {
		startIdx = 0
	}
	for _, point := range result.EquityCurve[startIdx:] {
		fmt.Printf("%s: %s원 (%+.2f%%)\n",
			point.Date.Format("2006-01-02"),
			formatNumber(int64(point.Equity)),
			point.Return*100)
	}
	fmt.Println()
}
