package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/egp/internal/audit"
	"github.com/wonny/egp/internal/brain"
	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/internal/strategyconfig"
)

// optimizeCmd represents the optimize command
var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "목표 비중 산출 (S1 → S7)",
	Long: `전략 파일의 유니버스에 대해 전체 파이프라인을 실행합니다.

S1 → S2 → S3 → S4 → S5 → S6 → S7

각 단계:
- S1: Prices (가격 조회 → 수익률 패널)
- S2: Quality (결측/관측수 점검, winsorize)
- S3: Factors (단일 지수 회귀: α, β, σ²ε)
- S4: Expected (기대수익률)
- S5: Optimize (EGP 랭킹 → 제약 투영)
- S6: Statistics (포트폴리오 수익률/분산/베타/샤프)
- S7: Portfolio (목표 포트폴리오)

Flags:
  --date   기준일 (기본: 오늘)
  --save   실행 결과를 audit.allocation_runs 에 저장
  --json   JSON 출력

Example:
  go run ./cmd/quant optimize
  go run ./cmd/quant optimize --date 2024-06-28 --save
  go run ./cmd/quant optimize --strategy config/strategy/kospi_top10.yaml --json`,
	RunE: runOptimize,
}

var (
	// Flags
	optimizeDate string
	optimizeSave bool
	optimizeJSON bool
)

func init() {
	rootCmd.AddCommand(optimizeCmd)

	// Flags
	optimizeCmd.Flags().StringVar(&optimizeDate, "date", "", "기준일 (YYYY-MM-DD, 기본: 오늘)")
	optimizeCmd.Flags().BoolVar(&optimizeSave, "save", false, "실행 결과 저장")
	optimizeCmd.Flags().BoolVar(&optimizeJSON, "json", false, "JSON 출력")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	runDate, err := parseDateFlag(optimizeDate, time.Now())
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer a.close()

	strategy, yamlData, err := a.strategy()
	if err != nil {
		return err
	}
	hash, err := strategyconfig.Hash(strategy)
	if err != nil {
		return err
	}

	runConfig := brain.RunConfig{
		Date:       runDate,
		RunID:      brain.GenerateRunID(),
		Strategy:   strategy,
		ConfigHash: hash,
		Source:     "cli",
	}

	if !optimizeJSON {
		fmt.Println("=== EGP Allocator ===")
		fmt.Printf("\n📅 Date: %s\n", runDate.Format("2006-01-02"))
		fmt.Printf("📋 Strategy: %s (%s)\n", strategy.Meta.StrategyID, hash[:12])
		fmt.Printf("🚀 Run: %s\n\n", runConfig.RunID)
	}

	// Execute pipeline
	result, runErr := a.orchestrator.Run(cmd.Context(), runConfig)

	if optimizeSave {
		snapshot, err := strategyconfig.NewDecisionSnapshot(strategy, yamlData, getGitSHA(),
			"prices_"+runDate.Format("20060102"))
		if err != nil {
			return err
		}
		if err := a.runs.SaveRun(cmd.Context(), audit.NewRunRecord(result, "cli", snapshot)); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("pipeline run failed [%s]: %w", contracts.ErrorKind(runErr), runErr)
	}

	if optimizeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Construction)
	}
	printRunResult(result)
	return nil
}

func printRunResult(result *brain.RunResult) {
	fmt.Println("✅ Pipeline Run Completed")
	fmt.Println()

	// Summary
	fmt.Printf("Run ID: %s\n", result.RunID)
	fmt.Printf("Date: %s\n", result.Date.Format("2006-01-02"))
	fmt.Printf("Duration: %.2fs\n", result.Duration.Seconds())
	fmt.Println()

	// Stages
	fmt.Println("Completed Stages:")
	for _, stage := range result.CompletedStages {
		fmt.Printf("  ✅ %s\n", stage)
	}
	fmt.Println()

	c := result.Construction
	if result.Quality != nil {
		fmt.Printf("Observations: %d\n", result.Quality.Observations)
	}
	if len(c.Excluded) > 0 {
		fmt.Printf("Excluded: %s\n", strings.Join(c.Excluded, ", "))
	}
	fmt.Printf("Cutoff C0: %.6f (iterations: %d)\n", c.Result.Ranking.C0, c.Result.Iterations)
	fmt.Println()

	PrintTableHeader([]string{"Code", "Weight", "Z", "Beta", "Action"}, []int{10, 10, 10, 8, 6})
	for _, pos := range c.Target.Positions {
		PrintTableRow([]string{
			pos.Code,
			formatPct(pos.Weight),
			fmt.Sprintf("%.4f", pos.Score),
			fmt.Sprintf("%.3f", pos.Beta),
			string(pos.Action),
		}, []int{10, 10, 10, 8, 6})
	}
	fmt.Println()

	s := c.Statistics
	PrintKeyValue("Return", formatPct(s.PortfolioReturn), 12)
	PrintKeyValue("Std", formatPct(s.PortfolioStd), 12)
	PrintKeyValue("Beta", fmt.Sprintf("%.3f", s.Beta), 12)
	PrintKeyValue("Sharpe", fmt.Sprintf("%.3f", s.SharpeRatio), 12)
	PrintKeyValue("Positions", fmt.Sprintf("%d", s.NonZeroPositions), 12)
}

// parseDateFlag parses YYYY-MM-DD, falling back to def's calendar day
func parseDateFlag(s string, def time.Time) (time.Time, error) {
	if s == "" {
		y, m, d := def.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format %q: %w", s, err)
	}
	return parsed, nil
}

func getGitSHA() string {
	cmd := exec.Command("git", "rev-parse", "--short", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(output))
}
