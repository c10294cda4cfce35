package commands

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/egp/internal/scheduler"
	"github.com/wonny/egp/internal/scheduler/jobs"
	"github.com/wonny/egp/internal/strategyconfig"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "스케줄러 관리",
	Long: `전략별 정기 리밸런싱 스케줄러를 관리합니다.

schedule.enabled 인 전략 파일마다 rebalance_<strategy_id> 작업이 등록되고,
실행 결과는 audit.allocation_runs 에 저장됩니다.

Subcommands:
  start   - 스케줄러 시작
  list    - 등록된 작업과 다음 실행 시각
  run     - 특정 작업 즉시 실행 (동기)

Example:
  go run ./cmd/quant scheduler start
  go run ./cmd/quant scheduler start --strategies "config/strategy/*.yaml"
  go run ./cmd/quant scheduler list
  go run ./cmd/quant scheduler run rebalance_kospi_top10_egp`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		Long: `스케줄러를 시작하고 등록된 모든 작업을 스케줄합니다.
실패한 작업은 도메인 오류(데이터 부족, 제약 불가능 등)를 제외하고 재시도합니다.

스케줄러는 Ctrl+C로 종료할 수 있습니다.`,
		RunE: runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "등록된 작업 목록",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "특정 작업 즉시 실행",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}

	// Flags
	schedulerStrategies string
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)

	schedulerCmd.PersistentFlags().StringVar(&schedulerStrategies, "strategies", "config/strategy/*.yaml", "전략 파일 glob")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== EGP Scheduler ===")

	// Initialize dependencies
	a, sched, err := initScheduler(cmd)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer a.close()

	// Start scheduler
	sched.Start()

	fmt.Println("\n✅ Scheduler started successfully")
	printJobs(sched)
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()

	stats := sched.GetJobStats()
	for _, name := range sched.GetAllJobs() {
		stat := stats[name]
		fmt.Printf("📊 %s: %d runs, %d ok, %d failed\n", name, stat.TotalRuns, stat.SuccessCount, stat.FailureCount)
		if stat.LastErrorKind != "" {
			fmt.Printf("   last failure: %s\n", stat.LastErrorKind)
		}
	}
	fmt.Println("Scheduler stopped")

	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	a, sched, err := initScheduler(cmd)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer a.close()

	// 다음 실행 시각은 cron이 시작된 뒤에만 계산됨
	sched.Start()
	defer sched.Stop()

	printJobs(sched)
	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	a, sched, err := initScheduler(cmd)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer a.close()
	defer sched.Stop()

	fmt.Printf("Running job: %s\n", jobName)

	result, err := sched.RunJob(jobName)
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}
	if !result.Success {
		PrintError(fmt.Sprintf("%s failed after %d attempt(s): %s", jobName, result.Attempts, result.Error))
		return fmt.Errorf("job %s failed", jobName)
	}

	PrintSuccess(fmt.Sprintf("%s completed in %s", jobName, result.Duration.Round(time.Millisecond)))
	return nil
}

func printJobs(sched *scheduler.Scheduler) {
	fmt.Println("Registered jobs:")
	for _, jobName := range sched.GetAllJobs() {
		next, err := sched.NextRun(jobName)
		if err != nil || next.IsZero() {
			fmt.Printf("  - %s\n", jobName)
			continue
		}
		fmt.Printf("  - %s (next: %s)\n", jobName, next.Format("2006-01-02 15:04:05 MST"))
	}
}

func initScheduler(cmd *cobra.Command) (*app, *scheduler.Scheduler, error) {
	// 1. Wire pipeline (스케줄 실행은 가격 DB 필수)
	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return nil, nil, err
	}
	if err := a.runs.EnsureSchema(cmd.Context()); err != nil {
		a.close()
		return nil, nil, fmt.Errorf("ensure audit schema: %w", err)
	}

	// 2. Create scheduler
	opts := scheduler.DefaultOptions()
	opts.Timeout = a.cfg.Optimizer.ScheduleTimeout
	opts.Metrics = a.metrics
	sched := scheduler.New(a.log, opts)

	// 3. Register one rebalance job per enabled strategy
	paths, err := strategyFiles()
	if err != nil {
		a.close()
		return nil, nil, err
	}
	for _, path := range paths {
		strategy, yamlData, err := strategyconfig.Load(path)
		if err != nil {
			a.close()
			return nil, nil, fmt.Errorf("load strategy %s: %w", path, err)
		}
		if !strategy.Schedule.Enabled {
			a.log.WithField("strategy", strategy.Meta.StrategyID).Info("Schedule disabled, skipping")
			continue
		}

		job, err := jobs.NewRebalanceJob(strategy, yamlData, a.orchestrator, a.runs, a.log)
		if err != nil {
			a.close()
			return nil, nil, err
		}
		if err := sched.AddJob(job); err != nil {
			a.close()
			return nil, nil, err
		}
	}

	return a, sched, nil
}

// strategyFiles returns --strategy when given, otherwise every file matching --strategies
func strategyFiles() ([]string, error) {
	if strategyPath != "" {
		return []string{strategyPath}, nil
	}
	paths, err := filepath.Glob(schedulerStrategies)
	if err != nil {
		return nil, fmt.Errorf("bad --strategies pattern: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no strategy files match %s", schedulerStrategies)
	}
	return paths, nil
}
