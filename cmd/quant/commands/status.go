package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/wonny/egp/internal/api/handlers"
	"github.com/wonny/egp/internal/audit"
	"github.com/wonny/egp/pkg/httputil"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [strategy_id...]",
	Short: "API 서버 상태와 최근 실행 조회",
	Long: `실행 중인 API 서버의 health 와 전략별 최근 성공 실행을 조회합니다.

표시 정보:
- Health: 서버 응답 여부
- Latest run: 실행 ID, 기준일, 비중 상위 종목

Example:
  go run ./cmd/quant status
  go run ./cmd/quant status kospi_top10_egp --server http://localhost:8080
  go run ./cmd/quant status kospi_top10_egp --watch 30s
  go run ./cmd/quant status kospi_top10_egp --follow`,
	RunE: runStatus,
}

var (
	// Status flags
	statusServer  string
	statusWatch   time.Duration
	statusFollow  bool
	statusTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(statusCmd)

	// Flags
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "API 서버 주소")
	statusCmd.Flags().DurationVar(&statusWatch, "watch", 0, "갱신 간격 (0 = 1회)")
	statusCmd.Flags().BoolVar(&statusFollow, "follow", false, "새 실행을 websocket 으로 수신 (전략 1개)")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "요청 타임아웃")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := httputil.NewWithTimeout(statusServer, nil, statusTimeout).
		WithRetry(1, 500*time.Millisecond).
		WithRateLimiter(rate.NewLimiter(rate.Limit(5), 5))

	if statusFollow {
		if len(args) != 1 {
			return errors.New("--follow needs exactly one strategy_id")
		}
		return followRuns(cmd.Context(), client, args[0])
	}
	if statusWatch <= 0 {
		return displayStatus(cmd.Context(), client, args)
	}

	ticker := time.NewTicker(statusWatch)
	defer ticker.Stop()

	for {
		// Clear screen (ANSI escape code)
		fmt.Print("\033[H\033[2J")
		fmt.Printf("Refresh: %v | Last update: %s\n\n", statusWatch, time.Now().Format("15:04:05"))
		if err := displayStatus(cmd.Context(), client, args); err != nil {
			PrintError(err.Error())
		}

		select {
		case <-cmd.Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}

func displayStatus(ctx context.Context, client *httputil.Client, strategies []string) error {
	fmt.Printf("=== EGP Status (%s) ===\n", statusServer)

	var health map[string]interface{}
	if err := client.GetJSON(ctx, "/health", &health); err != nil {
		PrintError("Health: unreachable")
		return fmt.Errorf("health check: %w", err)
	}
	PrintSuccess(fmt.Sprintf("Health: %v", health["status"]))
	fmt.Println()

	for _, id := range strategies {
		var rec audit.RunRecord
		err := client.GetJSON(ctx, "/api/strategies/"+url.PathEscape(id)+"/runs/latest", &rec)

		var apiErr *httputil.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
			if apiErr.Kind == "not_found" {
				PrintWarning(fmt.Sprintf("%s: no successful run yet", id))
			} else {
				PrintWarning("server has no run store (database disabled)")
				return nil
			}
			continue
		case err != nil:
			return fmt.Errorf("latest run %s: %w", id, err)
		}

		printRunRecord(&rec)
	}
	return nil
}

// followRuns prints every new successful run the server pushes until interrupted
func followRuns(ctx context.Context, client *httputil.Client, strategy string) error {
	conn, err := client.DialStream(ctx, "/api/strategies/"+url.PathEscape(strategy)+"/runs/stream")
	if err != nil {
		var apiErr *httputil.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return errors.New("server has no run store (database disabled)")
		}
		return fmt.Errorf("open run stream: %w", err)
	}
	defer conn.Close()

	// Ctrl+C → 연결 종료로 ReadJSON 해제
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	fmt.Printf("Following %s on %s (Ctrl+C to stop)\n\n", strategy, statusServer)
	for {
		var ev handlers.RunEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("run stream: %w", err)
		}

		switch ev.Type {
		case "run":
			if ev.Run != nil {
				printRunRecord(ev.Run)
			}
		case "error":
			PrintWarning("server failed to read runs: " + ev.Error)
		}
	}
}

func printRunRecord(rec *audit.RunRecord) {
	PrintDoubleSeparator()
	fmt.Printf("  %s\n", rec.StrategyID)
	PrintSeparator()
	PrintKeyValue("Run ID", rec.RunID, 10)
	PrintKeyValue("Date", rec.RunDate.Format("2006-01-02"), 10)
	PrintKeyValue("Source", rec.Source, 10)
	PrintKeyValue("Stages", strings.Join(rec.Stages, " → "), 10)
	PrintKeyValue("Duration", fmt.Sprintf("%dms", rec.DurationMs), 10)
	if rec.Statistics != nil {
		PrintKeyValue("Sharpe", fmt.Sprintf("%.3f", rec.Statistics.SharpeRatio), 10)
		PrintKeyValue("Beta", fmt.Sprintf("%.3f", rec.Statistics.Beta), 10)
	}
	if rec.Target != nil {
		fmt.Println()
		PrintTableHeader([]string{"Code", "Weight", "Action"}, []int{10, 10, 6})
		for _, pos := range rec.Target.Positions {
			PrintTableRow([]string{pos.Code, formatPct(pos.Weight), string(pos.Action)}, []int{10, 10, 6})
		}
	}
	fmt.Println()
}
