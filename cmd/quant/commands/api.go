package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/egp/internal/api"
	"github.com/wonny/egp/internal/api/handlers"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

계산 엔드포인트는 DB 없이 동작하고, 실행 이력 조회는 DB가 있을 때만 등록됩니다.

Endpoints:
  GET  /health                                - Health check
  GET  /metrics                               - Prometheus metrics
  POST /api/factors                           - 단일 지수 팩터 추정
  POST /api/optimize                          - EGP 랭킹 + 제약 투영
  POST /api/construct                         - 패널 → 목표 포트폴리오
  GET  /api/runs/{id}                         - 실행 기록 조회 (DB)
  GET  /api/strategies/{strategy}/runs        - 실행 기록 목록 (DB)
  GET  /api/strategies/{strategy}/runs/latest - 최근 성공 실행 (DB)

Example:
  go run ./cmd/quant api
  go run ./cmd/quant api --port 8080`,
	RunE: runAPIServer,
}

var (
	apiPort string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (기본: PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== EGP API Server ===")

	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer a.close()

	// Override port if flag is set
	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	routerCfg := api.RouterConfig{
		Allocation:   handlers.NewAllocationHandler(a.estimator, a.optimizer, a.orchestrator, a.log),
		Metrics:      a.metrics,
		Logger:       a.log,
		RateLimit:    a.cfg.API.RateLimit,
		RateBurst:    a.cfg.API.RateBurst,
		MaxBodyBytes: a.cfg.API.MaxBodyBytes,
	}
	if a.runs != nil {
		if err := a.runs.EnsureSchema(cmd.Context()); err != nil {
			return fmt.Errorf("ensure audit schema: %w", err)
		}
		routerCfg.Runs = handlers.NewRunHandler(a.runs, a.log)
	}

	server := api.New(a.cfg, a.log, api.NewRouter(routerCfg))

	// Start server with graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	if routerCfg.Runs == nil {
		PrintWarning("Database disabled: /api/runs endpoints are not registered")
	}
	fmt.Println("Press Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	a.log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	a.log.Info("Server stopped")
	return nil
}
