package main

import (
	"os"
	_ "time/tzdata" // 전략 시간대 (Asia/Seoul) 를 tzdata 없는 이미지에서도 로드

	"github.com/wonny/egp/cmd/quant/commands"
)

// main is the entry point for the EGP allocator CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/quant [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
