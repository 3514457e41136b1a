// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/Windrune/NovelForge/internal/app"
)

func main() {
	log.Println("🚀 启动 NovelForge 叙事引擎...")

	application := app.New()
	if err := application.Initialize(); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	defer application.Cleanup()
	log.Println("✅ 所有服务初始化完成")

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("服务器运行失败: %v", err)
	}
}
