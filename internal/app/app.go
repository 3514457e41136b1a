// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Windrune/NovelForge/internal/api"
	"github.com/Windrune/NovelForge/internal/config"
	"github.com/Windrune/NovelForge/internal/di"
	"github.com/Windrune/NovelForge/internal/logger"
	"github.com/Windrune/NovelForge/internal/services"
	"github.com/Windrune/NovelForge/internal/storage"
)

// App 聚合应用的全部运行时组件
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Container *di.Container
	Router    *gin.Engine

	srv *http.Server
}

// New 创建未初始化的应用实例
func New() *App {
	return &App{
		Container: di.GetContainer(),
	}
}

// Initialize 按依赖顺序装配所有服务并注册到容器
// 顺序：配置 -> 日志 -> 存储 -> 锁 -> LLM -> 会话 -> 事件 -> 游戏 -> 路由
func (a *App) Initialize() error {
	baseConfig, err := config.Load()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	a.Config = baseConfig

	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		return fmt.Errorf("初始化配置系统失败: %w", err)
	}

	a.Logger = logger.New(baseConfig.LogDir, baseConfig.DebugMode)

	fileStorage, err := storage.NewFileStorage(baseConfig.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}

	lockManager := services.NewLockManager()
	llmService := services.NewLLMService(a.Logger)
	sessionService := services.NewSessionService(fileStorage, lockManager, a.Logger)
	eventDecider := services.NewLLMEventDecider(llmService, a.Logger)
	eventService := services.NewEventService(sessionService, eventDecider, a.Logger)
	gameService := services.NewGameService(sessionService, llmService, a.Logger)

	a.Container.Register("storage", fileStorage)
	a.Container.Register("locks", lockManager)
	a.Container.Register("llm", llmService)
	a.Container.Register("sessions", sessionService)
	a.Container.Register("events", eventService)
	a.Container.Register("game", gameService)

	if err := a.healthCheck(); err != nil {
		return err
	}

	handler := api.NewHandler(sessionService, gameService, eventService, llmService, a.Logger)
	a.Router = api.SetupRouter(handler, a.Logger, baseConfig.DebugMode)

	a.Logger.Info("应用初始化完成",
		zap.String("data_dir", baseConfig.DataDir),
		zap.Bool("debug_mode", baseConfig.DebugMode),
		zap.Int("services", len(a.Container.GetNames())))

	return nil
}

// healthCheck 确认关键服务均已注册
func (a *App) healthCheck() error {
	criticalServices := []string{"llm", "sessions", "events", "game"}

	for _, name := range criticalServices {
		if service := a.Container.Get(name); service == nil {
			return fmt.Errorf("关键服务未注册: %s", name)
		}
	}
	return nil
}

// Run 启动HTTP服务器并阻塞直到 ctx 取消，然后优雅关闭
func (a *App) Run(ctx context.Context) error {
	a.srv = &http.Server{
		Addr:    ":" + a.Config.Port,
		Handler: a.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	a.Logger.Info("服务器已启动", zap.String("port", a.Config.Port))

	select {
	case err := <-errCh:
		return fmt.Errorf("启动服务器失败: %w", err)
	case <-ctx.Done():
	}

	a.Logger.Info("正在关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}

	a.Logger.Info("服务器已优雅关闭")
	return nil
}

// Cleanup 释放资源
func (a *App) Cleanup() {
	if a.Logger != nil {
		a.Logger.Sync()
	}
}
