// internal/api/router.go
package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 装配全部路由
func SetupRouter(handler *Handler, logger *zap.Logger, debugMode bool) *gin.Engine {
	if !debugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(CORSMiddleware())
	router.Use(RequestLogMiddleware(logger))

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/health", handler.Health)

		apiGroup.GET("/settings/llm", handler.GetLLMStatus)
		apiGroup.PUT("/settings/llm", handler.UpdateLLMSettings)

		sessions := apiGroup.Group("/sessions")
		{
			sessions.POST("", handler.CreateSession)
			sessions.GET("/:id", handler.GetSession)
			sessions.GET("/:id/summary", handler.GetSessionSummary)
			sessions.POST("/:id/action", handler.ProcessAction)
			sessions.PUT("/:id/history/:idx", handler.EditHistory)
			sessions.POST("/:id/regenerate", handler.Regenerate)

			sessions.POST("/:id/events", handler.GenerateEvent)
			sessions.GET("/:id/events", handler.GetEvents)
			sessions.POST("/:id/events/:eid/terminate", handler.TerminateEvent)
			sessions.POST("/:id/rounds", handler.StartNewRound)
		}
	}

	// 游戏WebSocket：流式动作处理
	router.GET("/ws/sessions/:id", handler.GameSocket)

	return router
}
