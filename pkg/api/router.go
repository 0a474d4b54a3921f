package api

import (
	"github.com/gin-gonic/gin"

	"github.com/LENAX/decision-engine/pkg/api/handler"
	"github.com/LENAX/decision-engine/pkg/api/middleware"
	"github.com/LENAX/decision-engine/pkg/core/engine"
)

// SetupRouter 设置路由
func SetupRouter(eng *engine.Engine, version string) *gin.Engine {
	// 设置gin模式
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS())

	// 创建handlers
	runHandler := handler.NewRunHandler(eng)
	healthHandler := handler.NewHealthHandler(version, eng)

	// 健康检查路由（不带前缀）
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API v1 路由组
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Health)

		// decision run路由
		decisions := v1.Group("/decisions")
		{
			decisions.POST("", runHandler.Trigger)
			decisions.GET("", runHandler.List)
			decisions.GET("/:id", runHandler.Get)
			decisions.GET("/:id/graph", runHandler.GetGraph)
			decisions.GET("/:id/events", runHandler.Events)
		}
	}

	return router
}
