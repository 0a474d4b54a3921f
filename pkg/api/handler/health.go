package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/decision-engine/pkg/api/dto"
	"github.com/LENAX/decision-engine/pkg/core/engine"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	version   string
	startTime time.Time
	engine    *engine.Engine
}

// NewHealthHandler 创建HealthHandler
func NewHealthHandler(version string, eng *engine.Engine) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		engine:    eng,
	}
}

// Health 健康检查
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	uptime := time.Since(h.startTime)

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    formatDuration(uptime),
		Timestamp: time.Now().Format(time.RFC3339),
	}))
}

// Ready 就绪检查，引擎启动后才算就绪
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.engine == nil || !h.engine.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(503, "引擎未启动"))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"status": "ready",
	}))
}
