package handler

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/decision-engine/pkg/api/dto"
	"github.com/LENAX/decision-engine/pkg/core/engine"
	"github.com/LENAX/decision-engine/pkg/storage"
)

// RunHandler decision run API处理器
type RunHandler struct {
	engine *engine.Engine
}

// NewRunHandler 创建RunHandler
func NewRunHandler(eng *engine.Engine) *RunHandler {
	return &RunHandler{engine: eng}
}

// Trigger 触发一次decision run
// POST /api/v1/decisions
func (h *RunHandler) Trigger(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.TriggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}

	params := req.ToParameters()
	if err := params.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("run参数无效: %v", err)))
		return
	}

	if !h.engine.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(503, "引擎未启动"))
		return
	}

	result, err := h.engine.RunDecision(ctx, params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("decision run失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.TriggerRunResponse{
		RunID:         result.RunID,
		TaskGroupID:   result.TaskGroupID,
		Strategy:      result.Strategy,
		TotalTasks:    result.TotalTasks,
		Scheduled:     result.Scheduled,
		CacheHits:     result.CacheHits,
		Elapsed:       result.Elapsed.String(),
		LabelToTaskID: result.LabelToTaskID,
	}))
}

// List 分页列出decision run
// GET /api/v1/decisions
func (h *RunHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var query dto.ListQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("查询参数错误: %v", err)))
		return
	}

	repo := h.engine.GetRepository()
	if repo == nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, "运行历史存储未配置"))
		return
	}

	limit := query.GetDefaultLimit()
	offset := query.Offset

	var (
		runs  []*storage.DecisionRun
		total int
		err   error
	)
	if query.Status == "" {
		total, err = repo.CountRuns(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("统计run失败: %v", err)))
			return
		}
		runs, err = repo.ListRuns(ctx, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询run失败: %v", err)))
			return
		}
	} else {
		// 状态过滤在内存中做：存储接口只提供时间序分页
		all, err := repo.CountRuns(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("统计run失败: %v", err)))
			return
		}
		everything, err := repo.ListRuns(ctx, all, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询run失败: %v", err)))
			return
		}
		filtered := make([]*storage.DecisionRun, 0, len(everything))
		for _, run := range everything {
			if run.Status == query.Status {
				filtered = append(filtered, run)
			}
		}
		total = len(filtered)
		if offset >= total {
			runs = nil
		} else {
			end := offset + limit
			if end > total {
				end = total
			}
			runs = filtered[offset:end]
		}
	}

	items := make([]dto.RunSummary, 0, len(runs))
	for _, run := range runs {
		items = append(items, runSummaryFrom(run))
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.RunSummary]{
		Total:   total,
		Items:   items,
		HasMore: offset+limit < total,
	}))
}

// Get 获取decision run详情
// GET /api/v1/decisions/:id
func (h *RunHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	repo := h.engine.GetRepository()
	if repo == nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, "运行历史存储未配置"))
		return
	}

	run, records, err := repo.GetRunWithTasks(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询run失败: %v", err)))
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "run不存在"))
		return
	}

	tasks := make([]dto.ScheduledTaskSummary, 0, len(records))
	for _, rec := range records {
		tasks = append(tasks, dto.ScheduledTaskSummary{
			Label:      rec.Label,
			Kind:       rec.Kind,
			WorkerType: rec.WorkerType,
			TaskID:     rec.TaskID,
			IndexPath:  rec.IndexPath,
			CacheHit:   rec.CacheHit,
		})
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.RunDetail{
		RunSummary: runSummaryFrom(run),
		Tasks:      tasks,
	}))
}

// GetGraph 获取decision run的完整任务图
// GET /api/v1/decisions/:id/graph
func (h *RunHandler) GetGraph(c *gin.Context) {
	id := c.Param("id")

	data, err := h.engine.ReadGraphArtifact(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "任务图工件不存在"))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("读取任务图失败: %v", err)))
		return
	}

	c.Data(http.StatusOK, "application/json", data)
}

// runSummaryFrom 把存储记录转换为API摘要
func runSummaryFrom(run *storage.DecisionRun) dto.RunSummary {
	summary := dto.RunSummary{
		ID:           run.ID,
		TaskGroupID:  run.TaskGroupID,
		TriggerKind:  run.TriggerKind,
		BuildLevel:   run.BuildLevel,
		Revision:     run.Revision,
		Branch:       run.Branch,
		Strategy:     run.Strategy,
		Status:       run.Status,
		TotalTasks:   run.TotalTasks,
		Scheduled:    run.Scheduled,
		CacheHits:    run.CacheHits,
		StartedAt:    run.StartTime,
		FinishedAt:   run.EndTime,
		ErrorMessage: run.ErrorMessage,
	}
	if run.EndTime != nil {
		summary.Duration = formatDuration(run.EndTime.Sub(run.StartTime))
	}
	return summary
}

// formatDuration 格式化时长
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
