package dto

import "time"

// APIResponse 通用API响应结构
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) APIResponse[any] {
	return APIResponse[any]{
		Code:    code,
		Message: message,
	}
}

// RunSummary decision run摘要信息
type RunSummary struct {
	ID           string     `json:"id"`
	TaskGroupID  string     `json:"task_group_id"`
	TriggerKind  string     `json:"trigger_kind"`
	BuildLevel   int        `json:"build_level"`
	Revision     string     `json:"revision"`
	Branch       string     `json:"branch,omitempty"`
	Strategy     string     `json:"strategy"`
	Status       string     `json:"status"`
	TotalTasks   int        `json:"total_tasks"`
	Scheduled    int        `json:"scheduled"`
	CacheHits    int        `json:"cache_hits"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Duration     string     `json:"duration,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// RunDetail decision run详细信息
type RunDetail struct {
	RunSummary
	Tasks []ScheduledTaskSummary `json:"tasks"`
}

// ScheduledTaskSummary 单条调度明细
type ScheduledTaskSummary struct {
	Label      string `json:"label"`
	Kind       string `json:"kind"`
	WorkerType string `json:"worker_type"`
	TaskID     string `json:"task_id"`
	IndexPath  string `json:"index_path,omitempty"`
	CacheHit   bool   `json:"cache_hit"`
}

// TriggerRunResponse 触发decision run的响应
type TriggerRunResponse struct {
	RunID         string            `json:"run_id"`
	TaskGroupID   string            `json:"task_group_id"`
	Strategy      string            `json:"strategy"`
	TotalTasks    int               `json:"total_tasks"`
	Scheduled     int               `json:"scheduled"`
	CacheHits     int               `json:"cache_hits"`
	Elapsed       string            `json:"elapsed"`
	LabelToTaskID map[string]string `json:"label_to_task_id"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// ListResponse 列表响应
type ListResponse[T any] struct {
	Total   int  `json:"total"`
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}
