// Package event 提供decision run的事件总线。
// run生命周期与任务调度进展以事件形式发布，API层的实时推送
// 与CLI的进度输出都从这里订阅，互不耦合。
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type 事件类型
type Type string

const (
	// run生命周期事件
	EventRunStarted   Type = "decision.run.started"   // run开始
	EventRunCompleted Type = "decision.run.completed" // run成功结束
	EventRunFailed    Type = "decision.run.failed"    // run失败中止

	// 调度进展事件
	EventTaskScheduled Type = "decision.task.scheduled" // 任务已提交队列
	EventCacheHit      Type = "decision.cache.hit"      // 索引命中，复用外部任务
)

// AllTopic 聚合主题，每个事件都会同时发布到这里
const AllTopic = "decision.events"

// Event decision run事件（对外导出）
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// New 创建事件
func New(eventType Type, runID string, payload any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// Decode 从原始消息体还原事件（对外导出）
func Decode(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// RunStartedPayload run开始事件负载
type RunStartedPayload struct {
	TriggerKind string `json:"trigger_kind"`
	Revision    string `json:"revision"`
	Strategy    string `json:"strategy"`
}

// TaskScheduledPayload 任务调度事件负载
type TaskScheduledPayload struct {
	Label      string `json:"label"`
	TaskID     string `json:"task_id"`
	Kind       string `json:"kind"`
	WorkerType string `json:"worker_type"`
}

// CacheHitPayload 缓存命中事件负载
type CacheHitPayload struct {
	Label     string `json:"label"`
	TaskID    string `json:"task_id"`
	IndexPath string `json:"index_path"`
}

// RunCompletedPayload run结束事件负载
type RunCompletedPayload struct {
	Scheduled  int    `json:"scheduled"`
	CacheHits  int    `json:"cache_hits"`
	TotalTasks int    `json:"total_tasks"`
	Elapsed    string `json:"elapsed"`
}

// RunFailedPayload run失败事件负载
type RunFailedPayload struct {
	Reason string `json:"reason"`
}
