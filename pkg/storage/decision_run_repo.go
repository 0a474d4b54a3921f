package storage

import (
	"context"
	"time"
)

// Decision run状态
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// DecisionRun 一次decision run的持久化记录（对外导出）
type DecisionRun struct {
	ID           string     // run唯一标识（UUID）
	TaskGroupID  string     // 外部任务组ID（decision任务自身的任务ID）
	TriggerKind  string     // 触发类型（pull-request/push/tag-release/cron）
	BuildLevel   int        // 构建信任级别（1-3）
	Revision     string     // 触发时的git revision
	Branch       string     // 分支名
	Strategy     string     // 本次run采用的目标选择策略
	Status       string     // running/completed/failed
	TotalTasks   int        // 全图任务数（目标选择+闭包之后）
	Scheduled    int        // 实际创建的任务数
	CacheHits    int        // 通过索引复用的任务数
	ErrorMessage string     // 失败原因（仅failed时有值）
	StartTime    time.Time  // run开始时间
	EndTime      *time.Time // run结束时间（进行中为nil）
	CreateTime   time.Time  // 记录创建时间
}

// DecisionRunCRUDRepository decision run通用CRUD接口（对外导出）
// 提供基础的增删改查操作
type DecisionRunCRUDRepository interface {
	BaseRepository
	// SaveRun 保存run记录（创建或更新，幂等）
	SaveRun(ctx context.Context, run *DecisionRun) error
	// GetRun 根据ID查询run记录
	// 如果不存在返回 nil, nil
	GetRun(ctx context.Context, id string) (*DecisionRun, error)
	// DeleteRun 删除run记录及其调度明细（事务，幂等）
	DeleteRun(ctx context.Context, id string) error
	// ListRuns 按创建时间倒序分页查询run记录
	ListRuns(ctx context.Context, limit, offset int) ([]*DecisionRun, error)
	// CountRuns 统计run记录总数
	CountRuns(ctx context.Context) (int, error)
}

// DecisionRunRepository decision run聚合存储接口（对外导出）
// 将run作为聚合根，统一管理run及其调度明细的事务操作
//
// 幂等性保证：
//   - 所有写操作（Save/Update/Delete）均为幂等操作
//   - 删除不存在的记录不会报错
//   - 更新不存在的记录不会报错
type DecisionRunRepository interface {
	// 继承通用CRUD接口
	DecisionRunCRUDRepository

	// SaveRunWithTasks 保存run记录及其全部调度明细（事务，幂等）
	// 已有的调度明细会被全量替换
	SaveRunWithTasks(ctx context.Context, run *DecisionRun, tasks []*ScheduledTaskRecord) error
	// GetRunWithTasks 根据ID查询run记录及其调度明细
	// 如果不存在返回 nil, nil, nil
	GetRunWithTasks(ctx context.Context, id string) (*DecisionRun, []*ScheduledTaskRecord, error)
	// UpdateRunStatus 更新run状态与失败原因（幂等）
	// status为completed/failed时同时写入结束时间
	UpdateRunStatus(ctx context.Context, id string, status string, errorMsg string) error
	// ListScheduledTasks 查询某次run的全部调度明细（按label排序）
	ListScheduledTasks(ctx context.Context, runID string) ([]*ScheduledTaskRecord, error)

	// Close 关闭底层数据库连接
	Close() error
}
