package dao

import (
	"database/sql"
	"time"
)

// DecisionRunDAO decision_run表的数据访问对象（内部使用）
type DecisionRunDAO struct {
	ID           string         `db:"id"`
	TaskGroupID  string         `db:"task_group_id"`
	TriggerKind  string         `db:"trigger_kind"`
	BuildLevel   int            `db:"build_level"`
	Revision     string         `db:"revision"`
	Branch       string         `db:"branch"`
	Strategy     string         `db:"strategy"`
	Status       string         `db:"status"`
	TotalTasks   int            `db:"total_tasks"`
	Scheduled    int            `db:"scheduled_count"`
	CacheHits    int            `db:"cache_hits"`
	ErrorMessage sql.NullString `db:"error_message"`
	StartTime    sql.NullTime   `db:"start_time"`
	EndTime      sql.NullTime   `db:"end_time"`
	CreateTime   time.Time      `db:"create_time"`
}
