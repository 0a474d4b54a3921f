package dao

import (
	"database/sql"
	"time"
)

// ScheduledTaskDAO scheduled_task表的数据访问对象（内部使用）
type ScheduledTaskDAO struct {
	ID         string         `db:"id"`
	RunID      string         `db:"run_id"`
	Label      string         `db:"label"`
	Kind       string         `db:"kind"`
	WorkerType string         `db:"worker_type"`
	TaskID     string         `db:"task_id"`
	IndexPath  sql.NullString `db:"index_path"`
	CacheHit   bool           `db:"cache_hit"`
	CreateTime time.Time      `db:"create_time"`
}
