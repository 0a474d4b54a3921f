package storage

import "time"

// ScheduledTaskRecord 一次run中调度或复用的任务明细（对外导出）
// CacheHit为true表示任务未被创建，而是通过索引命中复用了既有任务
type ScheduledTaskRecord struct {
	ID         string    // 记录唯一标识（UUID）
	RunID      string    // 所属run的ID
	Label      string    // 任务label（run内唯一）
	Kind       string    // 任务所属kind
	WorkerType string    // worker类型
	TaskID     string    // 外部队列任务ID
	IndexPath  string    // 命中或注册的索引路径（非缓存任务为空）
	CacheHit   bool      // 是否为索引命中复用
	CreateTime time.Time // 记录创建时间
}
