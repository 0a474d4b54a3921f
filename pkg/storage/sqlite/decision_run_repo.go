package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LENAX/decision-engine/pkg/storage"
	"github.com/LENAX/decision-engine/pkg/storage/dao"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DecisionRunRepo decision run聚合Repository的SQLite实现（对外导出）
type DecisionRunRepo struct {
	db      *sqlx.DB
	dialect *SQLiteDialect
}

// NewDecisionRunRepo 创建decision run Repository实例（对外导出）
func NewDecisionRunRepo(db *sqlx.DB) (*DecisionRunRepo, error) {
	repo := &DecisionRunRepo{
		db:      db,
		dialect: NewSQLiteDialect(),
	}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return repo, nil
}

// NewDecisionRunRepoFromDSN 通过DSN创建decision run Repository实例（对外导出）
func NewDecisionRunRepoFromDSN(dsn string) (*DecisionRunRepo, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	// 配置SQLite优化
	dialect := NewSQLiteDialect()
	for _, pragma := range dialect.ConfigureDB() {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("配置SQLite失败: %w", err)
		}
	}

	return NewDecisionRunRepo(db)
}

// GetDB 获取底层数据库连接（对外导出）
func (r *DecisionRunRepo) GetDB() *sqlx.DB {
	return r.db
}

// Close 关闭数据库连接（对外导出）
func (r *DecisionRunRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// initSchema 初始化数据库表结构
func (r *DecisionRunRepo) initSchema() error {
	createRunSQL := `
	CREATE TABLE IF NOT EXISTS decision_run (
		id TEXT PRIMARY KEY,
		task_group_id TEXT NOT NULL DEFAULT '',
		trigger_kind TEXT NOT NULL,
		build_level INTEGER NOT NULL DEFAULT 1,
		revision TEXT NOT NULL,
		branch TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		total_tasks INTEGER NOT NULL DEFAULT 0,
		scheduled_count INTEGER NOT NULL DEFAULT 0,
		cache_hits INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		start_time DATETIME,
		end_time DATETIME,
		create_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_decision_run_revision ON decision_run(revision);
	CREATE INDEX IF NOT EXISTS idx_decision_run_status ON decision_run(status);
	`

	createScheduledSQL := `
	CREATE TABLE IF NOT EXISTS scheduled_task (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		label TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		worker_type TEXT NOT NULL DEFAULT '',
		task_id TEXT NOT NULL,
		index_path TEXT,
		cache_hit INTEGER NOT NULL DEFAULT 0,
		create_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES decision_run(id) ON DELETE CASCADE,
		UNIQUE(run_id, label)
	);
	CREATE INDEX IF NOT EXISTS idx_scheduled_task_run_id ON scheduled_task(run_id);
	`

	for _, ddl := range []string{createRunSQL, createScheduledSQL} {
		if _, err := r.db.Exec(ddl); err != nil {
			return fmt.Errorf("执行SQL失败: %w", err)
		}
	}

	return nil
}

// ========== run记录相关操作 ==========

// SaveRun 保存run记录（创建或更新，幂等）
func (r *DecisionRunRepo) SaveRun(ctx context.Context, run *storage.DecisionRun) error {
	query := r.dialect.UpsertSQL("decision_run", runColumns, "id", runUpdateColumns)
	if _, err := r.db.NamedExecContext(ctx, query, runToDAO(run)); err != nil {
		return fmt.Errorf("保存run记录失败: %w", err)
	}
	return nil
}

// saveRunInTx 在事务中保存run记录
func (r *DecisionRunRepo) saveRunInTx(ctx context.Context, tx *sqlx.Tx, run *storage.DecisionRun) error {
	query := r.dialect.UpsertSQL("decision_run", runColumns, "id", runUpdateColumns)
	if _, err := tx.NamedExecContext(ctx, query, runToDAO(run)); err != nil {
		return fmt.Errorf("保存run记录失败: %w", err)
	}
	return nil
}

// GetRun 根据ID查询run记录
// 如果不存在返回 nil, nil
func (r *DecisionRunRepo) GetRun(ctx context.Context, id string) (*storage.DecisionRun, error) {
	var runDAO dao.DecisionRunDAO
	query := `SELECT id, task_group_id, trigger_kind, build_level, revision, branch, strategy,
	          status, total_tasks, scheduled_count, cache_hits, error_message, start_time,
	          end_time, create_time FROM decision_run WHERE id = ?`
	if err := r.db.GetContext(ctx, &runDAO, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("查询run记录失败: %w", err)
	}
	return daoToRun(&runDAO), nil
}

// ListRuns 按创建时间倒序分页查询run记录
func (r *DecisionRunRepo) ListRuns(ctx context.Context, limit, offset int) ([]*storage.DecisionRun, error) {
	var runDAOs []dao.DecisionRunDAO
	query := `SELECT id, task_group_id, trigger_kind, build_level, revision, branch, strategy,
	          status, total_tasks, scheduled_count, cache_hits, error_message, start_time,
	          end_time, create_time FROM decision_run
	          ORDER BY create_time DESC, id DESC LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, &runDAOs, query, limit, offset); err != nil {
		return nil, fmt.Errorf("查询run列表失败: %w", err)
	}

	runs := make([]*storage.DecisionRun, 0, len(runDAOs))
	for i := range runDAOs {
		runs = append(runs, daoToRun(&runDAOs[i]))
	}
	return runs, nil
}

// CountRuns 统计run记录总数
func (r *DecisionRunRepo) CountRuns(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM decision_run`); err != nil {
		return 0, fmt.Errorf("统计run记录失败: %w", err)
	}
	return count, nil
}

// UpdateRunStatus 更新run状态与失败原因（幂等）
// status为completed/failed时同时写入结束时间
func (r *DecisionRunRepo) UpdateRunStatus(ctx context.Context, id string, status string, errorMsg string) error {
	var errMsg sql.NullString
	if errorMsg != "" {
		errMsg.Valid = true
		errMsg.String = errorMsg
	}

	var endTime sql.NullTime
	if status != storage.RunStatusRunning {
		endTime.Valid = true
		endTime.Time = time.Now()
	}

	query := `UPDATE decision_run SET status = ?, error_message = ?, end_time = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, errMsg, endTime, id); err != nil {
		return fmt.Errorf("更新run状态失败: %w", err)
	}
	return nil
}

// DeleteRun 删除run记录及其调度明细（事务，幂等）
func (r *DecisionRunRepo) DeleteRun(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_task WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("删除调度明细失败: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM decision_run WHERE id = ?`, id); err != nil {
		return fmt.Errorf("删除run记录失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// ========== 聚合操作 ==========

// SaveRunWithTasks 保存run记录及其全部调度明细（事务，幂等）
// 已有的调度明细会被全量替换
func (r *DecisionRunRepo) SaveRunWithTasks(ctx context.Context, run *storage.DecisionRun, tasks []*storage.ScheduledTaskRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	if err := r.saveRunInTx(ctx, tx, run); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_task WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("删除旧调度明细失败: %w", err)
	}

	insertSQL := `
	INSERT INTO scheduled_task (id, run_id, label, kind, worker_type, task_id, index_path, cache_hit, create_time)
	VALUES (:id, :run_id, :label, :kind, :worker_type, :task_id, :index_path, :cache_hit, :create_time)
	`
	for _, rec := range tasks {
		if _, err := tx.NamedExecContext(ctx, insertSQL, recordToDAO(run.ID, rec)); err != nil {
			return fmt.Errorf("保存调度明细 %s 失败: %w", rec.Label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// GetRunWithTasks 根据ID查询run记录及其调度明细
// 如果不存在返回 nil, nil, nil
func (r *DecisionRunRepo) GetRunWithTasks(ctx context.Context, id string) (*storage.DecisionRun, []*storage.ScheduledTaskRecord, error) {
	run, err := r.GetRun(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if run == nil {
		return nil, nil, nil
	}

	tasks, err := r.ListScheduledTasks(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return run, tasks, nil
}

// ListScheduledTasks 查询某次run的全部调度明细（按label排序）
func (r *DecisionRunRepo) ListScheduledTasks(ctx context.Context, runID string) ([]*storage.ScheduledTaskRecord, error) {
	var taskDAOs []dao.ScheduledTaskDAO
	query := `SELECT id, run_id, label, kind, worker_type, task_id, index_path, cache_hit, create_time
	          FROM scheduled_task WHERE run_id = ? ORDER BY label`
	if err := r.db.SelectContext(ctx, &taskDAOs, query, runID); err != nil {
		return nil, fmt.Errorf("查询调度明细失败: %w", err)
	}

	records := make([]*storage.ScheduledTaskRecord, 0, len(taskDAOs))
	for i := range taskDAOs {
		records = append(records, daoToRecord(&taskDAOs[i]))
	}
	return records, nil
}

// ========== DAO转换 ==========

var runColumns = []string{
	"id", "task_group_id", "trigger_kind", "build_level", "revision", "branch",
	"strategy", "status", "total_tasks", "scheduled_count", "cache_hits",
	"error_message", "start_time", "end_time", "create_time",
}

// create_time不参与冲突更新，保留首次写入的值
var runUpdateColumns = []string{
	"task_group_id", "trigger_kind", "build_level", "revision", "branch",
	"strategy", "status", "total_tasks", "scheduled_count", "cache_hits",
	"error_message", "start_time", "end_time",
}

// runToDAO 将DecisionRun转换为DAO对象
func runToDAO(run *storage.DecisionRun) *dao.DecisionRunDAO {
	d := &dao.DecisionRunDAO{
		ID:          run.ID,
		TaskGroupID: run.TaskGroupID,
		TriggerKind: run.TriggerKind,
		BuildLevel:  run.BuildLevel,
		Revision:    run.Revision,
		Branch:      run.Branch,
		Strategy:    run.Strategy,
		Status:      run.Status,
		TotalTasks:  run.TotalTasks,
		Scheduled:   run.Scheduled,
		CacheHits:   run.CacheHits,
		CreateTime:  run.CreateTime,
	}
	if run.ErrorMessage != "" {
		d.ErrorMessage.Valid = true
		d.ErrorMessage.String = run.ErrorMessage
	}
	if !run.StartTime.IsZero() {
		d.StartTime.Valid = true
		d.StartTime.Time = run.StartTime
	}
	if run.EndTime != nil {
		d.EndTime.Valid = true
		d.EndTime.Time = *run.EndTime
	}
	if d.CreateTime.IsZero() {
		d.CreateTime = time.Now()
	}
	return d
}

// daoToRun 将DAO对象转换为DecisionRun
func daoToRun(d *dao.DecisionRunDAO) *storage.DecisionRun {
	run := &storage.DecisionRun{
		ID:          d.ID,
		TaskGroupID: d.TaskGroupID,
		TriggerKind: d.TriggerKind,
		BuildLevel:  d.BuildLevel,
		Revision:    d.Revision,
		Branch:      d.Branch,
		Strategy:    d.Strategy,
		Status:      d.Status,
		TotalTasks:  d.TotalTasks,
		Scheduled:   d.Scheduled,
		CacheHits:   d.CacheHits,
		CreateTime:  d.CreateTime,
	}
	if d.ErrorMessage.Valid {
		run.ErrorMessage = d.ErrorMessage.String
	}
	if d.StartTime.Valid {
		run.StartTime = d.StartTime.Time
	}
	if d.EndTime.Valid {
		t := d.EndTime.Time
		run.EndTime = &t
	}
	return run
}

// recordToDAO 将ScheduledTaskRecord转换为DAO对象，ID缺失时补全
func recordToDAO(runID string, rec *storage.ScheduledTaskRecord) *dao.ScheduledTaskDAO {
	d := &dao.ScheduledTaskDAO{
		ID:         rec.ID,
		RunID:      runID,
		Label:      rec.Label,
		Kind:       rec.Kind,
		WorkerType: rec.WorkerType,
		TaskID:     rec.TaskID,
		CacheHit:   rec.CacheHit,
		CreateTime: rec.CreateTime,
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if rec.IndexPath != "" {
		d.IndexPath.Valid = true
		d.IndexPath.String = rec.IndexPath
	}
	if d.CreateTime.IsZero() {
		d.CreateTime = time.Now()
	}
	return d
}

// daoToRecord 将DAO对象转换为ScheduledTaskRecord
func daoToRecord(d *dao.ScheduledTaskDAO) *storage.ScheduledTaskRecord {
	rec := &storage.ScheduledTaskRecord{
		ID:         d.ID,
		RunID:      d.RunID,
		Label:      d.Label,
		Kind:       d.Kind,
		WorkerType: d.WorkerType,
		TaskID:     d.TaskID,
		CacheHit:   d.CacheHit,
		CreateTime: d.CreateTime,
	}
	if d.IndexPath.Valid {
		rec.IndexPath = d.IndexPath.String
	}
	return rec
}

// 确保实现接口
var _ storage.DecisionRunRepository = (*DecisionRunRepo)(nil)
