package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/LENAX/decision-engine/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *DecisionRunRepo {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "decision_test.db")
	repo, err := NewDecisionRunRepoFromDSN(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleRun(id string) *storage.DecisionRun {
	return &storage.DecisionRun{
		ID:          id,
		TaskGroupID: "DecisionTask000000000A",
		TriggerKind: "push",
		BuildLevel:  3,
		Revision:    "deadbeefcafe",
		Branch:      "main",
		Strategy:    "normal",
		Status:      storage.RunStatusRunning,
		TotalTasks:  5,
		Scheduled:   3,
		CacheHits:   2,
		StartTime:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		CreateTime:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// TestRunRoundTrip run记录与调度明细完整往返
func TestRunRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	run := sampleRun("run-1")
	tasks := []*storage.ScheduledTaskRecord{
		{Label: "build-android", Kind: "build", WorkerType: "b-linux", TaskID: "Task0000000000000000A1", IndexPath: "project.ci.by-task-definition.abc", CacheHit: false},
		{Label: "test-android", Kind: "test", WorkerType: "t-linux", TaskID: "Task0000000000000000A2", CacheHit: true},
	}
	require.NoError(t, repo.SaveRunWithTasks(ctx, run, tasks))

	got, gotTasks, err := repo.GetRunWithTasks(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, run.TaskGroupID, got.TaskGroupID)
	assert.Equal(t, run.TriggerKind, got.TriggerKind)
	assert.Equal(t, run.BuildLevel, got.BuildLevel)
	assert.Equal(t, run.Revision, got.Revision)
	assert.Equal(t, run.Branch, got.Branch)
	assert.Equal(t, run.Strategy, got.Strategy)
	assert.Equal(t, run.Status, got.Status)
	assert.Equal(t, run.TotalTasks, got.TotalTasks)
	assert.Equal(t, run.Scheduled, got.Scheduled)
	assert.Equal(t, run.CacheHits, got.CacheHits)
	assert.Empty(t, got.ErrorMessage)
	assert.Nil(t, got.EndTime)
	assert.WithinDuration(t, run.StartTime, got.StartTime, time.Second)

	// 明细按label排序返回
	require.Len(t, gotTasks, 2)
	assert.Equal(t, "build-android", gotTasks[0].Label)
	assert.Equal(t, "test-android", gotTasks[1].Label)
	assert.Equal(t, "Task0000000000000000A1", gotTasks[0].TaskID)
	assert.Equal(t, "project.ci.by-task-definition.abc", gotTasks[0].IndexPath)
	assert.False(t, gotTasks[0].CacheHit)
	assert.True(t, gotTasks[1].CacheHit)
	assert.Empty(t, gotTasks[1].IndexPath)
	// ID缺失时由存储层补全
	assert.NotEmpty(t, gotTasks[0].ID)
	assert.Equal(t, "run-1", gotTasks[0].RunID)
}

// TestSaveRunUpsert 重复保存同一run为更新而非新增
func TestSaveRunUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	run := sampleRun("run-1")
	require.NoError(t, repo.SaveRun(ctx, run))

	run.Status = storage.RunStatusCompleted
	run.Scheduled = 4
	require.NoError(t, repo.SaveRun(ctx, run))

	count, err := repo.CountRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, storage.RunStatusCompleted, got.Status)
	assert.Equal(t, 4, got.Scheduled)
}

// TestSaveRunWithTasksReplaces 再次保存时旧明细被全量替换
func TestSaveRunWithTasksReplaces(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	run := sampleRun("run-1")
	first := []*storage.ScheduledTaskRecord{
		{Label: "build-a", TaskID: "T1"},
		{Label: "build-b", TaskID: "T2"},
	}
	require.NoError(t, repo.SaveRunWithTasks(ctx, run, first))

	second := []*storage.ScheduledTaskRecord{
		{Label: "build-c", TaskID: "T3"},
	}
	require.NoError(t, repo.SaveRunWithTasks(ctx, run, second))

	tasks, err := repo.ListScheduledTasks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "build-c", tasks[0].Label)
}

// TestGetRunMissing 不存在的run返回nil而非错误
func TestGetRunMissing(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	run, tasks, err := repo.GetRunWithTasks(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.Nil(t, tasks)
}

// TestUpdateRunStatus 标记失败时写入原因与结束时间
func TestUpdateRunStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveRun(ctx, sampleRun("run-1")))
	require.NoError(t, repo.UpdateRunStatus(ctx, "run-1", storage.RunStatusFailed, "变换执行失败"))

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, storage.RunStatusFailed, got.Status)
	assert.Equal(t, "变换执行失败", got.ErrorMessage)
	require.NotNil(t, got.EndTime)

	// 更新不存在的run不报错
	require.NoError(t, repo.UpdateRunStatus(ctx, "nope", storage.RunStatusCompleted, ""))
}

// TestListRunsPagination 按创建时间倒序分页
func TestListRunsPagination(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		run := sampleRun(id)
		run.CreateTime = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.SaveRun(ctx, run))
	}

	count, err := repo.CountRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	page, err := repo.ListRuns(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "run-3", page[0].ID)
	assert.Equal(t, "run-2", page[1].ID)

	rest, err := repo.ListRuns(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "run-1", rest[0].ID)
}

// TestDeleteRun 删除run及其明细，重复删除不报错
func TestDeleteRun(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveRunWithTasks(ctx, sampleRun("run-1"), []*storage.ScheduledTaskRecord{
		{Label: "build-a", TaskID: "T1"},
	}))

	require.NoError(t, repo.DeleteRun(ctx, "run-1"))

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	tasks, err := repo.ListScheduledTasks(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	require.NoError(t, repo.DeleteRun(ctx, "run-1"))
}

// TestSQLiteDialect 方言基本行为
func TestSQLiteDialect(t *testing.T) {
	d := NewSQLiteDialect()
	assert.Equal(t, "sqlite", d.Name())
	assert.Equal(t, "?", d.Placeholder(3))

	sql := d.UpsertSQL("decision_run", []string{"id", "status"}, "id", []string{"status"})
	assert.Equal(t, "INSERT OR REPLACE INTO decision_run (id, status) VALUES (:id, :status)", sql)

	assert.Contains(t, d.ConfigureDB(), "PRAGMA journal_mode=WAL;")
}
