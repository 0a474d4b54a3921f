package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/decision-engine/pkg/config"
	"github.com/LENAX/decision-engine/pkg/core/cache"
	"github.com/LENAX/decision-engine/pkg/core/event"
	"github.com/LENAX/decision-engine/pkg/core/target"
	"github.com/LENAX/decision-engine/pkg/core/task"
	"github.com/LENAX/decision-engine/pkg/storage"
	"github.com/LENAX/decision-engine/test/mocks"
)

// writeEngineConfig 写引擎配置fixture，返回配置文件路径
func writeEngineConfig(t *testing.T, root string, maxDeps int) string {
	t.Helper()
	kindsDir := filepath.Join(root, "kinds")
	require.NoError(t, os.MkdirAll(kindsDir, 0o755))

	content := fmt.Sprintf(`decision-engine:
  general:
    instance_name: test-engine
  remote:
    queue_base_url: http://127.0.0.1:1
    index_base_url: http://127.0.0.1:1
    index_prefix: project.ci
  scheduling:
    name_template: "CI - %%s"
    max_dependencies: %d
    kinds_dir: %s
    artifacts_dir: %s
`, maxDeps, kindsDir, filepath.Join(root, "artifacts"))

	path := filepath.Join(root, "engine.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeKind(t *testing.T, kindsDir, name, content string) {
	t.Helper()
	dir := filepath.Join(kindsDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kind.yml"), []byte(content), 0o644))
}

// writeStandardKinds 三个kind的标准fixture：
// 缓存的工具链、两个组件构建、按组件分组的通知任务。
func writeStandardKinds(t *testing.T, kindsDir string) {
	t.Helper()
	writeKind(t, kindsDir, "toolchain", `
transforms:
  - set-defaults
  - resolve-keyed-by
  - validate
tasks:
  - name: android-ndk
    description: 预编译Android NDK工具链
    cached: true
    worker:
      implementation: docker-worker
      worker-type: b-linux
      docker-image: "builder:latest"
      command:
        - ./build-ndk.sh
      max-run-time: 3600
    attributes:
      component: android
`)
	writeKind(t, kindsDir, "build", `
kind-dependencies:
  - toolchain
transforms:
  - set-defaults
  - resolve-keyed-by
  - validate
tasks:
  - name: android
    description: Android构建
    dependencies:
      - toolchain-android-ndk
    worker:
      implementation: docker-worker
      worker-type: b-linux
      docker-image: "builder:latest"
      command:
        - ./gradlew assemble
    attributes:
      component: android
  - name: ios
    description: iOS构建
    worker:
      implementation: docker-worker
      worker-type: b-osx
      docker-image: "builder:latest"
      command:
        - ./build-ios.sh
    attributes:
      component: ios
`)
	writeKind(t, kindsDir, "notify", `
kind-dependencies:
  - build
transforms:
  - from-deps
  - set-defaults
  - resolve-keyed-by
  - validate
from-deps:
  group-by: component
  kinds:
    - build
tasks:
  - name: ping
    description: 组件构建完成通知
    worker:
      implementation: docker-worker
      worker-type: t-linux
      docker-image: "alpine:3.18"
      command:
        - ./notify.sh
`)
}

// newTestEngine 构建带mock远端的引擎并启动
func newTestEngine(t *testing.T, maxDeps int) (*Engine, *mocks.MockQueue, *mocks.MockIndex, string) {
	t.Helper()
	root := t.TempDir()
	cfgPath := writeEngineConfig(t, root, maxDeps)

	queue := mocks.NewMockQueue()
	index := mocks.NewMockIndex()
	eng, err := NewEngineBuilder(cfgPath).
		WithQueue(queue).
		WithIndex(index).
		Build()
	require.NoError(t, err)

	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)
	return eng, queue, index, filepath.Join(root, "kinds")
}

func pushParams() *config.RunParameters {
	return &config.RunParameters{
		TriggerKind:    config.TriggerPush,
		BuildLevel:     3,
		Revision:       "deadbeefcafe",
		Ref:            "refs/heads/main",
		Owner:          "dev@example.com",
		Source:         "https://example.com/repo",
		TaskGroupID:    "DecisionTask000000001",
		DecisionTaskID: "DecisionTask000000001",
	}
}

// TestEngineBuilderValidation 构建器入参错误短路
func TestEngineBuilderValidation(t *testing.T) {
	_, err := NewEngineBuilder("").Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "配置文件路径")

	_, err = NewEngineBuilder("engine.yml").WithQueue(nil).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "队列客户端")

	// 第一处错误之后的步骤全部短路
	_, err = NewEngineBuilder("").WithIndex(mocks.NewMockIndex()).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "配置文件路径")
}

// TestEngineBuilderWithStorage 配置了数据库时初始化运行历史存储
func TestEngineBuilderWithStorage(t *testing.T) {
	root := t.TempDir()
	kindsDir := filepath.Join(root, "kinds")
	require.NoError(t, os.MkdirAll(kindsDir, 0o755))

	content := fmt.Sprintf(`decision-engine:
  remote:
    queue_base_url: http://127.0.0.1:1
    index_base_url: http://127.0.0.1:1
  scheduling:
    kinds_dir: %s
    artifacts_dir: %s
  storage:
    database:
      type: sqlite
      dsn: %s
`, kindsDir, filepath.Join(root, "artifacts"), filepath.Join(root, "runs.db"))
	cfgPath := filepath.Join(root, "engine.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	eng, err := NewEngineBuilder(cfgPath).
		WithQueue(mocks.NewMockQueue()).
		WithIndex(mocks.NewMockIndex()).
		Build()
	require.NoError(t, err)
	require.NotNil(t, eng.GetRepository())

	require.NoError(t, eng.Start(context.Background()))
	eng.Stop()
}

// TestRunDecisionRequiresStart 未启动的引擎拒绝run
func TestRunDecisionRequiresStart(t *testing.T) {
	root := t.TempDir()
	cfgPath := writeEngineConfig(t, root, 99)

	eng, err := NewEngineBuilder(cfgPath).
		WithQueue(mocks.NewMockQueue()).
		WithIndex(mocks.NewMockIndex()).
		Build()
	require.NoError(t, err)

	_, err = eng.RunDecision(context.Background(), pushParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine_not_running")
}

// TestRunDecisionValidatesParameters 非法参数直接拒绝
func TestRunDecisionValidatesParameters(t *testing.T) {
	eng, _, _, kindsDir := newTestEngine(t, 99)
	writeStandardKinds(t, kindsDir)
	ctx := context.Background()

	_, err := eng.RunDecision(ctx, nil)
	require.Error(t, err)

	bad := pushParams()
	bad.BuildLevel = 0
	_, err = eng.RunDecision(ctx, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build_level")
}

// TestRunDecisionSchedulesFullGraph push触发的完整调度流程
func TestRunDecisionSchedulesFullGraph(t *testing.T) {
	eng, queue, _, kindsDir := newTestEngine(t, 99)
	writeStandardKinds(t, kindsDir)
	ctx := context.Background()

	result, err := eng.RunDecision(ctx, pushParams())
	require.NoError(t, err)

	// 全图：工具链 + 两个构建 + 两个分组通知
	assert.Equal(t, 5, result.TotalTasks)
	assert.Equal(t, 5, result.Scheduled)
	assert.Equal(t, 0, result.CacheHits)
	assert.Equal(t, target.StrategyNormal, result.Strategy)
	assert.Equal(t, 5, queue.CreatedCount())

	labels := []string{
		"toolchain-android-ndk", "build-android", "build-ios",
		"notify-android", "notify-ios",
	}
	for _, label := range labels {
		assert.Contains(t, result.LabelToTaskID, label)
		assert.True(t, result.Graph.Has(label), "图中缺少 %s", label)
	}

	// 依赖先于依赖方创建
	order := queue.CreatedOrder()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos[result.LabelToTaskID["toolchain-android-ndk"]], pos[result.LabelToTaskID["build-android"]])
	assert.Less(t, pos[result.LabelToTaskID["build-ios"]], pos[result.LabelToTaskID["notify-ios"]])
	assert.Less(t, pos[result.LabelToTaskID["build-android"]], pos[result.LabelToTaskID["notify-android"]])

	// 构建任务的队列定义：decision任务打头，然后是工具链任务ID
	def, ok := queue.CreatedTask(result.LabelToTaskID["build-android"])
	require.True(t, ok)
	require.Len(t, def.Dependencies, 2)
	assert.Equal(t, "DecisionTask000000001", def.Dependencies[0])
	assert.Equal(t, result.LabelToTaskID["toolchain-android-ndk"], def.Dependencies[1])
	assert.Equal(t, "CI - build-android", def.Metadata.Name)
	assert.Equal(t, "b-linux", def.WorkerType)

	// 缓存任务带索引注册路由
	toolDef, ok := queue.CreatedTask(result.LabelToTaskID["toolchain-android-ndk"])
	require.True(t, ok)
	foundRoute := false
	for _, r := range toolDef.Routes {
		if strings.HasPrefix(r, "index.project.ci.by-task-definition.") {
			foundRoute = true
		}
	}
	assert.True(t, foundRoute, "工具链任务缺少索引注册路由")

	// 调度记录：工具链带索引路径
	var toolRecord *cache.ScheduledTask
	for i := range result.ScheduledTasks {
		if result.ScheduledTasks[i].Label == "toolchain-android-ndk" {
			toolRecord = &result.ScheduledTasks[i]
		}
	}
	require.NotNil(t, toolRecord)
	assert.True(t, strings.HasPrefix(toolRecord.IndexPath, "project.ci.by-task-definition."))
	assert.False(t, toolRecord.CacheHit)
	assert.Equal(t, "toolchain", toolRecord.Kind)
}

// TestRunDecisionWritesArtifacts run工件落盘
func TestRunDecisionWritesArtifacts(t *testing.T) {
	eng, _, _, kindsDir := newTestEngine(t, 99)
	writeStandardKinds(t, kindsDir)

	result, err := eng.RunDecision(context.Background(), pushParams())
	require.NoError(t, err)

	dir := eng.ArtifactsDirFor(result.RunID)
	graphData, err := os.ReadFile(filepath.Join(dir, ArtifactTaskGraph))
	require.NoError(t, err)
	var graphJSON map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(graphData, &graphJSON))
	assert.Len(t, graphJSON, 5)

	_, err = os.Stat(filepath.Join(dir, ArtifactParameters))
	require.NoError(t, err)

	labelData, err := os.ReadFile(filepath.Join(dir, ArtifactLabelToTaskID))
	require.NoError(t, err)
	var labels map[string]string
	require.NoError(t, json.Unmarshal(labelData, &labels))
	assert.Equal(t, result.LabelToTaskID, labels)

	// graph工件可以通过引擎读回
	readBack, err := eng.ReadGraphArtifact(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, graphData, readBack)
}

// TestRunDecisionCacheHitAcrossRuns 第二次run复用索引里的工具链
func TestRunDecisionCacheHitAcrossRuns(t *testing.T) {
	eng, queue, index, kindsDir := newTestEngine(t, 99)
	writeStandardKinds(t, kindsDir)
	ctx := context.Background()

	first, err := eng.RunDecision(ctx, pushParams())
	require.NoError(t, err)
	assert.Equal(t, 0, first.CacheHits)

	var indexPath string
	for _, rec := range first.ScheduledTasks {
		if rec.Label == "toolchain-android-ndk" {
			indexPath = rec.IndexPath
		}
	}
	require.NotEmpty(t, indexPath)

	// 模拟工具链任务完成后被索引服务收录
	index.SetEntry(indexPath, "TaskReused00000000001")

	second, err := eng.RunDecision(ctx, pushParams())
	require.NoError(t, err)
	assert.Equal(t, 1, second.CacheHits)
	assert.Equal(t, 4, second.Scheduled)
	assert.Equal(t, "TaskReused00000000001", second.LabelToTaskID["toolchain-android-ndk"])

	// 第二次run没有重复创建工具链任务
	assert.Equal(t, 5+4, queue.CreatedCount())

	// 下游构建直接依赖复用的外部任务ID
	def, ok := queue.CreatedTask(second.LabelToTaskID["build-android"])
	require.True(t, ok)
	assert.Contains(t, def.Dependencies, "TaskReused00000000001")

	// 命中记录不占用创建计数
	hits := 0
	for _, rec := range second.ScheduledTasks {
		if rec.CacheHit {
			hits++
			assert.Equal(t, "toolchain-android-ndk", rec.Label)
			assert.Equal(t, indexPath, rec.IndexPath)
		}
	}
	assert.Equal(t, 1, hits)
}

// cronParams 定时触发的run参数
func cronParams() *config.RunParameters {
	params := pushParams()
	params.TriggerKind = config.TriggerCron
	return params
}

// TestRunDecisionCronRegistersNightlyMarker 定时release run登记nightly标记
// 标记被索引收录后，同revision的下一次定时触发选空集，整图不再重建。
func TestRunDecisionCronRegistersNightlyMarker(t *testing.T) {
	eng, queue, index, kindsDir := newTestEngine(t, 99)
	writeStandardKinds(t, kindsDir)
	ctx := context.Background()

	first, err := eng.RunDecision(ctx, cronParams())
	require.NoError(t, err)
	assert.Equal(t, target.StrategyRelease, first.Strategy)
	assert.Equal(t, 5, first.TotalTasks)
	// 5个图任务 + 1个nightly标记
	assert.Equal(t, 6, first.Scheduled)
	assert.Equal(t, 6, queue.CreatedCount())

	var markerRoute string
	for _, id := range queue.CreatedOrder() {
		def, ok := queue.CreatedTask(id)
		require.True(t, ok)
		for _, r := range def.Routes {
			if strings.HasPrefix(r, "index.project.ci.decision.nightly.revision.") {
				markerRoute = r
			}
		}
	}
	require.Equal(t, "index.project.ci.decision.nightly.revision.deadbeefcafe", markerRoute)

	// 模拟标记任务完成后被索引服务收录
	index.SetEntry(strings.TrimPrefix(markerRoute, "index."), "TaskNightly0000000001")

	second, err := eng.RunDecision(ctx, cronParams())
	require.NoError(t, err)
	assert.Equal(t, 0, second.TotalTasks)
	assert.Equal(t, 0, second.Scheduled)
	assert.Equal(t, 6, queue.CreatedCount())
}

// TestRunDecisionPushDoesNotRegisterMarker push触发不登记nightly标记
func TestRunDecisionPushDoesNotRegisterMarker(t *testing.T) {
	eng, queue, _, kindsDir := newTestEngine(t, 99)
	writeStandardKinds(t, kindsDir)

	_, err := eng.RunDecision(context.Background(), pushParams())
	require.NoError(t, err)

	for _, id := range queue.CreatedOrder() {
		def, _ := queue.CreatedTask(id)
		for _, r := range def.Routes {
			assert.NotContains(t, r, "decision.nightly.revision")
		}
	}
}

// TestRunDecisionSkipStrategy [ci skip]触发什么都不调度
func TestRunDecisionSkipStrategy(t *testing.T) {
	eng, queue, _, kindsDir := newTestEngine(t, 99)
	writeStandardKinds(t, kindsDir)

	params := pushParams()
	params.TriggerKind = config.TriggerPullRequest
	params.TriggerTitle = "修复构建 [ci skip]"
	tagged := params.ExtractTitleTags()

	result, err := eng.RunDecision(context.Background(), &tagged)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalTasks)
	assert.Equal(t, 0, result.Scheduled)
	assert.Equal(t, 0, queue.CreatedCount())

	// 空图照样写工件
	_, err = os.Stat(filepath.Join(eng.ArtifactsDirFor(result.RunID), ArtifactTaskGraph))
	require.NoError(t, err)
}

// TestRunDecisionChunksOversizedDependencies 依赖超限任务被分片
func TestRunDecisionChunksOversizedDependencies(t *testing.T) {
	eng, queue, _, kindsDir := newTestEngine(t, 2)
	writeKind(t, kindsDir, "build", `
transforms:
  - set-defaults
  - resolve-keyed-by
  - validate
tasks:
  - name: a
    worker:
      implementation: docker-worker
      worker-type: b-linux
      docker-image: "builder:latest"
      command: ["./build.sh", "a"]
    attributes:
      component: app
  - name: b
    worker:
      implementation: docker-worker
      worker-type: b-linux
      docker-image: "builder:latest"
      command: ["./build.sh", "b"]
    attributes:
      component: app
  - name: c
    worker:
      implementation: docker-worker
      worker-type: b-linux
      docker-image: "builder:latest"
      command: ["./build.sh", "c"]
    attributes:
      component: app
`)
	writeKind(t, kindsDir, "notify", `
kind-dependencies:
  - build
transforms:
  - from-deps
  - set-defaults
  - resolve-keyed-by
  - validate
from-deps:
  group-by: component
  kinds:
    - build
tasks:
  - name: ping
    worker:
      implementation: docker-worker
      worker-type: t-linux
      docker-image: "alpine:3.18"
      command: ["./notify.sh"]
`)

	result, err := eng.RunDecision(context.Background(), pushParams())
	require.NoError(t, err)

	// 3个构建 + 2个分片收集 + 1个通知
	assert.Equal(t, 6, result.TotalTasks)
	assert.Equal(t, 6, queue.CreatedCount())
	require.True(t, result.Graph.Has("notify-app-deps-001"))
	require.True(t, result.Graph.Has("notify-app-deps-002"))

	collector, _ := result.Graph.Get("notify-app-deps-001")
	assert.True(t, collector.Attributes.Has(task.AttrChunk))
	assert.LessOrEqual(t, len(collector.Dependencies), 2)

	// 父任务只等待分片收集任务
	parent, _ := result.Graph.Get("notify-app")
	assert.ElementsMatch(t,
		[]string{"notify-app-deps-001", "notify-app-deps-002"},
		parent.Dependencies)

	def, ok := queue.CreatedTask(result.LabelToTaskID["notify-app"])
	require.True(t, ok)
	assert.Contains(t, def.Dependencies, result.LabelToTaskID["notify-app-deps-001"])
	assert.Contains(t, def.Dependencies, result.LabelToTaskID["notify-app-deps-002"])
}

// TestRunDecisionPersistsHistory run记录与调度明细落库
func TestRunDecisionPersistsHistory(t *testing.T) {
	eng, _, _, kindsDir := newTestEngine(t, 99)
	writeStandardKinds(t, kindsDir)
	repo := mocks.NewMockDecisionRunRepository()
	eng.SetRepository(repo)
	ctx := context.Background()

	result, err := eng.RunDecision(ctx, pushParams())
	require.NoError(t, err)

	run, records, err := repo.GetRunWithTasks(ctx, result.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, storage.RunStatusCompleted, run.Status)
	assert.Equal(t, "push", run.TriggerKind)
	assert.Equal(t, "deadbeefcafe", run.Revision)
	assert.Equal(t, 5, run.TotalTasks)
	assert.Equal(t, 5, run.Scheduled)
	assert.Equal(t, 0, run.CacheHits)
	require.NotNil(t, run.EndTime)
	assert.Len(t, records, 5)
}

// TestRunDecisionStorageFailureNonFatal 存储故障不影响run结果
func TestRunDecisionStorageFailureNonFatal(t *testing.T) {
	eng, queue, _, kindsDir := newTestEngine(t, 99)
	writeStandardKinds(t, kindsDir)
	repo := mocks.NewMockDecisionRunRepository()
	repo.SetShouldFailSave(true)
	eng.SetRepository(repo)

	result, err := eng.RunDecision(context.Background(), pushParams())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Scheduled)
	assert.Equal(t, 5, queue.CreatedCount())
}

// TestRunDecisionFailureRecorded 构图失败的run记录失败状态
func TestRunDecisionFailureRecorded(t *testing.T) {
	eng, _, _, kindsDir := newTestEngine(t, 99)
	writeKind(t, kindsDir, "loop", `
transforms:
  - set-defaults
  - resolve-keyed-by
  - validate
tasks:
  - name: x
    dependencies:
      - loop-y
    worker:
      implementation: docker-worker
      worker-type: b-linux
      docker-image: "builder:latest"
      command: ["true"]
  - name: y
    dependencies:
      - loop-x
    worker:
      implementation: docker-worker
      worker-type: b-linux
      docker-image: "builder:latest"
      command: ["true"]
`)
	repo := mocks.NewMockDecisionRunRepository()
	eng.SetRepository(repo)
	ctx := context.Background()

	msgs, err := eng.Bus().SubscribeAll(ctx)
	require.NoError(t, err)

	_, err = eng.RunDecision(ctx, pushParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "循环依赖")

	// 失败状态落库
	runs, err := repo.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].ErrorMessage, "循环依赖")
	require.NotNil(t, runs[0].EndTime)

	// 事件流以failed收尾
	types := drainUntilTerminal(t, msgs)
	require.NotEmpty(t, types)
	assert.Equal(t, event.EventRunStarted, types[0])
	assert.Equal(t, event.EventRunFailed, types[len(types)-1])
}

// TestRunDecisionPublishesEvents 事件流覆盖run全程
func TestRunDecisionPublishesEvents(t *testing.T) {
	eng, _, _, kindsDir := newTestEngine(t, 99)
	writeStandardKinds(t, kindsDir)
	ctx := context.Background()

	msgs, err := eng.Bus().SubscribeAll(ctx)
	require.NoError(t, err)

	result, err := eng.RunDecision(ctx, pushParams())
	require.NoError(t, err)

	types := drainUntilTerminal(t, msgs)
	assert.Equal(t, event.EventRunStarted, types[0])
	assert.Equal(t, event.EventRunCompleted, types[len(types)-1])

	scheduled := 0
	for _, typ := range types {
		if typ == event.EventTaskScheduled {
			scheduled++
		}
	}
	assert.Equal(t, result.Scheduled, scheduled)
}

// drainUntilTerminal 收事件直到completed/failed，返回类型序列
func drainUntilTerminal(t *testing.T, msgs <-chan *message.Message) []event.Type {
	t.Helper()
	var types []event.Type
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-msgs:
			ev, err := event.Decode(msg.Payload)
			require.NoError(t, err)
			msg.Ack()
			types = append(types, ev.Type)
			if ev.Type == event.EventRunCompleted || ev.Type == event.EventRunFailed {
				return types
			}
		case <-deadline:
			t.Fatalf("等待终止事件超时，已收到 %d 个事件", len(types))
		}
	}
}
