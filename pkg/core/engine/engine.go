// Package engine 实现decision run的编排核心。
// 一次触发对应一次run：按依赖顺序让每个kind通过自己的变换流水线，
// 装配全图，按触发参数选目标、求闭包、依赖分片，最后经run级缓存
// 会话按拓扑顺序调度到外部队列。
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/decision-engine/pkg/config"
	"github.com/LENAX/decision-engine/pkg/core/cache"
	"github.com/LENAX/decision-engine/pkg/core/chunk"
	"github.com/LENAX/decision-engine/pkg/core/event"
	"github.com/LENAX/decision-engine/pkg/core/graph"
	"github.com/LENAX/decision-engine/pkg/core/target"
	"github.com/LENAX/decision-engine/pkg/core/task"
	"github.com/LENAX/decision-engine/pkg/core/transform"
	"github.com/LENAX/decision-engine/pkg/plugin"
	"github.com/LENAX/decision-engine/pkg/remote"
	"github.com/LENAX/decision-engine/pkg/storage"
)

// RevisionResolver 为定时触发解析当前revision与ref（对外导出）
// 定时触发没有携带revision的外部事件，需要调用方提供解析途径。
type RevisionResolver func(ctx context.Context) (revision string, ref string, err error)

// DecisionResult 一次decision run的结果（对外导出）
type DecisionResult struct {
	RunID          string                // run唯一标识
	TaskGroupID    string                // 外部任务组ID
	Strategy       string                // 本次run采用的目标选择策略
	TotalTasks     int                   // 最终任务图中的任务数
	Scheduled      int                   // 实际创建的任务数（含镜像构建等衍生任务）
	CacheHits      int                   // 通过索引复用的任务数
	Graph          *graph.TaskGraph      // 最终任务图（闭包+分片之后）
	LabelToTaskID  map[string]string     // label -> 外部任务ID
	ScheduledTasks []cache.ScheduledTask // 有序调度记录
	Elapsed        time.Duration         // run耗时
}

// Engine 决策引擎核心结构体（对外导出）
type Engine struct {
	cfg              *config.EngineConfig
	queue            remote.Queue
	index            remote.Index
	transforms       *transform.Registry
	strategies       *target.Registry
	repo             storage.DecisionRunRepository // 运行历史存储（可选）
	bus              *event.Bus
	notifier         *plugin.Manager
	cronTrigger      *CronTrigger
	revisionResolver RevisionResolver
	repoRoot         string // 仓库检出根目录，in-tree镜像解析使用
	running          bool
	runWG            sync.WaitGroup // 在途run计数
	mu               sync.RWMutex
}

// NewEngine 创建Engine实例（对外导出的工厂方法）
func NewEngine(cfg *config.EngineConfig, queue remote.Queue, index remote.Index) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("引擎配置不能为空")
	}
	if queue == nil {
		return nil, fmt.Errorf("队列客户端不能为空")
	}
	if index == nil {
		return nil, fmt.Errorf("索引客户端不能为空")
	}

	eng := &Engine{
		cfg:        cfg,
		queue:      queue,
		index:      index,
		transforms: transform.NewStandardRegistry(),
		strategies: target.NewStandardRegistry(),
		bus:        event.NewBus(cfg.DecisionEngine.General.LogLevel == "debug"),
	}
	eng.cronTrigger = NewCronTrigger(eng)
	return eng, nil
}

// SetRepository 设置运行历史存储（对外导出）
// 可以在Engine创建后动态设置；不设置时run历史不持久化。
func (e *Engine) SetRepository(repo storage.DecisionRunRepository) {
	e.repo = repo
}

// GetRepository 获取运行历史存储（对外导出）
func (e *Engine) GetRepository() storage.DecisionRunRepository {
	return e.repo
}

// SetRepoRoot 设置仓库检出根目录（对外导出）
func (e *Engine) SetRepoRoot(root string) {
	e.repoRoot = root
}

// SetRevisionResolver 设置定时触发的revision解析器（对外导出）
func (e *Engine) SetRevisionResolver(fn RevisionResolver) {
	e.revisionResolver = fn
}

// Bus 获取事件总线（对外导出，API层订阅用）
func (e *Engine) Bus() *event.Bus {
	return e.bus
}

// SetNotifier 设置通知插件管理器（对外导出）
// 必须在Start之前设置，事件消费循环随引擎启动。
func (e *Engine) SetNotifier(m *plugin.Manager) {
	e.notifier = m
}

// Notifier 获取通知插件管理器（对外导出）
func (e *Engine) Notifier() *plugin.Manager {
	return e.notifier
}

// Transforms 获取变换注册表（对外导出，用于登记扩展变换）
func (e *Engine) Transforms() *transform.Registry {
	return e.transforms
}

// Strategies 获取目标选择策略注册表（对外导出）
func (e *Engine) Strategies() *target.Registry {
	return e.strategies
}

// Config 获取引擎配置（对外导出）
func (e *Engine) Config() *config.EngineConfig {
	return e.cfg
}

// CronTrigger 获取定时触发器（对外导出）
func (e *Engine) CronTrigger() *CronTrigger {
	return e.cronTrigger
}

// Start 启动引擎（对外导出）
// 注册配置中的定时触发并启动触发器；运行历史存储不可用只记日志，
// 不阻止启动。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	log.Println("✅ 决策引擎已启动")

	if e.repo != nil {
		if _, err := e.repo.CountRuns(ctx); err != nil {
			log.Printf("⚠️ 运行历史存储不可用: %v", err)
			// 不阻止启动，仅记录日志
		}
	}

	if e.notifier != nil {
		go func() {
			if err := e.notifier.Run(ctx, e.bus); err != nil {
				log.Printf("⚠️ 通知插件消费循环退出: %v", err)
			}
		}()
	}

	for _, sched := range e.cfg.DecisionEngine.Triggers.Schedules {
		if err := e.cronTrigger.RegisterSchedule(sched); err != nil {
			log.Printf("⚠️ 注册定时触发 %s 失败: %v", sched.Name, err)
		}
	}
	e.cronTrigger.Start()
	return nil
}

// Stop 停止引擎（对外导出）
// 先停定时触发器避免产生新run，再等待在途run完成（最多30秒），
// 最后关闭事件总线与存储连接。
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.cronTrigger.Stop()

	done := make(chan struct{})
	go func() {
		e.runWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("所有在途decision run已完成")
	case <-time.After(30 * time.Second):
		log.Println("等待在途decision run完成超时")
	}

	if err := e.bus.Close(); err != nil {
		log.Printf("⚠️ 关闭事件总线失败: %v", err)
	}
	if e.repo != nil {
		if err := e.repo.Close(); err != nil {
			log.Printf("⚠️ 关闭运行历史存储失败: %v", err)
		}
	}
	log.Println("✅ 决策引擎已停止")
}

// IsRunning 检查引擎是否在运行（对外导出，API就绪检查用）
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// RunDecision 执行一次decision run（对外导出）
// 构图过程单线程且确定：相同的kinds与参数产出相同的图。缓存会话
// 为本次run新建，绝不跨run共享。存储失败只记日志，不影响run结果；
// 构图、调度、工件写入的失败都会中止run。
func (e *Engine) RunDecision(ctx context.Context, params *config.RunParameters) (*DecisionResult, error) {
	if !e.IsRunning() {
		return nil, logError("engine_not_running", "引擎未启动")
	}
	if params == nil {
		return nil, logError("params_missing", "run参数不能为空")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	e.runWG.Add(1)
	defer e.runWG.Done()

	runID := uuid.NewString()
	start := time.Now()
	strategyName := target.StrategyForParameters(params)
	log.Printf("🚀 [决策引擎] run %s 开始: trigger=%s revision=%s strategy=%s",
		runID, params.TriggerKind, params.Revision, strategyName)

	e.publish(ctx, event.New(event.EventRunStarted, runID, &event.RunStartedPayload{
		TriggerKind: string(params.TriggerKind),
		Revision:    params.Revision,
		Strategy:    strategyName,
	}))

	rec := e.newRunRecord(runID, params, strategyName, start)
	e.persistRun(ctx, rec, nil)

	render := e.renderConfig(params, start)
	session := cache.NewSession(e.queue, e.index, e.cfg.GetIndexPrefix(), render)

	result, err := e.buildAndSchedule(ctx, runID, params, strategyName, session)
	if err == nil {
		result.Elapsed = time.Since(start)
		if werr := e.writeArtifacts(runID, params, result); werr != nil {
			err = werr
		}
	}

	if err != nil {
		log.Printf("❌ [决策引擎] run %s 失败: %v", runID, err)
		e.publish(ctx, event.New(event.EventRunFailed, runID, &event.RunFailedPayload{
			Reason: err.Error(),
		}))
		e.finishRunRecord(rec, session, storage.RunStatusFailed, err.Error(), result)
		e.persistRun(ctx, rec, session)
		return nil, err
	}

	e.publish(ctx, event.New(event.EventRunCompleted, runID, &event.RunCompletedPayload{
		Scheduled:  result.Scheduled,
		CacheHits:  result.CacheHits,
		TotalTasks: result.TotalTasks,
		Elapsed:    result.Elapsed.String(),
	}))
	e.finishRunRecord(rec, session, storage.RunStatusCompleted, "", result)
	e.persistRun(ctx, rec, session)

	log.Printf("✅ [决策引擎] run %s 完成: 全图 %d 个任务，创建 %d，缓存命中 %d，耗时 %s",
		runID, result.TotalTasks, result.Scheduled, result.CacheHits, result.Elapsed)
	return result, nil
}

// buildAndSchedule 构图并调度（内部方法）
// 失败时session中可能已有部分调度记录（镜像构建等），由调用方
// 连同失败状态一起持久化。
func (e *Engine) buildAndSchedule(ctx context.Context, runID string, params *config.RunParameters, strategyName string, session *cache.Session) (*DecisionResult, error) {
	kinds, err := config.LoadKinds(e.cfg.DecisionEngine.Scheduling.KindsDir)
	if err != nil {
		return nil, err
	}

	// 逐kind过变换流水线，上游产出按kind名供下游使用
	full := graph.NewTaskGraph()
	upstream := make(map[string][]*task.Task, len(kinds))
	for _, kind := range kinds {
		produced, err := e.runKind(ctx, kind, params, session, upstream)
		if err != nil {
			return nil, err
		}
		if err := full.AddAll(produced); err != nil {
			return nil, err
		}
		upstream[kind.Name] = produced
	}

	// 镜像构建任务在变换期间就已调度，先把这部分进展发出去
	published := e.publishProgress(ctx, runID, session, 0)

	// 全图完整性：悬空依赖与循环依赖都是致命错误
	if err := full.Validate(session.IsExternalID); err != nil {
		return nil, err
	}
	if err := graph.CycleCheck(full); err != nil {
		return nil, err
	}

	// 目标选择与依赖闭包
	env := &target.Env{Index: e.index, IndexPrefix: e.cfg.GetIndexPrefix()}
	selected, err := e.strategies.Select(ctx, strategyName, full, params, env)
	if err != nil {
		return nil, err
	}
	closure := full.Closure(selected)

	targetTasks := make([]*task.Task, 0, len(closure))
	for _, label := range closure {
		t, _ := full.Get(label)
		targetTasks = append(targetTasks, t.Clone())
	}

	// 依赖分片必须在所有会新增依赖的阶段之后执行
	chunked, err := chunk.Apply(targetTasks, e.cfg.GetMaxDependencies())
	if err != nil {
		return nil, err
	}

	final := graph.NewTaskGraph()
	if err := final.AddAll(chunked); err != nil {
		return nil, err
	}
	if err := final.Validate(session.IsExternalID); err != nil {
		return nil, err
	}

	order, err := graph.TopologicalLevels(final)
	if err != nil {
		return nil, err
	}

	kindsByName := make(map[string]*config.KindConfig, len(kinds))
	for _, kind := range kinds {
		kindsByName[kind.Name] = kind
	}

	// 按拓扑层调度：依赖先于依赖方，层内按label序保证确定性
	for _, level := range order.Levels {
		for _, label := range level {
			t, _ := final.Get(label)
			depIDs, err := session.ResolveDependencies(t.Dependencies)
			if err != nil {
				return nil, err
			}

			if tmpl := templateFor(kindsByName, t); tmpl != nil && tmpl.Cached {
				if _, _, err := session.FindOrCreate(ctx, t, tmpl.IndexPath, depIDs); err != nil {
					return nil, err
				}
			} else {
				if _, err := session.ScheduleTask(ctx, t, depIDs); err != nil {
					return nil, err
				}
			}
		}
		published = e.publishProgress(ctx, runID, session, published)
	}

	// 定时release run调度成功后登记本revision的nightly标记，
	// 下一次同revision的定时触发在目标选择阶段命中它并选空集。
	if params.TriggerKind == config.TriggerCron && strategyName == target.StrategyRelease && len(closure) > 0 {
		if err := e.scheduleNightlyMarker(ctx, params, session); err != nil {
			return nil, err
		}
		e.publishProgress(ctx, runID, session, published)
	}

	records := session.ScheduledTasks()
	created, hits := 0, 0
	for _, st := range records {
		if st.CacheHit {
			hits++
		} else {
			created++
		}
	}

	return &DecisionResult{
		RunID:          runID,
		TaskGroupID:    params.TaskGroupID,
		Strategy:       strategyName,
		TotalTasks:     final.Len(),
		Scheduled:      created,
		CacheHits:      hits,
		Graph:          final,
		LabelToTaskID:  session.LabelToTaskID(),
		ScheduledTasks: records,
	}, nil
}

// nightly标记任务的固定no-op payload
const (
	nightlyMarkerLabel      = "nightly-decision-marker"
	nightlyMarkerWorkerType = "t-linux"
	nightlyMarkerImage      = "alpine:3.18"
	nightlyMarkerRunTime    = 600
)

// scheduleNightlyMarker 登记nightly decision标记（内部方法）
// 定时run没有外部decision任务可供索引，调度一个no-op标记任务，
// 其index.路由被索引服务收录后，release策略的nightly去重才能
// 跨run生效。
func (e *Engine) scheduleNightlyMarker(ctx context.Context, params *config.RunParameters, session *cache.Session) error {
	full := target.NightlyIndexPath(e.cfg.GetIndexPrefix(), params.Revision)
	marker := &task.Task{
		Label:       nightlyMarkerLabel,
		Kind:        "decision",
		Description: fmt.Sprintf("revision %s 的nightly decision标记", params.Revision),
		WorkerType:  nightlyMarkerWorkerType,
		Routes:      []string{task.IndexRoutePrefix + full},
		Payload: &task.DockerWorkerPayload{
			Image:             task.DockerImage{Name: nightlyMarkerImage},
			Command:           []string{"/bin/true"},
			MaxRunTimeSeconds: nightlyMarkerRunTime,
		},
	}
	if _, err := session.ScheduleTask(ctx, marker, nil); err != nil {
		return fmt.Errorf("登记nightly标记失败: %w", err)
	}
	log.Printf("📝 [决策引擎] 已登记nightly标记: %s", full)
	return nil
}

// runKind 单个kind通过自己的变换流水线（内部方法）
func (e *Engine) runKind(ctx context.Context, kind *config.KindConfig, params *config.RunParameters, session *cache.Session, upstream map[string][]*task.Task) ([]*task.Task, error) {
	seq, err := e.transforms.Sequence(kind.Transforms)
	if err != nil {
		return nil, fmt.Errorf("kind %s: %w", kind.Name, err)
	}

	// from-deps kind的模板只是分组任务的原型，不直接生成任务
	var initial []*task.Task
	if kind.FromDeps == nil {
		initial = make([]*task.Task, 0, len(kind.Tasks))
		for i := range kind.Tasks {
			t, err := kind.Tasks[i].BuildTask(kind)
			if err != nil {
				return nil, err
			}
			initial = append(initial, t)
		}
	}

	tc := &transform.Context{
		Kind:       kind,
		Parameters: params,
		Session:    session,
		Upstream:   upstream,
		RepoRoot:   e.repoRoot,
	}
	produced, err := seq.Run(ctx, tc, initial)
	if err != nil {
		return nil, err
	}
	log.Printf("📝 [决策引擎] kind %s 产出 %d 个任务", kind.Name, len(produced))
	return produced, nil
}

// publishProgress 把session中新增的调度记录发布为事件（内部方法）
// 返回已发布的记录数，供下次调用续发。
func (e *Engine) publishProgress(ctx context.Context, runID string, session *cache.Session, published int) int {
	records := session.ScheduledTasks()
	for _, st := range records[published:] {
		if st.CacheHit {
			e.publish(ctx, event.New(event.EventCacheHit, runID, &event.CacheHitPayload{
				Label:     st.Label,
				TaskID:    st.TaskID,
				IndexPath: st.IndexPath,
			}))
			continue
		}
		e.publish(ctx, event.New(event.EventTaskScheduled, runID, &event.TaskScheduledPayload{
			Label:      st.Label,
			TaskID:     st.TaskID,
			Kind:       st.Kind,
			WorkerType: st.WorkerType,
		}))
	}
	return len(records)
}

// publish 发布事件，失败只记日志（内部方法）
func (e *Engine) publish(ctx context.Context, ev *event.Event) {
	if err := e.bus.Publish(ctx, ev); err != nil {
		log.Printf("⚠️ [决策引擎] 发布事件 %s 失败: %v", ev.Type, err)
	}
}

// renderConfig 构造本次run的渲染上下文（内部方法）
func (e *Engine) renderConfig(params *config.RunParameters, start time.Time) *task.RenderConfig {
	sched := e.cfg.DecisionEngine.Scheduling
	return &task.RenderConfig{
		TaskGroupID:    params.TaskGroupID,
		DecisionTaskID: params.DecisionTaskID,
		SchedulerID:    sched.SchedulerID,
		ProvisionerID:  sched.ProvisionerID,
		Owner:          params.Owner,
		Source:         params.Source,
		NameTemplate:   sched.NameTemplate,
		Created:        start.UTC(),
		DeadlineIn:     e.cfg.GetDeadlineIn(),
		ExpiresIn:      e.cfg.GetExpiresIn(),
	}
}

// newRunRecord 构造run的持久化记录（内部方法）
func (e *Engine) newRunRecord(runID string, params *config.RunParameters, strategyName string, start time.Time) *storage.DecisionRun {
	return &storage.DecisionRun{
		ID:          runID,
		TaskGroupID: params.TaskGroupID,
		TriggerKind: string(params.TriggerKind),
		BuildLevel:  params.BuildLevel,
		Revision:    params.Revision,
		Branch:      params.Ref,
		Strategy:    strategyName,
		Status:      storage.RunStatusRunning,
		StartTime:   start,
		CreateTime:  start,
	}
}

// finishRunRecord 补全run记录的终态字段（内部方法）
func (e *Engine) finishRunRecord(rec *storage.DecisionRun, session *cache.Session, status, errorMsg string, result *DecisionResult) {
	end := time.Now()
	rec.Status = status
	rec.ErrorMessage = errorMsg
	rec.EndTime = &end

	if result != nil {
		rec.TotalTasks = result.TotalTasks
		rec.Scheduled = result.Scheduled
		rec.CacheHits = result.CacheHits
		return
	}
	// 失败的run：统计session里已经发生的调度
	for _, st := range session.ScheduledTasks() {
		if st.CacheHit {
			rec.CacheHits++
		} else {
			rec.Scheduled++
		}
	}
}

// persistRun 持久化run记录与调度明细（内部方法）
// 存储失败不影响run结果，只记日志。
func (e *Engine) persistRun(ctx context.Context, rec *storage.DecisionRun, session *cache.Session) {
	if e.repo == nil {
		return
	}

	if session == nil {
		if err := e.repo.SaveRun(ctx, rec); err != nil {
			log.Printf("⚠️ [决策引擎] 保存run %s 记录失败: %v", rec.ID, err)
		}
		return
	}

	scheduled := session.ScheduledTasks()
	records := make([]*storage.ScheduledTaskRecord, 0, len(scheduled))
	for _, st := range scheduled {
		records = append(records, &storage.ScheduledTaskRecord{
			RunID:      rec.ID,
			Label:      st.Label,
			Kind:       st.Kind,
			WorkerType: st.WorkerType,
			TaskID:     st.TaskID,
			IndexPath:  st.IndexPath,
			CacheHit:   st.CacheHit,
		})
	}
	if err := e.repo.SaveRunWithTasks(ctx, rec, records); err != nil {
		log.Printf("⚠️ [决策引擎] 保存run %s 及调度明细失败: %v", rec.ID, err)
	}
}

// templateFor 查找任务的来源模板（内部使用）
// 分片收集子任务与from-deps合成任务没有独立模板语义：
// 前者带分片attribute直接排除，后者靠单模板回退命中原型模板。
func templateFor(kinds map[string]*config.KindConfig, t *task.Task) *config.TaskTemplate {
	if t.Attributes.Has(task.AttrChunk) {
		return nil
	}
	kind, ok := kinds[t.Kind]
	if !ok {
		return nil
	}
	name := strings.TrimPrefix(t.Label, kind.Name+"-")
	if tmpl, ok := kind.TemplateByName(name); ok {
		return tmpl
	}
	if len(kind.Tasks) == 1 {
		return &kind.Tasks[0]
	}
	return nil
}

// 内部辅助函数（小写，不导出）
func logError(code, msg string) error {
	return fmt.Errorf("%s: %s", code, msg)
}
