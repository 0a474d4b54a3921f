package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/LENAX/decision-engine/pkg/config"
	"github.com/LENAX/decision-engine/pkg/core/task"
)

// 定时触发没有显式build level时采用的级别（nightly发布级别）
const defaultCronBuildLevel = 3

// CronTrigger 定时decision触发器（对外导出）
type CronTrigger struct {
	cron      *cron.Cron
	engine    *Engine
	schedules map[string]config.CronSchedule // 触发名 -> 触发配置映射
	entries   map[string]cron.EntryID        // 触发名 -> cron.EntryID映射
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewCronTrigger 创建定时触发器（对外导出）
func NewCronTrigger(eng *Engine) *CronTrigger {
	ctx, cancel := context.WithCancel(context.Background())
	return &CronTrigger{
		cron:      cron.New(cron.WithSeconds()), // 支持秒级精度
		engine:    eng,
		schedules: make(map[string]config.CronSchedule),
		entries:   make(map[string]cron.EntryID),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RegisterSchedule 注册定时触发（对外导出）
func (ct *CronTrigger) RegisterSchedule(sched config.CronSchedule) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	// 检查是否已注册
	if _, exists := ct.schedules[sched.Name]; exists {
		return fmt.Errorf("定时触发 %s 已注册", sched.Name)
	}

	// 检查Cron表达式
	if sched.Expression == "" {
		return fmt.Errorf("定时触发 %s 未设置Cron表达式", sched.Name)
	}

	// 验证Cron表达式（使用Parser支持秒级精度）
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(sched.Expression); err != nil {
		return fmt.Errorf("定时触发 %s 的Cron表达式无效: %w", sched.Name, err)
	}

	// 添加Cron任务
	entryID, err := ct.cron.AddFunc(sched.Expression, func() {
		ct.triggerDecision(sched)
	})
	if err != nil {
		return fmt.Errorf("添加Cron任务失败: %w", err)
	}

	// 保存映射
	ct.schedules[sched.Name] = sched
	ct.entries[sched.Name] = entryID

	log.Printf("✅ [定时触发器] 已注册: Name=%s, CronExpr=%s, BuildLevel=%d",
		sched.Name, sched.Expression, sched.BuildLevel)
	return nil
}

// UnregisterSchedule 取消注册定时触发（对外导出）
func (ct *CronTrigger) UnregisterSchedule(name string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	entryID, exists := ct.entries[name]
	if !exists {
		return fmt.Errorf("定时触发 %s 未注册", name)
	}

	ct.cron.Remove(entryID)
	delete(ct.schedules, name)
	delete(ct.entries, name)

	log.Printf("✅ [定时触发器] 已取消注册: Name=%s", name)
	return nil
}

// triggerDecision 触发一次decision run（内部方法）
func (ct *CronTrigger) triggerDecision(sched config.CronSchedule) {
	log.Printf("🕐 [定时触发器] 触发decision run: Name=%s", sched.Name)

	resolver := ct.engine.revisionResolver
	if resolver == nil {
		log.Printf("❌ [定时触发器] 未配置revision解析器，跳过本次触发: Name=%s", sched.Name)
		return
	}

	revision, ref, err := resolver(ct.ctx)
	if err != nil {
		log.Printf("❌ [定时触发器] 解析revision失败: Name=%s, Error=%v", sched.Name, err)
		return
	}

	params, err := ct.buildParameters(sched, revision, ref)
	if err != nil {
		log.Printf("❌ [定时触发器] 构造run参数失败: Name=%s, Error=%v", sched.Name, err)
		return
	}

	result, err := ct.engine.RunDecision(ct.ctx, params)
	if err != nil {
		log.Printf("❌ [定时触发器] decision run失败: Name=%s, Error=%v", sched.Name, err)
		return
	}
	log.Printf("✅ [定时触发器] decision run完成: Name=%s, RunID=%s, 创建 %d, 缓存命中 %d",
		sched.Name, result.RunID, result.Scheduled, result.CacheHits)
}

// buildParameters 把触发配置补全为run参数（内部方法）
// 定时run没有外部decision任务，本地生成的slug同时充当
// task group ID与decision任务ID。
func (ct *CronTrigger) buildParameters(sched config.CronSchedule, revision, ref string) (*config.RunParameters, error) {
	level := sched.BuildLevel
	if level == 0 {
		level = defaultCronBuildLevel
	}

	id := task.NewSlugID()
	params := &config.RunParameters{
		TriggerKind:    config.TriggerCron,
		TriggerTitle:   fmt.Sprintf("定时触发: %s", sched.Name),
		BuildLevel:     level,
		Revision:       revision,
		Ref:            ref,
		Owner:          fmt.Sprintf("cron@%s", ct.engine.cfg.DecisionEngine.General.InstanceName),
		TaskGroupID:    id,
		DecisionTaskID: id,
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

// Start 启动定时触发器（对外导出）
func (ct *CronTrigger) Start() {
	ct.cron.Start()
	log.Println("✅ [定时触发器] 已启动")
}

// Stop 停止定时触发器（对外导出）
func (ct *CronTrigger) Stop() {
	ct.cron.Stop()
	ct.cancel()
	log.Println("✅ [定时触发器] 已停止")
}

// RegisteredSchedules 获取已注册的定时触发名列表（对外导出）
func (ct *CronTrigger) RegisteredSchedules() []string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	names := make([]string, 0, len(ct.schedules))
	for name := range ct.schedules {
		names = append(names, name)
	}
	return names
}
