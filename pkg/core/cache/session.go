// Package cache 实现decision run的内容寻址任务缓存。
// find-or-create是防止相同的原生库构建在每个pull request上
// 重复执行的机制：索引键来自输入内容，不来自时钟。
package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/LENAX/decision-engine/pkg/core/task"
	"github.com/LENAX/decision-engine/pkg/remote"
)

// ScheduledTask 本次run内一条调度记录（对外导出）
type ScheduledTask struct {
	Label      string `json:"label"`
	Kind       string `json:"kind"`
	WorkerType string `json:"worker_type"`
	TaskID     string `json:"task_id"`
	IndexPath  string `json:"index_path,omitempty"`
	CacheHit   bool   `json:"cache_hit"`
}

// Session 一次decision run的缓存会话（对外导出）
// 持有进程本地的"已找到或已创建"索引映射、label到任务ID的解析表
// 和本次run的有序调度记录。三者在一次run内只增不减，并且绝不
// 跨run共享：两个run竞争同一索引路径由外部索引服务裁决。
type Session struct {
	mu          sync.RWMutex
	queue       remote.Queue
	index       remote.Index
	indexPrefix string
	render      *task.RenderConfig

	found     map[string]string // 完整索引路径 -> 外部任务ID
	byLabel   map[string]string // 任务label -> 外部任务ID
	knownIDs  map[string]bool   // 本次run涉及的全部外部任务ID
	scheduled []ScheduledTask
}

// NewSession 创建run级缓存会话
func NewSession(queue remote.Queue, index remote.Index, indexPrefix string, render *task.RenderConfig) *Session {
	return &Session{
		queue:       queue,
		index:       index,
		indexPrefix: indexPrefix,
		render:      render,
		found:       make(map[string]string),
		byLabel:     make(map[string]string),
		knownIDs:    make(map[string]bool),
	}
}

// fullIndexPath 拼接索引前缀
func (s *Session) fullIndexPath(indexPath string) string {
	if s.indexPrefix == "" {
		return indexPath
	}
	return s.indexPrefix + "." + indexPath
}

// FindOrCreate 查找或创建任务（对外导出）
// indexPath为空时按(workerType, payload)内容计算默认路径。
// 命中（进程本地或外部索引）直接复用已有任务ID，该ID照常参与
// 依赖解析；确认未找到才创建任务，并附加索引注册路由供后续run
// 命中；除未找到之外的查询错误原样上抛，绝不当作未命中。
// 返回值第二项标记是否为缓存命中。
func (s *Session) FindOrCreate(ctx context.Context, t *task.Task, indexPath string, depIDs []string) (string, bool, error) {
	if indexPath == "" {
		computed, err := DefaultIndexPath(t.WorkerType, t.Payload)
		if err != nil {
			return "", false, fmt.Errorf("任务 %s: %w", t.Label, err)
		}
		indexPath = computed
	}
	full := s.fullIndexPath(indexPath)

	s.mu.RLock()
	id, ok := s.found[full]
	s.mu.RUnlock()
	if ok {
		s.registerResolved(t.Label, id)
		return id, true, nil
	}

	id, err := s.index.FindTask(ctx, full)
	switch {
	case err == nil:
		s.mu.Lock()
		s.found[full] = id
		s.knownIDs[id] = true
		s.scheduled = append(s.scheduled, ScheduledTask{
			Label:      t.Label,
			Kind:       t.Kind,
			WorkerType: t.WorkerType,
			TaskID:     id,
			IndexPath:  full,
			CacheHit:   true,
		})
		s.mu.Unlock()
		s.registerResolved(t.Label, id)
		return id, true, nil

	case remote.IsNotFound(err):
		withRoute := t.Clone()
		withRoute.Routes = append(withRoute.Routes, task.IndexRoutePrefix+full)
		id, err := s.schedule(ctx, withRoute, depIDs, full)
		if err != nil {
			return "", false, err
		}
		s.mu.Lock()
		s.found[full] = id
		s.mu.Unlock()
		return id, false, nil

	default:
		// 传输错误或服务故障：透传。误判为未命中会重复创建昂贵任务。
		return "", false, fmt.Errorf("任务 %s 索引查询失败: %w", t.Label, err)
	}
}

// ScheduleTask 直接创建任务，不经过索引查找（对外导出）
// 用于不做跨run去重的任务（每次run都要重新执行的构建/测试）。
func (s *Session) ScheduleTask(ctx context.Context, t *task.Task, depIDs []string) (string, error) {
	return s.schedule(ctx, t, depIDs, "")
}

func (s *Session) schedule(ctx context.Context, t *task.Task, depIDs []string, indexPath string) (string, error) {
	prepared := t.Clone()
	if resolver, ok := prepared.Payload.(task.UpstreamResolver); ok {
		if err := resolver.ResolveUpstreams(s.TaskIDForLabel); err != nil {
			return "", fmt.Errorf("任务 %s: %w", t.Label, err)
		}
	}

	def, err := prepared.QueueDefinition(s.render, depIDs)
	if err != nil {
		return "", err
	}

	id := task.NewSlugID()
	if err := s.queue.CreateTask(ctx, id, def); err != nil {
		return "", fmt.Errorf("任务 %s 创建失败: %w", t.Label, err)
	}

	s.mu.Lock()
	s.byLabel[t.Label] = id
	s.knownIDs[id] = true
	s.scheduled = append(s.scheduled, ScheduledTask{
		Label:      t.Label,
		Kind:       t.Kind,
		WorkerType: t.WorkerType,
		TaskID:     id,
		IndexPath:  indexPath,
		CacheHit:   false,
	})
	s.mu.Unlock()
	return id, nil
}

func (s *Session) registerResolved(label, id string) {
	if label == "" {
		return
	}
	s.mu.Lock()
	s.byLabel[label] = id
	s.mu.Unlock()
}

// TaskIDForLabel 查询label对应的外部任务ID
func (s *Session) TaskIDForLabel(label string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byLabel[label]
	return id, ok
}

// IsExternalID 判断某依赖串是否是本次run已解析的外部任务ID
// 任务图校验用它放行缓存命中产生的图外依赖。
func (s *Session) IsExternalID(dep string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.knownIDs[dep]
}

// ResolveDependencies 把依赖label列表解析为外部任务ID列表
// 已经是外部ID的依赖原样保留；无法解析的label报错。
func (s *Session) ResolveDependencies(deps []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		if id, ok := s.byLabel[dep]; ok {
			out = append(out, id)
			continue
		}
		if s.knownIDs[dep] {
			out = append(out, dep)
			continue
		}
		return nil, fmt.Errorf("依赖 %s 尚未调度，无法解析为任务ID", dep)
	}
	return out, nil
}

// ScheduledTasks 返回本次run的有序调度记录副本
func (s *Session) ScheduledTasks() []ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ScheduledTask(nil), s.scheduled...)
}

// AllTaskIDs 返回本次run全部任务ID（按调度顺序）
func (s *Session) AllTaskIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.scheduled))
	for _, st := range s.scheduled {
		out = append(out, st.TaskID)
	}
	return out
}

// LabelToTaskID 返回label->任务ID映射副本（run工件使用）
func (s *Session) LabelToTaskID() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.byLabel))
	for k, v := range s.byLabel {
		out[k] = v
	}
	return out
}

// Render 返回本次run的渲染上下文
func (s *Session) Render() *task.RenderConfig {
	return s.render
}
