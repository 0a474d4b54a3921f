package graph

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

// AmbiguousDependencyError 依赖引用了图中不存在且未被外部解析的label（对外导出）
type AmbiguousDependencyError struct {
	Label      string
	Dependency string
}

func (e *AmbiguousDependencyError) Error() string {
	return fmt.Sprintf("任务 %s 引用了未知依赖 %s", e.Label, e.Dependency)
}

// TaskGraph 一次decision run的候选任务图（对外导出）
// label到任务记录的有序映射，保持插入顺序。每次run创建一张，
// 由流水线各阶段逐步填充，绝不与其他run的图合并。
// 插入即冻结：Add持有深拷贝，之后对原对象的修改不影响图。
type TaskGraph struct {
	order []string
	tasks map[string]*task.Task
}

// NewTaskGraph 创建空任务图
func NewTaskGraph() *TaskGraph {
	return &TaskGraph{tasks: make(map[string]*task.Task)}
}

// Add 插入任务（对外导出）
// 重复label是schema级错误，直接中止本次run。
func (g *TaskGraph) Add(t *task.Task) error {
	if t == nil {
		return fmt.Errorf("不能插入空任务")
	}
	if t.Label == "" {
		return &task.ValidationError{Field: "label", Reason: "不能为空"}
	}
	if _, exists := g.tasks[t.Label]; exists {
		return &task.ValidationError{Label: t.Label, Field: "label", Reason: "label在图中重复"}
	}
	g.tasks[t.Label] = t.Clone()
	g.order = append(g.order, t.Label)
	return nil
}

// AddAll 按顺序插入一批任务
func (g *TaskGraph) AddAll(tasks []*task.Task) error {
	for _, t := range tasks {
		if err := g.Add(t); err != nil {
			return err
		}
	}
	return nil
}

// Get 按label取任务
func (g *TaskGraph) Get(label string) (*task.Task, bool) {
	t, ok := g.tasks[label]
	return t, ok
}

// Has 判断label是否在图中
func (g *TaskGraph) Has(label string) bool {
	_, ok := g.tasks[label]
	return ok
}

// Labels 返回插入顺序的label列表副本
func (g *TaskGraph) Labels() []string {
	return append([]string(nil), g.order...)
}

// Tasks 返回插入顺序的任务列表
func (g *TaskGraph) Tasks() []*task.Task {
	out := make([]*task.Task, 0, len(g.order))
	for _, label := range g.order {
		out = append(out, g.tasks[label])
	}
	return out
}

// Len 图中任务数
func (g *TaskGraph) Len() int {
	return len(g.order)
}

// Validate 校验图的完整性（对外导出）
// 每个依赖label必须能在图内解析，或被resolvedExternally确认
// 为缓存命中的外部任务ID。悬空依赖是致命错误。
func (g *TaskGraph) Validate(resolvedExternally func(dep string) bool) error {
	for _, label := range g.order {
		for _, dep := range g.tasks[label].Dependencies {
			if g.Has(dep) {
				continue
			}
			if resolvedExternally != nil && resolvedExternally(dep) {
				continue
			}
			return &AmbiguousDependencyError{Label: label, Dependency: dep}
		}
	}
	return nil
}

// Closure 计算选中label集合的依赖传递闭包（对外导出）
// 返回按图插入顺序排列的label集合：选中任务的每个祖先都必须
// 一同提交。图外（已被缓存解析）的依赖不在返回之列。
func (g *TaskGraph) Closure(selected []string) []string {
	member := make(map[string]bool, len(selected))
	stack := make([]string, 0, len(selected))
	for _, label := range selected {
		if g.Has(label) && !member[label] {
			member[label] = true
			stack = append(stack, label)
		}
	}
	for len(stack) > 0 {
		label := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range g.tasks[label].SortedDependencies() {
			if g.Has(dep) && !member[dep] {
				member[dep] = true
				stack = append(stack, dep)
			}
		}
	}

	out := make([]string, 0, len(member))
	for _, label := range g.order {
		if member[label] {
			out = append(out, label)
		}
	}
	return out
}

// Dependents 返回直接依赖某label的任务label列表（排序后）
func (g *TaskGraph) Dependents(label string) []string {
	var out []string
	for _, l := range g.order {
		if g.tasks[l].HasDependency(label) {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

// MarshalJSON 序列化为label->任务的JSON对象
func (g *TaskGraph) MarshalJSON() ([]byte, error) {
	m := make(map[string]*task.Task, len(g.order))
	for _, label := range g.order {
		m[label] = g.tasks[label]
	}
	return json.Marshal(m)
}
