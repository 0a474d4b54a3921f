package transform

import (
	"context"
	"sort"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

// DepGroup 一个依赖分组（对外导出）
// Tasks是上游任务的深拷贝，组与组之间绝不共享底层对象。
type DepGroup struct {
	Key   string
	Tasks []*task.Task
}

// Labels 组内任务label，保持组装顺序
func (g DepGroup) Labels() []string {
	labels := make([]string, 0, len(g.Tasks))
	for _, t := range g.Tasks {
		labels = append(labels, t.Label)
	}
	return labels
}

// GroupByAttribute 按attribute取值分组（对外导出）
// 每个取值一组；保留值"all"的任务复制进每一组而不自成一组；
// 没有该attribute的任务不参与分组。组按键排序，组内先普通成员
// 后"all"成员，均保持上游顺序。没有普通成员的组不会产生。
func GroupByAttribute(groupBy string, upstream []*task.Task) []DepGroup {
	grouped := make(map[string][]*task.Task)
	var shared []*task.Task

	for _, t := range upstream {
		key := t.Attributes.StringOr(groupBy, "")
		if key == "" {
			continue
		}
		if key == task.ComponentAll {
			shared = append(shared, t)
			continue
		}
		grouped[key] = append(grouped[key], t)
	}

	keys := make([]string, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]DepGroup, 0, len(keys))
	for _, key := range keys {
		group := DepGroup{Key: key}
		for _, member := range grouped[key] {
			group.Tasks = append(group.Tasks, member.Clone())
		}
		for _, member := range shared {
			group.Tasks = append(group.Tasks, member.Clone())
		}
		out = append(out, group)
	}
	return out
}

// FromDependencies 按上游分组合成下游任务（对外导出）
// kind配置了from-deps时，以唯一模板为原型，每组生成一个任务，
// label为 <kind>-<组键>，依赖恰好是组内全部label，分组attribute
// 记录组键。上游为空时不产生任何任务。
func FromDependencies(_ context.Context, tc *Context, tasks []*task.Task) ([]*task.Task, error) {
	cfg := tc.Kind.FromDeps
	if cfg == nil {
		return tasks, nil
	}
	if len(tc.Kind.Tasks) != 1 {
		return nil, &task.ValidationError{
			Field:  "from-deps",
			Reason: "from-deps kind必须恰好有一个任务模板",
		}
	}

	tmpl := &tc.Kind.Tasks[0]
	groups := GroupByAttribute(cfg.GroupBy, tc.UpstreamTasks(cfg.Kinds...))

	out := append([]*task.Task(nil), tasks...)
	for _, group := range groups {
		t, err := tmpl.BuildTask(tc.Kind)
		if err != nil {
			return nil, err
		}
		t.Label = tc.Kind.Name + "-" + group.Key
		t.Dependencies = group.Labels()
		if t.Attributes == nil {
			t.Attributes = make(task.Attributes, 1)
		}
		t.Attributes[cfg.GroupBy] = group.Key
		out = append(out, t)
	}
	return out, nil
}
