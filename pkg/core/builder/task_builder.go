package builder

import (
	"github.com/LENAX/decision-engine/pkg/core/task"
)

// TaskBuilder 任务构造器（对外导出）
// 不可变构造：每个WithX都返回携带深拷贝的新builder，同一个builder
// 可以安全地在多个分支上复用，不会出现别名踩踏。
type TaskBuilder struct {
	t *task.Task
}

// NewTask 创建任务构造器
func NewTask(label, kind string) TaskBuilder {
	return TaskBuilder{t: &task.Task{Label: label, Kind: kind}}
}

// FromTask 以现有任务为起点创建构造器（持有副本）
func FromTask(t *task.Task) TaskBuilder {
	return TaskBuilder{t: t.Clone()}
}

func (b TaskBuilder) clone() *task.Task {
	if b.t == nil {
		return &task.Task{}
	}
	return b.t.Clone()
}

// WithDescription 设置描述
func (b TaskBuilder) WithDescription(desc string) TaskBuilder {
	t := b.clone()
	t.Description = desc
	return TaskBuilder{t: t}
}

// WithWorkerType 设置worker pool类型
func (b TaskBuilder) WithWorkerType(workerType string) TaskBuilder {
	t := b.clone()
	t.WorkerType = workerType
	return TaskBuilder{t: t}
}

// WithPayload 设置worker payload变体
func (b TaskBuilder) WithPayload(p task.WorkerPayload) TaskBuilder {
	t := b.clone()
	if p != nil {
		t.Payload = p.Clone()
	} else {
		t.Payload = nil
	}
	return TaskBuilder{t: t}
}

// WithDependencies 追加依赖label（去重）
func (b TaskBuilder) WithDependencies(labels ...string) TaskBuilder {
	t := b.clone()
	for _, label := range labels {
		t.AddDependency(label)
	}
	return TaskBuilder{t: t}
}

// WithAttribute 设置单个attribute
func (b TaskBuilder) WithAttribute(key string, value any) TaskBuilder {
	t := b.clone()
	t.Attributes = t.Attributes.Merge(task.Attributes{key: value})
	return TaskBuilder{t: t}
}

// WithAttributes 叠加一组attributes
func (b TaskBuilder) WithAttributes(attrs task.Attributes) TaskBuilder {
	t := b.clone()
	t.Attributes = t.Attributes.Merge(attrs)
	return TaskBuilder{t: t}
}

// WithRoute 追加路由
func (b TaskBuilder) WithRoute(route string) TaskBuilder {
	t := b.clone()
	t.Routes = append(t.Routes, route)
	return TaskBuilder{t: t}
}

// WithScope 追加授权scope
func (b TaskBuilder) WithScope(scope string) TaskBuilder {
	t := b.clone()
	t.Scopes = append(t.Scopes, scope)
	return TaskBuilder{t: t}
}

// Build 校验并产出任务
func (b TaskBuilder) Build() (*task.Task, error) {
	t := b.clone()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// MustBuild 校验并产出任务，失败时panic（仅用于静态模板）
func (b TaskBuilder) MustBuild() *task.Task {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}
