// Package transform 实现kind内的任务改写流水线。
// 每个阶段接收上一阶段产出的任务集，可以原地改写、一变多或丢弃；
// 阶段顺序来自kind配置，是正确性契约的一部分。
package transform

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

// Func 单个变换阶段（对外导出）
type Func func(ctx context.Context, tc *Context, tasks []*task.Task) ([]*task.Task, error)

// Error 变换阶段失败（对外导出）
// 记录失败的阶段名与任务label，整个run随之中止。
type Error struct {
	Transform string
	Label     string
	Err       error
}

func (e *Error) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("变换 %s 执行失败: %v", e.Transform, e.Err)
	}
	return fmt.Sprintf("变换 %s 处理任务 %s 失败: %v", e.Transform, e.Label, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Registry 按名称登记变换阶段（对外导出）
// 在启动时显式构建并传入引擎，不依赖包级注册表。
type Registry struct {
	transforms map[string]Func
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{transforms: make(map[string]Func)}
}

// NewStandardRegistry 创建带全部内置阶段的注册表（对外导出）
func NewStandardRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("validate", ValidateTasks)
	r.MustRegister("set-defaults", SetDefaults)
	r.MustRegister("substitute-parameters", SubstituteParameters)
	r.MustRegister("resolve-keyed-by", ResolveKeyedBy)
	r.MustRegister("docker-image", ResolveDockerImages)
	r.MustRegister("fetches", ResolveFetches)
	r.MustRegister("from-deps", FromDependencies)
	return r
}

// Register 登记变换，重名报错
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("变换名称不能为空")
	}
	if fn == nil {
		return fmt.Errorf("变换 %s 的实现不能为nil", name)
	}
	if _, exists := r.transforms[name]; exists {
		return fmt.Errorf("变换 %s 已注册", name)
	}
	r.transforms[name] = fn
	return nil
}

// MustRegister 登记变换，失败panic，仅用于启动期
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Names 返回已注册的变换名，排序后输出
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.transforms))
	for name := range r.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sequence 按kind配置的顺序组装流水线（对外导出）
func (r *Registry) Sequence(names []string) (*Sequence, error) {
	steps := make([]step, 0, len(names))
	for _, name := range names {
		fn, ok := r.transforms[name]
		if !ok {
			return nil, fmt.Errorf("未注册的变换: %s", name)
		}
		steps = append(steps, step{name: name, apply: fn})
	}
	return &Sequence{steps: steps}, nil
}

type step struct {
	name  string
	apply Func
}

// Sequence 有序变换流水线（对外导出）
type Sequence struct {
	steps []step
}

// Names 流水线包含的阶段名
func (s *Sequence) Names() []string {
	names := make([]string, 0, len(s.steps))
	for _, st := range s.steps {
		names = append(names, st.name)
	}
	return names
}

// Run 依次执行全部阶段（对外导出）
// 第i阶段的输出作为第i+1阶段的输入；任一阶段报错立即中止，
// 错误包装成*Error带上阶段名与任务label。
func (s *Sequence) Run(ctx context.Context, tc *Context, tasks []*task.Task) ([]*task.Task, error) {
	current := tasks
	for _, st := range s.steps {
		next, err := st.apply(ctx, tc, current)
		if err != nil {
			return nil, wrapStepError(st.name, err)
		}
		current = next
	}
	return current, nil
}

func wrapStepError(name string, err error) error {
	var terr *Error
	if errors.As(err, &terr) {
		return err
	}
	label := ""
	var verr *task.ValidationError
	if errors.As(err, &verr) {
		label = verr.Label
	}
	return &Error{Transform: name, Label: label, Err: err}
}
