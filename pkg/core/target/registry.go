package target

import (
	"context"
	"fmt"
	"sort"

	"github.com/LENAX/decision-engine/pkg/config"
	"github.com/LENAX/decision-engine/pkg/core/graph"
)

// Registry 按名称登记目标选择策略（对外导出）
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// NewStandardRegistry 创建带全部内置策略的注册表（对外导出）
func NewStandardRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(StrategySkip, SelectSkip)
	r.MustRegister(StrategyNormal, SelectNormal)
	r.MustRegister(StrategyFull, SelectFull)
	r.MustRegister(StrategyRelease, SelectRelease)
	r.MustRegister(StrategyPromote, SelectPromote)
	r.MustRegister(StrategyShip, SelectShip)
	return r
}

// Register 登记策略，重名报错
func (r *Registry) Register(name string, s Strategy) error {
	if name == "" {
		return fmt.Errorf("策略名称不能为空")
	}
	if s == nil {
		return fmt.Errorf("策略 %s 的实现不能为nil", name)
	}
	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("策略 %s 已注册", name)
	}
	r.strategies[name] = s
	return nil
}

// MustRegister 登记策略，失败panic，仅用于启动期
func (r *Registry) MustRegister(name string, s Strategy) {
	if err := r.Register(name, s); err != nil {
		panic(err)
	}
}

// Names 返回已注册的策略名，排序后输出
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select 按名执行策略（对外导出）
func (r *Registry) Select(ctx context.Context, name string, g *graph.TaskGraph, params *config.RunParameters, env *Env) ([]string, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("未注册的策略: %s", name)
	}
	selected, err := s(ctx, g, params, env)
	if err != nil {
		return nil, fmt.Errorf("策略 %s 执行失败: %w", name, err)
	}
	return selected, nil
}
