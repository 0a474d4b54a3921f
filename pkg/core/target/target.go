// Package target 实现目标任务选择。
// 全图构建完成后，按触发参数选出真正需要调度的label子集；
// 依赖闭包由引擎在选择结果上另行计算。策略注册表在启动时显式
// 构建并传入引擎，不依赖包级可变状态。
package target

import (
	"context"
	"fmt"

	"github.com/LENAX/decision-engine/pkg/config"
	"github.com/LENAX/decision-engine/pkg/core/graph"
	"github.com/LENAX/decision-engine/pkg/remote"
)

// 内置策略名
const (
	StrategySkip    = "skip"
	StrategyNormal  = "normal"
	StrategyFull    = "full"
	StrategyRelease = "release"
	StrategyPromote = "promote"
	StrategyShip    = "ship"
)

// Env 策略执行环境（对外导出）
// release策略的nightly去重需要查询外部索引；纯过滤类策略不使用。
type Env struct {
	Index       remote.Index
	IndexPrefix string
}

// NightlyIndexPath 某revision的nightly decision标记索引路径（对外导出）
// release策略的去重查询与run完成后的标记登记必须使用同一条路径。
func NightlyIndexPath(prefix, revision string) string {
	path := fmt.Sprintf("decision.nightly.revision.%s", revision)
	if prefix == "" {
		return path
	}
	return prefix + "." + path
}

// NightlyIndexPath 某revision的nightly decision标记索引路径
func (e *Env) NightlyIndexPath(revision string) string {
	return NightlyIndexPath(e.IndexPrefix, revision)
}

// Strategy 目标选择策略（对外导出）
// 对(任务图, 触发参数)的纯谓词组合：返回应当调度的label列表。
// 除release策略的索引查询外不得有副作用。
type Strategy func(ctx context.Context, g *graph.TaskGraph, params *config.RunParameters, env *Env) ([]string, error)

// StrategyForParameters 由触发参数解析本次run的策略名（对外导出）
// pull-request按标题标签在skip/full/normal之间切换；push固定normal；
// tag与定时触发走release全量；显式的shipping phase优先于触发类型。
func StrategyForParameters(params *config.RunParameters) string {
	if params.SkipCI {
		return StrategySkip
	}
	switch params.ShippingPhase {
	case config.ShippingPhasePromote:
		return StrategyPromote
	case config.ShippingPhaseShip:
		return StrategyShip
	}

	switch params.TriggerKind {
	case config.TriggerTagRelease, config.TriggerCron:
		return StrategyRelease
	case config.TriggerPullRequest:
		if params.FullCI {
			return StrategyFull
		}
		return StrategyNormal
	default:
		return StrategyNormal
	}
}
