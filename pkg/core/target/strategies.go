package target

import (
	"context"
	"fmt"
	"log"

	"github.com/LENAX/decision-engine/pkg/config"
	"github.com/LENAX/decision-engine/pkg/core/graph"
	"github.com/LENAX/decision-engine/pkg/core/task"
	"github.com/LENAX/decision-engine/pkg/remote"
)

// run-on-ci-type attribute的取值。未设置按RunOnAll处理：
// 任务默认在normal与full两类run中都参与。
const (
	RunOnNormalCI = "normal-ci"
	RunOnFullCI   = "full-ci"
	RunOnAll      = "all"
)

// SelectSkip 什么都不选（对外导出）
// [ci skip]触发仍然走完整的run流程，只是产出空调度。
func SelectSkip(_ context.Context, _ *graph.TaskGraph, _ *config.RunParameters, _ *Env) ([]string, error) {
	return nil, nil
}

// SelectNormal 选择参与normal CI的任务（对外导出）
// run-on-ci-type为normal-ci或all（含未设置）的任务入选；
// 带shipping-phase标记的任务只属于发布流程，一律排除。
func SelectNormal(_ context.Context, g *graph.TaskGraph, _ *config.RunParameters, _ *Env) ([]string, error) {
	return filterByRunOn(g, RunOnNormalCI), nil
}

// SelectFull 选择参与full CI的任务（对外导出）
func SelectFull(_ context.Context, g *graph.TaskGraph, _ *config.RunParameters, _ *Env) ([]string, error) {
	return filterByRunOn(g, RunOnFullCI), nil
}

// SelectRelease 全量选择（对外导出）
// tag推送与定时触发使用：全图每个任务都调度。定时触发带nightly
// 去重保护：索引中已有同revision的nightly decision标记时选空集，
// 避免同一份源码被重复构建发布。索引查询的传输错误原样上抛，
// 误判成"未找到"会导致重复创建昂贵任务。
func SelectRelease(ctx context.Context, g *graph.TaskGraph, params *config.RunParameters, env *Env) ([]string, error) {
	if params.TriggerKind == config.TriggerCron {
		dup, err := nightlyAlreadyScheduled(ctx, params.Revision, env)
		if err != nil {
			return nil, err
		}
		if dup {
			log.Printf("⚠️ [目标选择] revision %s 已有nightly decision，选择空集", params.Revision)
			return nil, nil
		}
	}
	return g.Labels(), nil
}

// SelectPromote 选择promote发布阶段的任务（对外导出）
func SelectPromote(_ context.Context, g *graph.TaskGraph, _ *config.RunParameters, _ *Env) ([]string, error) {
	return filterByShippingPhase(g, config.ShippingPhasePromote), nil
}

// SelectShip 选择ship发布阶段的任务（对外导出）
// promote入选的任务一并保留，ship步骤的依赖闭包才始终可调度。
func SelectShip(_ context.Context, g *graph.TaskGraph, _ *config.RunParameters, _ *Env) ([]string, error) {
	selected := filterByShippingPhase(g, config.ShippingPhaseShip)
	member := make(map[string]bool, len(selected))
	for _, label := range selected {
		member[label] = true
	}

	out := make([]string, 0, len(selected))
	for _, label := range g.Labels() {
		if member[label] {
			out = append(out, label)
			continue
		}
		t, _ := g.Get(label)
		if t.Attributes.StringOr(task.AttrShippingPhase, "") == config.ShippingPhasePromote {
			out = append(out, label)
		}
	}
	return out, nil
}

// filterByRunOn 按run-on-ci-type筛选，保持图插入顺序
func filterByRunOn(g *graph.TaskGraph, ciType string) []string {
	var out []string
	for _, t := range g.Tasks() {
		if t.Attributes.Has(task.AttrShippingPhase) {
			continue
		}
		runOn := t.Attributes.StringOr(task.AttrRunOnCIType, RunOnAll)
		if runOn == RunOnAll || runOn == ciType {
			out = append(out, t.Label)
		}
	}
	return out
}

// filterByShippingPhase 按shipping-phase筛选，保持图插入顺序
func filterByShippingPhase(g *graph.TaskGraph, phase string) []string {
	var out []string
	for _, t := range g.Tasks() {
		if t.Attributes.StringOr(task.AttrShippingPhase, "") == phase {
			out = append(out, t.Label)
		}
	}
	return out
}

// nightlyAlreadyScheduled 查询索引中是否已有本revision的nightly标记
func nightlyAlreadyScheduled(ctx context.Context, revision string, env *Env) (bool, error) {
	if env == nil || env.Index == nil {
		return false, nil
	}
	taskID, err := env.Index.FindTask(ctx, env.NightlyIndexPath(revision))
	if remote.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询nightly标记失败: %w", err)
	}
	return taskID != "", nil
}
