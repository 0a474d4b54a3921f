package transform

import (
	"context"
	"sort"
	"strings"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

// ResolveFetches 把模板声明的工件拉取展开进payload（对外导出）
// fetches按上游kind声明；每个条目落到该kind下本任务依赖的任务上。
// 任务尚未依赖该kind且上游恰好只有一个候选时自动补依赖，
// 多个候选则视为配置含糊直接报错。
func ResolveFetches(_ context.Context, tc *Context, tasks []*task.Task) ([]*task.Task, error) {
	for _, t := range tasks {
		tmpl, ok := tc.TemplateFor(t)
		if !ok || len(tmpl.Fetches) == 0 {
			continue
		}
		payload, isDocker := t.Payload.(*task.DockerWorkerPayload)
		if !isDocker {
			return nil, &task.ValidationError{
				Label:  t.Label,
				Field:  "fetches",
				Reason: "只有docker-worker任务支持fetches",
			}
		}

		kinds := make([]string, 0, len(tmpl.Fetches))
		for kind := range tmpl.Fetches {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)

		for _, kind := range kinds {
			providers := fetchProviders(tc, t, kind)
			if len(providers) == 0 {
				return nil, &task.ValidationError{
					Label:  t.Label,
					Field:  "fetches",
					Reason: "fetches引用的kind " + kind + " 没有可明确定位的依赖任务",
				}
			}
			for _, provider := range providers {
				if !t.HasDependency(provider) {
					t.AddDependency(provider)
				}
				for _, artifact := range tmpl.Fetches[kind] {
					payload.Fetches = append(payload.Fetches, task.Fetch{
						Artifact:  artifact,
						TaskLabel: provider,
					})
				}
			}
		}
	}
	return tasks, nil
}

// fetchProviders 找出任务在某个kind下的拉取来源
// 先看已声明的依赖；没有时若上游该kind恰好一个任务则自动选中。
func fetchProviders(tc *Context, t *task.Task, kind string) []string {
	var out []string
	for _, dep := range t.Dependencies {
		if depKind, ok := tc.KindOfLabel(dep); ok {
			if depKind == kind {
				out = append(out, dep)
			}
			continue
		}
		if strings.HasPrefix(dep, kind+"-") {
			out = append(out, dep)
		}
	}
	if len(out) > 0 {
		return out
	}
	if upstream := tc.Upstream[kind]; len(upstream) == 1 {
		return []string{upstream[0].Label}
	}
	return nil
}
