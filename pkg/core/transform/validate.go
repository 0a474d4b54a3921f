package transform

import (
	"context"
	"fmt"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

// ValidateTasks 逐任务schema校验（对外导出）
// 要求keyed字段已解析完毕，因此流水线中应排在resolve-keyed-by之后。
// 同时拒绝批内重复label与自依赖。
func ValidateTasks(_ context.Context, tc *Context, tasks []*task.Task) ([]*task.Task, error) {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if tc.Kind != nil && t.Kind != tc.Kind.Name {
			return nil, &task.ValidationError{
				Label:  t.Label,
				Field:  "kind",
				Reason: fmt.Sprintf("任务属于kind %s，流水线处理的是 %s", t.Kind, tc.Kind.Name),
			}
		}
		if seen[t.Label] {
			return nil, &task.ValidationError{
				Label:  t.Label,
				Field:  "label",
				Reason: "label重复",
			}
		}
		seen[t.Label] = true
		if t.HasDependency(t.Label) {
			return nil, &task.ValidationError{
				Label:  t.Label,
				Field:  "dependencies",
				Reason: "任务不能依赖自己",
			}
		}
	}
	return tasks, nil
}
