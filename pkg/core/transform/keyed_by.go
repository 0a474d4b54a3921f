package transform

import (
	"context"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

// ResolveKeyedBy 解析模板中的keyed字段（对外导出）
// worker-type与docker-image支持by-trigger/by-build-level写法，
// 此阶段按run参数取出具体值。消费这些字段的阶段必须排在其后。
func ResolveKeyedBy(_ context.Context, tc *Context, tasks []*task.Task) ([]*task.Task, error) {
	for _, t := range tasks {
		tmpl, ok := tc.TemplateFor(t)
		if !ok {
			continue
		}

		if t.WorkerType == "" && tmpl.Worker.WorkerType.IsKeyed() {
			resolved, err := tmpl.Worker.WorkerType.Resolve(tc.Parameters)
			if err != nil {
				return nil, &task.ValidationError{
					Label:  t.Label,
					Field:  "worker.worker-type",
					Reason: err.Error(),
				}
			}
			t.WorkerType = resolved
		}

		payload, isDocker := t.Payload.(*task.DockerWorkerPayload)
		if !isDocker {
			continue
		}
		if payload.Image.Name == "" && payload.Image.InTree == "" &&
			payload.Image.TaskID == "" && tmpl.Worker.DockerImage.IsKeyed() {
			resolved, err := tmpl.Worker.DockerImage.Resolve(tc.Parameters)
			if err != nil {
				return nil, &task.ValidationError{
					Label:  t.Label,
					Field:  "worker.docker-image",
					Reason: err.Error(),
				}
			}
			payload.Image = task.DockerImage{Name: resolved}
		}
	}
	return tasks, nil
}
