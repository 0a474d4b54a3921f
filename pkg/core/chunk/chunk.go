// Package chunk 把超出依赖上限的任务拆成分层等待结构。
// 队列对单任务直接依赖数有硬上限；超限任务的依赖排序后切片，
// 每片由一个no-op子任务收集，父任务改为只等待这些子任务。
// 传递语义不变：父任务仍然间接等待原来的每一个依赖。
package chunk

import (
	"fmt"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

// DefaultMaxDependencies 队列默认的直接依赖上限
const DefaultMaxDependencies = 99

const (
	collectorImage   = "alpine:3.18"
	collectorRunTime = 600
)

// OverflowError 切片后仍有子块超限，属内部不变量被破坏（对外导出）
type OverflowError struct {
	Label string
	Size  int
	Max   int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("任务 %s 分片后仍有 %d 个依赖，超过上限 %d", e.Label, e.Size, e.Max)
}

// Apply 对任务集执行依赖分片（对外导出）
// 必须在所有会新增依赖的变换之后调用。超限任务的依赖按字典序
// 排序后切成ceil(n/max)片；子任务不继承父任务的任何路由与scope，
// 不会触发父任务的告警通知。一轮分片后子任务数仍超限时继续
// 对子任务分片。返回的列表先子后父，保持可直接装图的顺序。
func Apply(tasks []*task.Task, max int) ([]*task.Task, error) {
	if max <= 0 {
		return nil, fmt.Errorf("依赖上限必须大于0: %d", max)
	}

	out := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		if len(t.Dependencies) <= max {
			out = append(out, t)
			continue
		}

		children, err := split(t, max)
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
		out = append(out, t)
	}
	return out, nil
}

// split 反复分片直到父任务依赖数降到上限内
func split(parent *task.Task, max int) ([]*task.Task, error) {
	var all []*task.Task
	serial := 0

	for len(parent.Dependencies) > max {
		deps := parent.SortedDependencies()
		round := make([]string, 0, (len(deps)+max-1)/max)

		for start := 0; start < len(deps); start += max {
			end := start + max
			if end > len(deps) {
				end = len(deps)
			}
			piece := deps[start:end]
			if len(piece) > max {
				return nil, &OverflowError{Label: parent.Label, Size: len(piece), Max: max}
			}

			serial++
			child := newCollector(parent, serial, piece)
			all = append(all, child)
			round = append(round, child.Label)
		}
		parent.Dependencies = round
	}
	return all, nil
}

// newCollector 合成一片依赖的收集任务
// payload是固定的no-op，绝不参与内容寻址缓存。
func newCollector(parent *task.Task, serial int, deps []string) *task.Task {
	return &task.Task{
		Label:        fmt.Sprintf("%s-deps-%03d", parent.Label, serial),
		Kind:         parent.Kind,
		Description:  fmt.Sprintf("收集 %s 的一片依赖", parent.Label),
		WorkerType:   parent.WorkerType,
		Dependencies: append([]string(nil), deps...),
		Attributes: task.Attributes{
			task.AttrChunk: serial,
		},
		Payload: &task.DockerWorkerPayload{
			Image:             task.DockerImage{Name: collectorImage},
			Command:           []string{"/bin/true"},
			MaxRunTimeSeconds: collectorRunTime,
		},
	}
}

// ChunkCount 计算给定依赖数需要的分片数
func ChunkCount(depCount, max int) int {
	if max <= 0 || depCount <= 0 {
		return 0
	}
	return (depCount + max - 1) / max
}
