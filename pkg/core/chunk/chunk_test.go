package chunk

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

func taskWithDeps(label string, depCount int) *task.Task {
	deps := make([]string, 0, depCount)
	for i := 0; i < depCount; i++ {
		deps = append(deps, fmt.Sprintf("build-%03d", i))
	}
	return &task.Task{
		Label:        label,
		Kind:         "aggregate",
		WorkerType:   "b-linux",
		Dependencies: deps,
		Routes:       []string{"notify.email.dev@example.com.on-failed"},
		Payload: &task.DockerWorkerPayload{
			Image:             task.DockerImage{Name: "ubuntu:22.04"},
			MaxRunTimeSeconds: 600,
		},
	}
}

// TestApplySplitsOversizedTask 37个依赖、上限15 → 15/15/7三片
func TestApplySplitsOversizedTask(t *testing.T) {
	parent := taskWithDeps("aggregate-all", 37)

	out, err := Apply([]*task.Task{parent}, 15)
	require.NoError(t, err)
	require.Len(t, out, 4, "三个子任务加父任务")

	sizes := []int{len(out[0].Dependencies), len(out[1].Dependencies), len(out[2].Dependencies)}
	assert.Equal(t, []int{15, 15, 7}, sizes)

	// 父任务只等子任务
	assert.Equal(t, parent, out[3])
	assert.Equal(t, []string{
		"aggregate-all-deps-001",
		"aggregate-all-deps-002",
		"aggregate-all-deps-003",
	}, parent.Dependencies)

	// 原有依赖全部被覆盖且不重叠
	covered := make(map[string]bool)
	for _, child := range out[:3] {
		for _, dep := range child.Dependencies {
			assert.False(t, covered[dep], "依赖 %s 不应出现在两片里", dep)
			covered[dep] = true
		}
	}
	assert.Len(t, covered, 37)
}

// TestApplyChildrenCarryNoRoutes 子任务不继承通知路由
func TestApplyChildrenCarryNoRoutes(t *testing.T) {
	parent := taskWithDeps("aggregate-all", 20)

	out, err := Apply([]*task.Task{parent}, 15)
	require.NoError(t, err)

	for _, child := range out[:len(out)-1] {
		assert.Empty(t, child.Routes, "子任务 %s 不应有路由", child.Label)
		assert.Empty(t, child.Scopes)
		assert.Equal(t, "b-linux", child.WorkerType)
		assert.True(t, child.Attributes.Has(task.AttrChunk))
	}
	// 父任务自己的通知路由保留
	assert.Contains(t, parent.Routes, "notify.email.dev@example.com.on-failed")
}

// TestApplyUnderLimitUntouched 未超限的任务原样通过
func TestApplyUnderLimitUntouched(t *testing.T) {
	parent := taskWithDeps("aggregate-all", 15)
	before := append([]string(nil), parent.Dependencies...)

	out, err := Apply([]*task.Task{parent}, 15)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, before, parent.Dependencies)
}

// TestApplyRecursiveRounds 子任务数仍超限时继续分片
func TestApplyRecursiveRounds(t *testing.T) {
	// 40个依赖、上限3：首轮14片，次轮5片，末轮2片
	parent := taskWithDeps("aggregate-all", 40)

	out, err := Apply([]*task.Task{parent}, 3)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(parent.Dependencies), 3)

	// 全部子任务依赖数都在上限内
	for _, child := range out[:len(out)-1] {
		assert.LessOrEqual(t, len(child.Dependencies), 3)
	}

	// 传递闭包仍覆盖全部原始依赖
	byLabel := make(map[string]*task.Task, len(out))
	for _, ct := range out {
		byLabel[ct.Label] = ct
	}
	reached := make(map[string]bool)
	var walk func(label string)
	walk = func(label string) {
		ct, ok := byLabel[label]
		if !ok {
			reached[label] = true // 原始依赖
			return
		}
		for _, dep := range ct.Dependencies {
			walk(dep)
		}
	}
	walk("aggregate-all")
	assert.Len(t, reached, 40)
}

// TestApplyDeterministic 两次运行产生相同切分
func TestApplyDeterministic(t *testing.T) {
	runOnce := func() []string {
		parent := taskWithDeps("aggregate-all", 37)
		// 打乱输入顺序
		parent.Dependencies[0], parent.Dependencies[36] = parent.Dependencies[36], parent.Dependencies[0]

		out, err := Apply([]*task.Task{parent}, 15)
		require.NoError(t, err)

		var flat []string
		for _, ct := range out {
			flat = append(flat, ct.Label)
			flat = append(flat, ct.Dependencies...)
		}
		return flat
	}

	assert.Equal(t, runOnce(), runOnce())
}

// TestApplyInvalidMax 上限非法报错
func TestApplyInvalidMax(t *testing.T) {
	_, err := Apply([]*task.Task{taskWithDeps("x", 5)}, 0)
	require.Error(t, err)
}

// TestChunkCount 分片数计算
func TestChunkCount(t *testing.T) {
	assert.Equal(t, 3, ChunkCount(37, 15))
	assert.Equal(t, 1, ChunkCount(15, 15))
	assert.Equal(t, 0, ChunkCount(0, 15))
}
