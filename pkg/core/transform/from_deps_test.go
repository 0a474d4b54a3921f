package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/decision-engine/pkg/config"
	"github.com/LENAX/decision-engine/pkg/core/task"
)

func componentTask(label, component string) *task.Task {
	t := newDockerTask(label, "build")
	t.Attributes = task.Attributes{task.AttrComponent: component}
	return t
}

// TestGroupByAttribute 按attribute分组，组键排序
func TestGroupByAttribute(t *testing.T) {
	upstream := []*task.Task{
		componentTask("build-sync", "sync"),
		componentTask("build-glean", "glean"),
		componentTask("build-sync-extra", "sync"),
	}

	groups := GroupByAttribute(task.AttrComponent, upstream)
	require.Len(t, groups, 2)

	assert.Equal(t, "glean", groups[0].Key)
	assert.Equal(t, []string{"build-glean"}, groups[0].Labels())
	assert.Equal(t, "sync", groups[1].Key)
	assert.Equal(t, []string{"build-sync", "build-sync-extra"}, groups[1].Labels())
}

// TestGroupByAttributeAllReplicated 保留值"all"复制进每一组
func TestGroupByAttributeAllReplicated(t *testing.T) {
	upstream := []*task.Task{
		componentTask("build-full-megazord", task.ComponentAll),
		componentTask("build-sync", "sync"),
		componentTask("build-glean", "glean"),
	}

	groups := GroupByAttribute(task.AttrComponent, upstream)
	require.Len(t, groups, 2, "all不应自成一组")

	assert.Equal(t, []string{"build-glean", "build-full-megazord"}, groups[0].Labels())
	assert.Equal(t, []string{"build-sync", "build-full-megazord"}, groups[1].Labels())
}

// TestGroupByAttributeNoAliasing 组与组不共享任务对象
func TestGroupByAttributeNoAliasing(t *testing.T) {
	shared := componentTask("build-full-megazord", task.ComponentAll)
	shared.Payload.(*task.DockerWorkerPayload).Env = map[string]string{"KEY": "原值"}

	upstream := []*task.Task{
		shared,
		componentTask("build-sync", "sync"),
		componentTask("build-glean", "glean"),
	}

	groups := GroupByAttribute(task.AttrComponent, upstream)
	require.Len(t, groups, 2)

	// 改第一组里的副本
	copied := groups[0].Tasks[1]
	require.Equal(t, "build-full-megazord", copied.Label)
	copied.Attributes[task.AttrComponent] = "被改掉"
	copied.Payload.(*task.DockerWorkerPayload).Env["KEY"] = "改过"

	// 第二组与原任务都不受影响
	other := groups[1].Tasks[1]
	assert.Equal(t, task.ComponentAll, other.Attributes.StringOr(task.AttrComponent, ""))
	assert.Equal(t, "原值", other.Payload.(*task.DockerWorkerPayload).Env["KEY"])
	assert.Equal(t, task.ComponentAll, shared.Attributes.StringOr(task.AttrComponent, ""))
	assert.Equal(t, "原值", shared.Payload.(*task.DockerWorkerPayload).Env["KEY"])
}

// TestGroupByAttributeOnlyShared 只有"all"成员时没有任何组
func TestGroupByAttributeOnlyShared(t *testing.T) {
	upstream := []*task.Task{componentTask("build-full-megazord", task.ComponentAll)}
	assert.Empty(t, GroupByAttribute(task.AttrComponent, upstream))
}

// TestGroupByAttributeEmptyUpstream 空上游不产生组
func TestGroupByAttributeEmptyUpstream(t *testing.T) {
	assert.Empty(t, GroupByAttribute(task.AttrComponent, nil))
}

func fromDepsKind() *config.KindConfig {
	return &config.KindConfig{
		Name: "module-test",
		FromDeps: &config.FromDepsConfig{
			GroupBy: task.AttrComponent,
			Kinds:   []string{"build"},
		},
		Tasks: []config.TaskTemplate{{
			Name:        "run",
			Description: "组件联测",
			Worker: config.WorkerTemplate{
				Implementation: task.WorkerImplDockerWorker,
				WorkerType:     config.KeyedString{Value: "t-linux"},
				DockerImage:    config.KeyedString{Value: "ubuntu:22.04"},
				MaxRunTime:     1200,
			},
		}},
	}
}

// TestFromDependencies 每组合成一个下游任务
func TestFromDependencies(t *testing.T) {
	tc := &Context{
		Kind:       fromDepsKind(),
		Parameters: testParams(),
		Upstream: map[string][]*task.Task{
			"build": {
				componentTask("build-sync", "sync"),
				componentTask("build-glean", "glean"),
				componentTask("build-full-megazord", task.ComponentAll),
			},
		},
	}

	out, err := FromDependencies(context.Background(), tc, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "module-test-glean", out[0].Label)
	assert.Equal(t, []string{"build-glean", "build-full-megazord"}, out[0].Dependencies)
	assert.Equal(t, "glean", out[0].Attributes.StringOr(task.AttrComponent, ""))

	assert.Equal(t, "module-test-sync", out[1].Label)
	assert.Equal(t, []string{"build-sync", "build-full-megazord"}, out[1].Dependencies)
}

// TestFromDependenciesEmptyUpstream 空上游不产生任务
func TestFromDependenciesEmptyUpstream(t *testing.T) {
	tc := &Context{
		Kind:       fromDepsKind(),
		Parameters: testParams(),
		Upstream:   map[string][]*task.Task{},
	}

	out, err := FromDependencies(context.Background(), tc, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

// TestFromDependenciesPassthrough 没配from-deps时原样通过
func TestFromDependenciesPassthrough(t *testing.T) {
	tc := &Context{Kind: &config.KindConfig{Name: "build"}}
	in := []*task.Task{newDockerTask("build-a", "build")}

	out, err := FromDependencies(context.Background(), tc, in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
