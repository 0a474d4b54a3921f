package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/decision-engine/pkg/config"
	"github.com/LENAX/decision-engine/pkg/core/task"
)

// TestValidateTasksRejectsBadTask 校验失败带label与字段
func TestValidateTasksRejectsBadTask(t *testing.T) {
	tc := &Context{Kind: &config.KindConfig{Name: "build"}}

	bad := newDockerTask("build-a", "build")
	bad.Payload.(*task.DockerWorkerPayload).MaxRunTimeSeconds = 0

	_, err := ValidateTasks(context.Background(), tc, []*task.Task{bad})
	require.Error(t, err)

	var verr *task.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "build-a", verr.Label)
}

// TestValidateTasksRejectsDuplicateLabel 批内重复label
func TestValidateTasksRejectsDuplicateLabel(t *testing.T) {
	tc := &Context{Kind: &config.KindConfig{Name: "build"}}
	tasks := []*task.Task{newDockerTask("build-a", "build"), newDockerTask("build-a", "build")}

	_, err := ValidateTasks(context.Background(), tc, tasks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "label")
}

// TestValidateTasksRejectsSelfDependency 自依赖
func TestValidateTasksRejectsSelfDependency(t *testing.T) {
	tc := &Context{Kind: &config.KindConfig{Name: "build"}}
	bad := newDockerTask("build-a", "build")
	bad.Dependencies = []string{"build-a"}

	_, err := ValidateTasks(context.Background(), tc, []*task.Task{bad})
	require.Error(t, err)
}

// TestValidateTasksRejectsForeignKind 串kind的任务
func TestValidateTasksRejectsForeignKind(t *testing.T) {
	tc := &Context{Kind: &config.KindConfig{Name: "build"}}
	foreign := newDockerTask("test-a", "test")

	_, err := ValidateTasks(context.Background(), tc, []*task.Task{foreign})
	require.Error(t, err)
}

// TestSetDefaults 默认运行上限、构建级别env与cache scope
func TestSetDefaults(t *testing.T) {
	tc := &Context{Parameters: testParams()}

	in := newDockerTask("build-a", "build")
	payload := in.Payload.(*task.DockerWorkerPayload)
	payload.MaxRunTimeSeconds = 0
	payload.Caches = map[string]string{
		"ci-level-3-checkouts": "/builds/worker/checkouts",
	}

	out, err := SetDefaults(context.Background(), tc, []*task.Task{in})
	require.NoError(t, err)

	got := out[0].Payload.(*task.DockerWorkerPayload)
	assert.Equal(t, DefaultMaxRunTimeSeconds, got.MaxRunTimeSeconds)
	assert.Equal(t, "3", got.Env["CI_BUILD_LEVEL"])
	assert.Contains(t, out[0].Scopes, "docker-worker:cache:ci-level-3-checkouts")

	// 再跑一遍不应重复追加scope
	out, err = SetDefaults(context.Background(), tc, out)
	require.NoError(t, err)
	assert.Len(t, out[0].Scopes, 1)
}

// TestSetDefaultsKeepsExplicitValues 显式值不被覆盖
func TestSetDefaultsKeepsExplicitValues(t *testing.T) {
	tc := &Context{Parameters: testParams()}

	in := newDockerTask("build-a", "build")
	payload := in.Payload.(*task.DockerWorkerPayload)
	payload.MaxRunTimeSeconds = 7200
	payload.Env = map[string]string{"CI_BUILD_LEVEL": "1"}

	out, err := SetDefaults(context.Background(), tc, []*task.Task{in})
	require.NoError(t, err)

	got := out[0].Payload.(*task.DockerWorkerPayload)
	assert.Equal(t, 7200, got.MaxRunTimeSeconds)
	assert.Equal(t, "1", got.Env["CI_BUILD_LEVEL"])
}

// TestResolveKeyedBy 按参数解析worker-type与镜像
func TestResolveKeyedBy(t *testing.T) {
	kind := &config.KindConfig{
		Name: "signing",
		Tasks: []config.TaskTemplate{{
			Name: "apk",
			Worker: config.WorkerTemplate{
				Implementation: task.WorkerImplSigning,
				WorkerType: config.KeyedString{ByTrigger: map[string]string{
					"tag-release": "signing-prod",
					"default":     "signing-dev",
				}},
			},
		}},
	}

	in := &task.Task{
		Label: "signing-apk",
		Kind:  "signing",
		Payload: &task.SigningPayload{UpstreamArtifacts: []task.UpstreamArtifact{
			{TaskLabel: "build-android", TaskType: "build", Paths: []string{"public/build/app.apk"}},
		}},
	}

	release := testParams()
	release.TriggerKind = config.TriggerTagRelease
	tc := &Context{Kind: kind, Parameters: release}

	out, err := ResolveKeyedBy(context.Background(), tc, []*task.Task{in})
	require.NoError(t, err)
	assert.Equal(t, "signing-prod", out[0].WorkerType)

	// push触发回退default
	in2 := in.Clone()
	in2.WorkerType = ""
	tc2 := &Context{Kind: kind, Parameters: testParams()}
	out, err = ResolveKeyedBy(context.Background(), tc2, []*task.Task{in2})
	require.NoError(t, err)
	assert.Equal(t, "signing-dev", out[0].WorkerType)
}

// TestResolveKeyedByImage keyed镜像按build level解析
func TestResolveKeyedByImage(t *testing.T) {
	kind := &config.KindConfig{
		Name: "build",
		Tasks: []config.TaskTemplate{{
			Name: "android",
			Worker: config.WorkerTemplate{
				Implementation: task.WorkerImplDockerWorker,
				WorkerType:     config.KeyedString{Value: "b-linux"},
				DockerImage: config.KeyedString{ByBuildLevel: map[string]string{
					"3":       "registry.example.com/hardened:latest",
					"default": "ubuntu:22.04",
				}},
				MaxRunTime: 600,
			},
		}},
	}

	in := &task.Task{
		Label:      "build-android",
		Kind:       "build",
		WorkerType: "b-linux",
		Payload:    &task.DockerWorkerPayload{MaxRunTimeSeconds: 600},
	}

	tc := &Context{Kind: kind, Parameters: testParams()} // level 3
	out, err := ResolveKeyedBy(context.Background(), tc, []*task.Task{in})
	require.NoError(t, err)

	payload := out[0].Payload.(*task.DockerWorkerPayload)
	assert.Equal(t, "registry.example.com/hardened:latest", payload.Image.Name)
}

// TestResolveFetches fetch声明展开成payload条目与依赖
func TestResolveFetches(t *testing.T) {
	kind := &config.KindConfig{
		Name: "test",
		Tasks: []config.TaskTemplate{{
			Name: "unit",
			Worker: config.WorkerTemplate{
				Implementation: task.WorkerImplDockerWorker,
				WorkerType:     config.KeyedString{Value: "t-linux"},
				DockerImage:    config.KeyedString{Value: "ubuntu:22.04"},
				MaxRunTime:     600,
			},
			Fetches: map[string][]string{
				"build": {"public/build/app.apk"},
			},
		}},
	}

	in := newDockerTask("test-unit", "test")
	in.Dependencies = []string{"build-android"}

	tc := &Context{
		Kind:       kind,
		Parameters: testParams(),
		Upstream: map[string][]*task.Task{
			"build": {newDockerTask("build-android", "build")},
		},
	}

	out, err := ResolveFetches(context.Background(), tc, []*task.Task{in})
	require.NoError(t, err)

	payload := out[0].Payload.(*task.DockerWorkerPayload)
	require.Len(t, payload.Fetches, 1)
	assert.Equal(t, "public/build/app.apk", payload.Fetches[0].Artifact)
	assert.Equal(t, "build-android", payload.Fetches[0].TaskLabel)
	assert.Equal(t, []string{"build-android"}, out[0].Dependencies)
}

// TestResolveFetchesAutoDependency 唯一上游自动补依赖
func TestResolveFetchesAutoDependency(t *testing.T) {
	kind := &config.KindConfig{
		Name: "test",
		Tasks: []config.TaskTemplate{{
			Name: "unit",
			Worker: config.WorkerTemplate{
				Implementation: task.WorkerImplDockerWorker,
				WorkerType:     config.KeyedString{Value: "t-linux"},
				DockerImage:    config.KeyedString{Value: "ubuntu:22.04"},
				MaxRunTime:     600,
			},
			Fetches: map[string][]string{
				"toolchain": {"public/toolchain/rust.tar.xz"},
			},
		}},
	}

	in := newDockerTask("test-unit", "test")
	tc := &Context{
		Kind:       kind,
		Parameters: testParams(),
		Upstream: map[string][]*task.Task{
			"toolchain": {newDockerTask("toolchain-rust", "toolchain")},
		},
	}

	out, err := ResolveFetches(context.Background(), tc, []*task.Task{in})
	require.NoError(t, err)
	assert.Equal(t, []string{"toolchain-rust"}, out[0].Dependencies)
}

// TestResolveFetchesAmbiguous 多个候选且未声明依赖时报错
func TestResolveFetchesAmbiguous(t *testing.T) {
	kind := &config.KindConfig{
		Name: "test",
		Tasks: []config.TaskTemplate{{
			Name: "unit",
			Worker: config.WorkerTemplate{
				Implementation: task.WorkerImplDockerWorker,
				WorkerType:     config.KeyedString{Value: "t-linux"},
				DockerImage:    config.KeyedString{Value: "ubuntu:22.04"},
				MaxRunTime:     600,
			},
			Fetches: map[string][]string{
				"build": {"public/build/app.apk"},
			},
		}},
	}

	in := newDockerTask("test-unit", "test")
	tc := &Context{
		Kind:       kind,
		Parameters: testParams(),
		Upstream: map[string][]*task.Task{
			"build": {
				newDockerTask("build-android", "build"),
				newDockerTask("build-ios", "build"),
			},
		},
	}

	_, err := ResolveFetches(context.Background(), tc, []*task.Task{in})
	require.Error(t, err)
}
