package task

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDockerPayload() *DockerWorkerPayload {
	return &DockerWorkerPayload{
		Image:             DockerImage{Name: "ubuntu:22.04"},
		Command:           []string{"/bin/bash", "-c", "make build"},
		Env:               map[string]string{"CI": "1"},
		MaxRunTimeSeconds: 3600,
	}
}

func TestTaskValidate(t *testing.T) {
	// 完整任务应通过校验
	tk := &Task{
		Label:      "build-android",
		Kind:       "build",
		WorkerType: "b-linux",
		Payload:    sampleDockerPayload(),
	}
	require.NoError(t, tk.Validate())

	// 缺少label
	bad := &Task{Kind: "build", WorkerType: "b-linux", Payload: sampleDockerPayload()}
	err := bad.Validate()
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "label", ve.Field)

	// 缺少payload
	bad = &Task{Label: "x", Kind: "build", WorkerType: "b-linux"}
	err = bad.Validate()
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "payload", ve.Field)
	assert.Equal(t, "x", ve.Label)
}

func TestTaskValidateFillsLabelIntoPayloadError(t *testing.T) {
	// payload校验错误应携带任务label
	tk := &Task{
		Label:      "build-android",
		Kind:       "build",
		WorkerType: "b-linux",
		Payload:    &DockerWorkerPayload{MaxRunTimeSeconds: 60},
	}
	err := tk.Validate()
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "build-android", ve.Label)
	assert.Equal(t, "payload.image", ve.Field)
}

func TestTaskClone(t *testing.T) {
	orig := &Task{
		Label:        "build-a",
		Kind:         "build",
		WorkerType:   "b-linux",
		Payload:      sampleDockerPayload(),
		Dependencies: []string{"fetch-sources"},
		Attributes:   Attributes{"component": "a", "nested": map[string]any{"k": "v"}},
		Routes:       []string{"notify.email.dev@example.com"},
	}
	cp := orig.Clone()

	// 修改副本不应影响原任务
	cp.Dependencies = append(cp.Dependencies, "extra")
	cp.Attributes["component"] = "b"
	cp.Attributes["nested"].(map[string]any)["k"] = "changed"
	cp.Payload.(*DockerWorkerPayload).Env["CI"] = "0"

	assert.Equal(t, []string{"fetch-sources"}, orig.Dependencies)
	assert.Equal(t, "a", orig.Attributes.StringOr("component", ""))
	assert.Equal(t, "v", orig.Attributes["nested"].(map[string]any)["k"])
	assert.Equal(t, "1", orig.Payload.(*DockerWorkerPayload).Env["CI"])
}

func TestSortedDependencies(t *testing.T) {
	tk := &Task{Dependencies: []string{"c", "a", "b"}}
	assert.Equal(t, []string{"a", "b", "c"}, tk.SortedDependencies())
	// 原顺序保持不变
	assert.Equal(t, []string{"c", "a", "b"}, tk.Dependencies)
}

func TestQueueDefinition(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rc := &RenderConfig{
		TaskGroupID:    "group-1",
		DecisionTaskID: "decision-1",
		SchedulerID:    "ci-level-1",
		ProvisionerID:  "ci",
		Owner:          "dev@example.com",
		Source:         "https://example.com/repo",
		NameTemplate:   "DecisionEngine: %s",
		Created:        now,
		DeadlineIn:     2 * time.Hour,
		ExpiresIn:      24 * time.Hour,
	}
	tk := &Task{
		Label:      "build-android",
		Kind:       "build",
		WorkerType: "b-linux",
		Payload:    sampleDockerPayload(),
		Routes:     []string{"index.project.decision-engine.build.abc"},
		Scopes:     []string{"docker-worker:cache:ci-build"},
	}

	def, err := tk.QueueDefinition(rc, []string{"task-a", "task-b"})
	require.NoError(t, err)

	// decision任务始终是第一个依赖
	assert.Equal(t, []string{"decision-1", "task-a", "task-b"}, def.Dependencies)
	assert.Equal(t, "DecisionEngine: build-android", def.Metadata.Name)
	assert.Equal(t, "b-linux", def.WorkerType)
	assert.Equal(t, now.Add(2*time.Hour), def.Deadline)
	assert.Equal(t, now.Add(24*time.Hour), def.Expires)

	// 索引路由触发extra.index.expires
	require.NotNil(t, def.Extra)
	index := def.Extra["index"].(map[string]any)
	assert.Equal(t, now.Add(24*time.Hour).Format(time.RFC3339), index["expires"])
}

func TestQueueDefinitionRejectsInvalidTask(t *testing.T) {
	tk := &Task{Label: "x", Kind: "build"}
	_, err := tk.QueueDefinition(&RenderConfig{}, nil)
	require.Error(t, err)
}

func TestTaskMarshalJSON(t *testing.T) {
	tk := &Task{
		Label:      "build-a",
		Kind:       "build",
		WorkerType: "b-linux",
		Payload:    sampleDockerPayload(),
		Attributes: Attributes{"component": "a"},
	}
	data, err := json.Marshal(tk)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "build-a", decoded["label"])
	assert.Equal(t, "docker-worker", decoded["worker_implementation"])
	payload := decoded["payload"].(map[string]any)
	assert.Equal(t, "ubuntu:22.04", payload["image"])
}

func TestNewSlugID(t *testing.T) {
	a := NewSlugID()
	b := NewSlugID()
	assert.Len(t, a, 22)
	assert.NotEqual(t, a, b)
}
