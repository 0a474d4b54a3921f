package transform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/decision-engine/pkg/core/cache"
	"github.com/LENAX/decision-engine/pkg/core/task"
	"github.com/LENAX/decision-engine/pkg/remote"
)

type recordingQueue struct {
	created map[string]*task.QueueDefinition
}

func (q *recordingQueue) CreateTask(_ context.Context, taskID string, def *task.QueueDefinition) error {
	q.created[taskID] = def
	return nil
}

type staticIndex struct {
	entries map[string]string
}

func (i *staticIndex) FindTask(_ context.Context, indexPath string) (string, error) {
	if id, ok := i.entries[indexPath]; ok {
		return id, nil
	}
	return "", remote.ErrTaskNotFound
}

func newImageSession(index *staticIndex) (*cache.Session, *recordingQueue) {
	queue := &recordingQueue{created: make(map[string]*task.QueueDefinition)}
	render := &task.RenderConfig{
		TaskGroupID:    "group-1",
		DecisionTaskID: "decision-1",
		SchedulerID:    "decision-engine",
		ProvisionerID:  "proj-ci",
		Owner:          "dev@example.com",
		Source:         "https://example.com/repo",
		NameTemplate:   "CI - %s",
		Created:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		DeadlineIn:     24 * time.Hour,
		ExpiresIn:      30 * 24 * time.Hour,
	}
	return cache.NewSession(queue, index, "project.decision", render), queue
}

func writeDockerContext(t *testing.T, root, name, dockerfile string) {
	t.Helper()
	dir := filepath.Join(root, "docker", name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0o644))
}

// TestExpandDockerfile %include行替换成被引用文件内容
func TestExpandDockerfile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "setup.sh"), []byte("apt-get update\n"), 0o644))
	writeDockerContext(t, root, "android-build", "FROM ubuntu:22.04\n# %include setup.sh\nRUN echo done\n")

	expanded, err := ExpandDockerfile(root, "android-build")
	require.NoError(t, err)

	text := string(expanded)
	assert.Contains(t, text, "apt-get update")
	assert.NotContains(t, text, "%include")
	assert.True(t, strings.HasPrefix(text, "FROM ubuntu:22.04\n"))
}

// TestExpandDockerfileMissingInclude 被引用文件缺失报错
func TestExpandDockerfileMissingInclude(t *testing.T) {
	root := t.TempDir()
	writeDockerContext(t, root, "android-build", "FROM ubuntu\n# %include nope.sh\n")

	_, err := ExpandDockerfile(root, "android-build")
	require.Error(t, err)
}

// TestResolveDockerImagesCreatesImageTask in-tree引用换成task-image
func TestResolveDockerImagesCreatesImageTask(t *testing.T) {
	root := t.TempDir()
	writeDockerContext(t, root, "android-build", "FROM ubuntu:22.04\n")

	session, queue := newImageSession(&staticIndex{entries: map[string]string{}})
	tc := &Context{
		Parameters: testParams(),
		Session:    session,
		RepoRoot:   root,
	}

	in := newDockerTask("build-android", "build")
	in.Payload.(*task.DockerWorkerPayload).Image = task.DockerImage{InTree: "android-build"}

	out, err := ResolveDockerImages(context.Background(), tc, []*task.Task{in})
	require.NoError(t, err)

	payload := out[0].Payload.(*task.DockerWorkerPayload)
	assert.Empty(t, payload.Image.InTree)
	require.NotEmpty(t, payload.Image.TaskID)
	assert.Equal(t, ImageArtifactPath, payload.Image.Path)
	assert.Contains(t, out[0].Dependencies, payload.Image.TaskID)

	// 镜像任务真的创建了，带索引路由
	def, ok := queue.created[payload.Image.TaskID]
	require.True(t, ok)
	found := false
	for _, r := range def.Routes {
		if strings.HasPrefix(r, "index.project.decision.docker-image.") {
			found = true
		}
	}
	assert.True(t, found, "镜像任务应注册docker-image索引")
}

// TestResolveDockerImagesSharedImage 同名镜像一次run只调度一次
func TestResolveDockerImagesSharedImage(t *testing.T) {
	root := t.TempDir()
	writeDockerContext(t, root, "android-build", "FROM ubuntu:22.04\n")

	session, queue := newImageSession(&staticIndex{entries: map[string]string{}})
	tc := &Context{Parameters: testParams(), Session: session, RepoRoot: root}

	a := newDockerTask("build-android", "build")
	a.Payload.(*task.DockerWorkerPayload).Image = task.DockerImage{InTree: "android-build"}
	b := newDockerTask("test-android", "build")
	b.Payload.(*task.DockerWorkerPayload).Image = task.DockerImage{InTree: "android-build"}

	out, err := ResolveDockerImages(context.Background(), tc, []*task.Task{a, b})
	require.NoError(t, err)

	idA := out[0].Payload.(*task.DockerWorkerPayload).Image.TaskID
	idB := out[1].Payload.(*task.DockerWorkerPayload).Image.TaskID
	assert.Equal(t, idA, idB)
	assert.Len(t, queue.created, 1)
}

// TestResolveDockerImagesIndexHit 索引命中直接复用外部任务
func TestResolveDockerImagesIndexHit(t *testing.T) {
	root := t.TempDir()
	writeDockerContext(t, root, "android-build", "FROM ubuntu:22.04\n")

	expanded, err := ExpandDockerfile(root, "android-build")
	require.NoError(t, err)
	indexPath := "project.decision." + cache.ContentIndexPath(ImageIndexNamespace, expanded)

	session, queue := newImageSession(&staticIndex{entries: map[string]string{
		indexPath: "ExternalImageTask00001",
	}})
	tc := &Context{Parameters: testParams(), Session: session, RepoRoot: root}

	in := newDockerTask("build-android", "build")
	in.Payload.(*task.DockerWorkerPayload).Image = task.DockerImage{InTree: "android-build"}

	out, err := ResolveDockerImages(context.Background(), tc, []*task.Task{in})
	require.NoError(t, err)

	assert.Equal(t, "ExternalImageTask00001", out[0].Payload.(*task.DockerWorkerPayload).Image.TaskID)
	assert.Empty(t, queue.created, "索引命中不应创建新任务")
	assert.True(t, session.IsExternalID("ExternalImageTask00001"))
}

// TestResolveDockerImagesPlainImagesUntouched 普通registry引用不动
func TestResolveDockerImagesPlainImagesUntouched(t *testing.T) {
	tc := &Context{Parameters: testParams()}
	in := newDockerTask("build-android", "build")

	out, err := ResolveDockerImages(context.Background(), tc, []*task.Task{in})
	require.NoError(t, err)
	assert.Equal(t, "ubuntu:22.04", out[0].Payload.(*task.DockerWorkerPayload).Image.Name)
}
