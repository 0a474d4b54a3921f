package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/LENAX/decision-engine/pkg/core/cache"
	"github.com/LENAX/decision-engine/pkg/core/task"
)

const (
	// ImageArtifactPath 镜像构建任务产出的工件路径
	ImageArtifactPath = "public/image.tar.zst"
	// ImageIndexNamespace 镜像索引命名空间，内容哈希接在后面
	ImageIndexNamespace = "docker-image"

	defaultImageWorkerType = "images"
	defaultImageBuilder    = "image-builder:latest"
	includeDirective       = "# %include "
)

// ResolveDockerImages 把in-tree镜像引用换成镜像构建任务（对外导出）
// 对每个引用仓库内dockerfile的任务：展开dockerfile的%include行、
// 对内容做哈希、按 docker-image.<哈希> 找到或创建镜像构建任务，
// 然后把引用改写成task-image并追加任务依赖。
// 同一内容的镜像在一次run内只调度一次，跨run靠索引复用。
func ResolveDockerImages(ctx context.Context, tc *Context, tasks []*task.Task) ([]*task.Task, error) {
	for _, t := range tasks {
		payload, ok := t.Payload.(*task.DockerWorkerPayload)
		if !ok || payload.Image.InTree == "" {
			continue
		}
		if tc.Session == nil {
			return nil, fmt.Errorf("任务 %s 引用in-tree镜像，但没有可用的调度会话", t.Label)
		}

		name := payload.Image.InTree
		expanded, err := ExpandDockerfile(tc.RepoRoot, name)
		if err != nil {
			return nil, &task.ValidationError{
				Label:  t.Label,
				Field:  "worker.in-tree-image",
				Reason: err.Error(),
			}
		}

		imageTask := tc.buildImageTask(name)
		indexPath := cache.ContentIndexPath(ImageIndexNamespace, expanded)
		imageID, _, err := tc.Session.FindOrCreate(ctx, imageTask, indexPath, nil)
		if err != nil {
			return nil, fmt.Errorf("调度镜像 %s 失败: %w", name, err)
		}

		payload.Image = task.DockerImage{TaskID: imageID, Path: ImageArtifactPath}
		t.AddDependency(imageID)
	}
	return tasks, nil
}

// buildImageTask 构造镜像构建任务
// env只放跨run稳定或由索引哈希决定的值，保证wire形状确定。
func (tc *Context) buildImageTask(name string) *task.Task {
	workerType := tc.ImageWorkerType
	if workerType == "" {
		workerType = defaultImageWorkerType
	}
	builder := tc.ImageBuilderName
	if builder == "" {
		builder = defaultImageBuilder
	}

	env := map[string]string{"IMAGE_NAME": name}
	if tc.Parameters != nil {
		env["REPO_URL"] = tc.Parameters.Source
		env["REVISION"] = tc.Parameters.Revision
	}

	return &task.Task{
		Label:       "docker-image-" + name,
		Kind:        "docker-image",
		Description: "构建docker镜像 " + name,
		WorkerType:  workerType,
		Attributes:  task.Attributes{task.AttrComponent: task.ComponentAll},
		Payload: &task.DockerWorkerPayload{
			Image:   task.DockerImage{Name: builder},
			Command: []string{"/usr/local/bin/build-image.sh"},
			Env:     env,
			Features: map[string]bool{
				"dind": true,
			},
			Artifacts: []task.Artifact{{
				Name:      ImageArtifactPath,
				Path:      "/workspace/image.tar.zst",
				Type:      "file",
				ExpiresIn: "1 month",
			}},
			MaxRunTimeSeconds: 7200,
		},
	}
}

// ExpandDockerfile 读取并展开dockerfile（对外导出）
// 路径约定 <repoRoot>/docker/<name>/Dockerfile；
// 形如 “# %include 相对路径” 的行替换成被引用文件的内容，
// 这样被包含文件变化也会改变镜像哈希。不做递归展开。
func ExpandDockerfile(repoRoot, name string) ([]byte, error) {
	path := filepath.Join(repoRoot, "docker", name, "Dockerfile")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取dockerfile失败: %w", err)
	}

	lines := strings.Split(string(raw), "\n")
	var out strings.Builder
	for i, line := range lines {
		if rel, ok := strings.CutPrefix(strings.TrimSpace(line), includeDirective); ok {
			included, err := os.ReadFile(filepath.Join(repoRoot, strings.TrimSpace(rel)))
			if err != nil {
				return nil, fmt.Errorf("dockerfile %s 包含的文件读取失败: %w", name, err)
			}
			out.Write(included)
			if !strings.HasSuffix(string(included), "\n") {
				out.WriteString("\n")
			}
			continue
		}
		out.WriteString(line)
		if i < len(lines)-1 {
			out.WriteString("\n")
		}
	}
	return []byte(out.String()), nil
}
