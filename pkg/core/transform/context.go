package transform

import (
	"strings"

	"github.com/LENAX/decision-engine/pkg/config"
	"github.com/LENAX/decision-engine/pkg/core/cache"
	"github.com/LENAX/decision-engine/pkg/core/task"
)

// Context 变换阶段共享的run内状态（对外导出）
// 每个kind一个实例，由引擎构建后只读传入各阶段；
// 没有任何包级可变状态。
type Context struct {
	// Kind 当前处理的kind配置
	Kind *config.KindConfig
	// Parameters 本次run的触发参数，只读
	Parameters *config.RunParameters
	// Session run级调度会话，镜像解析等需要远端交互的阶段使用
	Session *cache.Session
	// Upstream 上游kind已产出的任务，按kind名索引
	Upstream map[string][]*task.Task
	// RepoRoot 仓库检出根目录，dockerfile按 docker/<name>/Dockerfile 解析
	RepoRoot string
	// ImageWorkerType 镜像构建任务使用的worker类型
	ImageWorkerType string
	// ImageBuilderName 镜像构建任务自身运行的基础镜像
	ImageBuilderName string
}

// UpstreamTasks 按给定kind顺序展开上游任务
func (tc *Context) UpstreamTasks(kinds ...string) []*task.Task {
	var out []*task.Task
	for _, kind := range kinds {
		out = append(out, tc.Upstream[kind]...)
	}
	return out
}

// KindOfLabel 查询某个label属于哪个上游kind
func (tc *Context) KindOfLabel(label string) (string, bool) {
	for kind, tasks := range tc.Upstream {
		for _, t := range tasks {
			if t.Label == label {
				return kind, true
			}
		}
	}
	return "", false
}

// TemplateFor 找到任务对应的模板
// 直接按label匹配；from-deps合成的任务label带分组键，
// 此时kind只有唯一模板，回退到它。
func (tc *Context) TemplateFor(t *task.Task) (*config.TaskTemplate, bool) {
	if tc.Kind == nil {
		return nil, false
	}
	name := strings.TrimPrefix(t.Label, tc.Kind.Name+"-")
	if tmpl, ok := tc.Kind.TemplateByName(name); ok {
		return tmpl, true
	}
	if len(tc.Kind.Tasks) == 1 {
		return &tc.Kind.Tasks[0], true
	}
	return nil, false
}
