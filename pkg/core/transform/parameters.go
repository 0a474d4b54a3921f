package transform

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/LENAX/decision-engine/pkg/config"
	"github.com/LENAX/decision-engine/pkg/core/task"
)

// SubstituteParameters 替换任务payload中的run参数占位符（对外导出）
// kind配置里docker任务的Env值与Command元素可以写成 ${名称} 形式，
// 由本阶段替换为本次run的触发参数。占位符必须占满整个字符串，
// 部分插值不支持。出现未知占位符时整个run中止，并报出全部
// 未替换的名称。
func SubstituteParameters(_ context.Context, tc *Context, tasks []*task.Task) ([]*task.Task, error) {
	values := parameterValues(tc.Parameters)

	var unreplaced []string
	for _, t := range tasks {
		payload, ok := t.Payload.(*task.DockerWorkerPayload)
		if !ok {
			continue
		}
		for key, value := range payload.Env {
			replaced, missing := substitute(value, values)
			if missing != "" {
				unreplaced = append(unreplaced, missing)
				continue
			}
			payload.Env[key] = replaced
		}
		for i, arg := range payload.Command {
			replaced, missing := substitute(arg, values)
			if missing != "" {
				unreplaced = append(unreplaced, missing)
				continue
			}
			payload.Command[i] = replaced
		}
	}

	if len(unreplaced) > 0 {
		return nil, fmt.Errorf("以下占位符未找到对应的参数值: %v", unreplaced)
	}
	return tasks, nil
}

// parameterValues 展开可供占位符引用的参数名
// 依赖分支覆盖以 branch.<仓库> 形式暴露。
func parameterValues(params *config.RunParameters) map[string]string {
	values := make(map[string]string)
	if params == nil {
		return values
	}
	values["revision"] = params.Revision
	values["ref"] = params.Ref
	values["owner"] = params.Owner
	values["source"] = params.Source
	values["preview"] = params.Preview
	values["build_level"] = strconv.Itoa(params.BuildLevel)
	values["task_group_id"] = params.TaskGroupID
	for repo, branch := range params.BranchOverrides {
		values["branch."+repo] = branch
	}
	return values
}

// substitute 替换单个字符串
// 不是占位符原样返回；是占位符但参数表里没有，返回缺失的名称。
func substitute(value string, values map[string]string) (replaced string, missing string) {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return value, ""
	}
	name := strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}")
	if name == "" {
		return value, ""
	}
	actual, ok := values[name]
	if !ok {
		return "", name
	}
	return actual, ""
}
