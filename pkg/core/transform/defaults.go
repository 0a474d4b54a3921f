package transform

import (
	"context"
	"sort"
	"strconv"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

// DefaultMaxRunTimeSeconds docker任务未声明运行上限时的默认值
const DefaultMaxRunTimeSeconds = 1800

// SetDefaults 填充worker默认值（对外导出）
// docker任务补默认运行上限与构建级别env，并为每个cache补齐
// docker-worker:cache:<名称> scope。env与scope影响缓存哈希，
// 只允许写入跨run稳定的值。
func SetDefaults(_ context.Context, tc *Context, tasks []*task.Task) ([]*task.Task, error) {
	for _, t := range tasks {
		payload, ok := t.Payload.(*task.DockerWorkerPayload)
		if !ok {
			continue
		}
		if payload.MaxRunTimeSeconds <= 0 {
			payload.MaxRunTimeSeconds = DefaultMaxRunTimeSeconds
		}
		if tc.Parameters != nil {
			if payload.Env == nil {
				payload.Env = make(map[string]string, 1)
			}
			if _, exists := payload.Env["CI_BUILD_LEVEL"]; !exists {
				payload.Env["CI_BUILD_LEVEL"] = strconv.Itoa(tc.Parameters.BuildLevel)
			}
		}
		cacheNames := make([]string, 0, len(payload.Caches))
		for name := range payload.Caches {
			cacheNames = append(cacheNames, name)
		}
		sort.Strings(cacheNames)
		for _, name := range cacheNames {
			scope := "docker-worker:cache:" + name
			if !containsString(t.Scopes, scope) {
				t.Scopes = append(t.Scopes, scope)
			}
		}
	}
	return tasks, nil
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
