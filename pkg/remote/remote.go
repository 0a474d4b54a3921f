// Package remote 封装外部队列/索引服务的访问。
// 引擎对这两个协作方只假设两点：按ID创建任务是幂等的，索引查询
// 是最终一致的。"未找到"是语义级错误种类，只在本包内由传输层
// 状态码映射一次，上层一律用errors.Is判断。
package remote

import (
	"context"
	"errors"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

// ErrTaskNotFound 索引中不存在该路径对应的任务（对外导出）
// 与传输错误严格区分：把一次服务抖动误判为未找到会导致重复创建
// 昂贵的构建任务。
var ErrTaskNotFound = errors.New("索引中未找到任务")

// IsNotFound 判断是否为语义级未找到
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}

// Queue 外部任务队列（对外导出）
type Queue interface {
	// CreateTask 按ID创建任务，同ID重复创建幂等
	CreateTask(ctx context.Context, taskID string, def *task.QueueDefinition) error
}

// Index 外部索引服务（对外导出）
type Index interface {
	// FindTask 按索引路径查找任务ID；未注册返回ErrTaskNotFound
	FindTask(ctx context.Context, indexPath string) (string, error)
}
