package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

// DefaultIndexPathPrefix 默认索引路径的命名段
const DefaultIndexPathPrefix = "by-task-definition"

// DefaultIndexPath 计算内容寻址的默认索引路径（对外导出）
// 对 [workerType, 规范化payload] 的JSON做sha256：同一worker池上
// 字节一致的payload视为同一份工作，与产生它的run无关。
// encoding/json对map键做字典序排序，序列化结果本身是确定的。
func DefaultIndexPath(workerType string, payload task.WorkerPayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload为空，无法计算索引路径")
	}
	normalized, err := json.Marshal([]any{workerType, payload.QueuePayload()})
	if err != nil {
		return "", fmt.Errorf("序列化payload失败: %w", err)
	}
	sum := sha256.Sum256(normalized)
	return DefaultIndexPathPrefix + "." + hex.EncodeToString(sum[:]), nil
}

// ContentIndexPath 以任意内容摘要构造索引路径（对外导出）
// 用于dockerfile等源内容寻址的任务（镜像构建按dockerfile内容去重）。
func ContentIndexPath(namespace string, content []byte) string {
	sum := sha256.Sum256(content)
	return namespace + "." + hex.EncodeToString(sum[:])
}
