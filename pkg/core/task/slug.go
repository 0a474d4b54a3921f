package task

import (
	"encoding/base64"

	"github.com/google/uuid"
)

// NewSlugID 生成队列任务ID（对外导出）
// 外部队列使用22字符URL-safe base64编码的UUID作为任务ID。
func NewSlugID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}
