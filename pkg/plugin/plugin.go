// Package plugin 提供decision run事件的通知插件机制。
// 插件订阅事件总线上的run生命周期与调度进展事件，把它们转发到
// 外部渠道（邮件等）。通知失败只影响该插件自身，不影响run。
package plugin

import (
	"context"
	"fmt"

	"github.com/LENAX/decision-engine/pkg/core/event"
)

// Plugin 通知插件接口（对外导出）
type Plugin interface {
	// Name 插件名称，注册表内唯一
	Name() string
	// Init 用配置参数初始化插件
	Init(params map[string]string) error
	// Notify 处理一个decision run事件
	Notify(ctx context.Context, e *event.Event) error
}

// NewBuiltin 按名称创建内置插件（对外导出）
// 引擎配置的notifications段通过名称引用内置插件。
func NewBuiltin(name string) (Plugin, error) {
	switch name {
	case "email":
		return NewEmailPlugin(), nil
	default:
		return nil, fmt.Errorf("未知的内置插件: %s", name)
	}
}
