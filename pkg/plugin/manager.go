package plugin

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/LENAX/decision-engine/pkg/core/event"
)

// Binding 插件与事件的绑定规则（对外导出）
type Binding struct {
	PluginName string                  // 插件名称
	Event      event.Type              // 触发事件类型
	Condition  func(*event.Event) bool // 可选：满足条件才触发
}

// Manager 通知插件管理器（对外导出）
// 维护插件注册表与事件绑定，从事件总线消费事件并分发给命中的
// 插件。启动时显式构建并挂到引擎，没有包级状态。
type Manager struct {
	plugins  map[string]Plugin
	bindings map[event.Type][]Binding
	mu       sync.RWMutex
}

// NewManager 创建插件管理器（对外导出）
func NewManager() *Manager {
	return &Manager{
		plugins:  make(map[string]Plugin),
		bindings: make(map[event.Type][]Binding),
	}
}

// Register 注册插件
func (m *Manager) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("插件不能为空")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("插件名称不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[name]; exists {
		return fmt.Errorf("插件 %s 已注册", name)
	}
	m.plugins[name] = p
	return nil
}

// RegisterWithInit 注册并初始化插件
// 初始化失败时回滚注册。
func (m *Manager) RegisterWithInit(p Plugin, params map[string]string) error {
	if err := m.Register(p); err != nil {
		return err
	}
	if err := p.Init(params); err != nil {
		m.mu.Lock()
		delete(m.plugins, p.Name())
		m.mu.Unlock()
		return fmt.Errorf("插件 %s 初始化失败: %w", p.Name(), err)
	}
	return nil
}

// Bind 绑定插件到事件类型
func (m *Manager) Bind(binding Binding) error {
	if binding.PluginName == "" {
		return fmt.Errorf("插件名称不能为空")
	}
	if binding.Event == "" {
		return fmt.Errorf("触发事件不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[binding.PluginName]; !exists {
		return fmt.Errorf("插件 %s 未注册", binding.PluginName)
	}
	m.bindings[binding.Event] = append(m.bindings[binding.Event], binding)
	return nil
}

// Dispatch 把单个事件分发给命中的插件（对外导出）
// 逐个插件通知，单个插件失败不阻断其余插件，最后汇总返回。
func (m *Manager) Dispatch(ctx context.Context, e *event.Event) error {
	m.mu.RLock()
	bindings := m.bindings[e.Type]
	m.mu.RUnlock()

	var failures []error
	for _, binding := range bindings {
		if binding.Condition != nil && !binding.Condition(e) {
			continue
		}

		m.mu.RLock()
		p, exists := m.plugins[binding.PluginName]
		m.mu.RUnlock()
		if !exists {
			continue
		}

		if err := p.Notify(ctx, e); err != nil {
			failures = append(failures, fmt.Errorf("插件 %s 通知失败: %w", binding.PluginName, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("事件 %s 通知失败: %v", e.Type, failures)
	}
	return nil
}

// Run 从事件总线消费事件并分发（对外导出）
// 阻塞运行直到ctx取消或总线关闭；通知失败只记日志。
// 没有任何绑定时直接返回，不占用订阅。
func (m *Manager) Run(ctx context.Context, bus *event.Bus) error {
	m.mu.RLock()
	bound := len(m.bindings)
	m.mu.RUnlock()
	if bound == 0 {
		return nil
	}

	msgs, err := bus.SubscribeAll(ctx)
	if err != nil {
		return fmt.Errorf("订阅事件总线失败: %w", err)
	}

	log.Printf("✅ [通知插件] 开始消费事件: plugins=%v", m.List())
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			e, decodeErr := event.Decode(msg.Payload)
			msg.Ack()
			if decodeErr != nil {
				log.Printf("⚠️ [通知插件] 解析事件失败: %v", decodeErr)
				continue
			}
			if err := m.Dispatch(ctx, e); err != nil {
				log.Printf("⚠️ [通知插件] %v", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Get 获取已注册的插件
func (m *Manager) Get(name string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, exists := m.plugins[name]
	return p, exists
}

// List 列出所有已注册的插件名称
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	return names
}

// Unregister 取消注册插件，连同其全部绑定
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plugins[name]; !exists {
		return fmt.Errorf("插件 %s 未注册", name)
	}
	delete(m.plugins, name)

	for eventType := range m.bindings {
		filtered := m.bindings[eventType][:0]
		for _, binding := range m.bindings[eventType] {
			if binding.PluginName != name {
				filtered = append(filtered, binding)
			}
		}
		m.bindings[eventType] = filtered
	}
	return nil
}
