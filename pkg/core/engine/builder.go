package engine

import (
	"fmt"
	"log"

	internalstorage "github.com/LENAX/decision-engine/internal/storage"
	"github.com/LENAX/decision-engine/pkg/config"
	"github.com/LENAX/decision-engine/pkg/core/event"
	"github.com/LENAX/decision-engine/pkg/core/target"
	"github.com/LENAX/decision-engine/pkg/core/transform"
	"github.com/LENAX/decision-engine/pkg/plugin"
	"github.com/LENAX/decision-engine/pkg/remote"
)

// namedTransform 待注册的扩展变换
type namedTransform struct {
	name string
	fn   transform.Func
}

// namedStrategy 待注册的扩展策略
type namedStrategy struct {
	name     string
	strategy target.Strategy
}

// boundPlugin 待挂载的通知插件
type boundPlugin struct {
	plugin plugin.Plugin
	params map[string]string
	events []event.Type
}

// EngineBuilder 决策引擎构建器（对外导出）
// 链式配置，任何一步出错都会记录并让后续步骤与Build直接短路。
type EngineBuilder struct {
	configPath       string
	queue            remote.Queue
	index            remote.Index
	repoRoot         string
	revisionResolver RevisionResolver
	transforms       []namedTransform
	strategies       []namedStrategy
	plugins          []boundPlugin
	err              error
}

// NewEngineBuilder 创建构建器（对外导出）
// configPath为引擎配置文件路径。
func NewEngineBuilder(configPath string) *EngineBuilder {
	b := &EngineBuilder{configPath: configPath}
	if configPath == "" {
		b.err = fmt.Errorf("引擎配置文件路径不能为空")
	}
	return b
}

// WithQueue 指定队列客户端（对外导出）
// 不指定时按配置中的queue_base_url创建HTTP客户端；测试时注入mock。
func (b *EngineBuilder) WithQueue(queue remote.Queue) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if queue == nil {
		b.err = fmt.Errorf("队列客户端不能为nil")
		return b
	}
	b.queue = queue
	return b
}

// WithIndex 指定索引客户端（对外导出）
func (b *EngineBuilder) WithIndex(index remote.Index) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if index == nil {
		b.err = fmt.Errorf("索引客户端不能为nil")
		return b
	}
	b.index = index
	return b
}

// WithRepoRoot 指定仓库检出根目录（对外导出）
// in-tree镜像的dockerfile从这里解析。
func (b *EngineBuilder) WithRepoRoot(root string) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if root == "" {
		b.err = fmt.Errorf("仓库根目录不能为空")
		return b
	}
	b.repoRoot = root
	return b
}

// WithRevisionResolver 指定定时触发的revision解析器（对外导出）
func (b *EngineBuilder) WithRevisionResolver(fn RevisionResolver) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if fn == nil {
		b.err = fmt.Errorf("revision解析器不能为nil")
		return b
	}
	b.revisionResolver = fn
	return b
}

// WithTransform 登记扩展变换阶段（对外导出）
// 内置阶段之外的变换在这里挂进注册表，kind配置即可按名引用。
func (b *EngineBuilder) WithTransform(name string, fn transform.Func) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if name == "" || fn == nil {
		b.err = fmt.Errorf("扩展变换的名称与实现都不能为空")
		return b
	}
	b.transforms = append(b.transforms, namedTransform{name: name, fn: fn})
	return b
}

// WithStrategy 登记扩展目标选择策略（对外导出）
func (b *EngineBuilder) WithStrategy(name string, s target.Strategy) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if name == "" || s == nil {
		b.err = fmt.Errorf("扩展策略的名称与实现都不能为空")
		return b
	}
	b.strategies = append(b.strategies, namedStrategy{name: name, strategy: s})
	return b
}

// WithNotificationPlugin 挂载自定义通知插件（对外导出）
// 配置文件之外的插件从这里注入，events列出要接收的事件类型。
func (b *EngineBuilder) WithNotificationPlugin(p plugin.Plugin, params map[string]string, events ...event.Type) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if p == nil || len(events) == 0 {
		b.err = fmt.Errorf("通知插件与事件类型都不能为空")
		return b
	}
	b.plugins = append(b.plugins, boundPlugin{plugin: p, params: params, events: events})
	return b
}

// Build 构建引擎实例（对外导出）
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.err != nil {
		return nil, fmt.Errorf("构建器配置错误: %w", b.err)
	}

	// 1. 加载配置（加载时应用默认值并校验）
	cfg, err := config.LoadEngineConfig(b.configPath)
	if err != nil {
		return nil, fmt.Errorf("加载引擎配置失败: %w", err)
	}

	// 2. 初始化远端客户端（未注入时按配置创建）
	queue := b.queue
	if queue == nil {
		queue = remote.NewHTTPQueueWithTimeout(cfg.DecisionEngine.Remote.QueueBaseURL, cfg.GetRequestTimeout())
	}
	index := b.index
	if index == nil {
		index = remote.NewHTTPIndexWithTimeout(cfg.DecisionEngine.Remote.IndexBaseURL, cfg.GetRequestTimeout())
	}

	// 3. 创建引擎
	eng, err := NewEngine(cfg, queue, index)
	if err != nil {
		return nil, err
	}
	if b.repoRoot != "" {
		eng.SetRepoRoot(b.repoRoot)
	}
	if b.revisionResolver != nil {
		eng.SetRevisionResolver(b.revisionResolver)
	}

	// 4. 初始化运行历史存储（未配置数据库时跳过持久化）
	if cfg.GetDatabaseType() == "" {
		log.Println("📝 [EngineBuilder] 未配置运行历史存储，run历史不持久化")
	} else {
		repo, err := internalstorage.NewDecisionRunRepository(cfg.GetDatabaseType(), cfg.GetDatabaseDSN())
		if err != nil {
			return nil, fmt.Errorf("初始化运行历史存储失败: %w", err)
		}
		eng.SetRepository(repo)
		log.Printf("📝 [EngineBuilder] 运行历史存储已初始化: type=%s", cfg.GetDatabaseType())
	}

	// 5. 登记扩展变换与策略
	for _, t := range b.transforms {
		if err := eng.Transforms().Register(t.name, t.fn); err != nil {
			return nil, fmt.Errorf("登记扩展变换 %s 失败: %w", t.name, err)
		}
		log.Printf("📝 [EngineBuilder] 已登记扩展变换: %s", t.name)
	}
	for _, s := range b.strategies {
		if err := eng.Strategies().Register(s.name, s.strategy); err != nil {
			return nil, fmt.Errorf("登记扩展策略 %s 失败: %w", s.name, err)
		}
		log.Printf("📝 [EngineBuilder] 已登记扩展策略: %s", s.name)
	}

	// 6. 装配通知插件（配置声明的内置插件 + 代码注入的自定义插件）
	notifier, err := b.buildNotifier(cfg)
	if err != nil {
		return nil, err
	}
	if notifier != nil {
		eng.SetNotifier(notifier)
	}

	return eng, nil
}

// buildNotifier 装配通知插件管理器（内部方法）
// 配置与代码都没有声明插件时返回nil，引擎不起消费循环。
func (b *EngineBuilder) buildNotifier(cfg *config.EngineConfig) (*plugin.Manager, error) {
	declared := cfg.DecisionEngine.Notifications.Plugins
	if len(declared) == 0 && len(b.plugins) == 0 {
		return nil, nil
	}

	mgr := plugin.NewManager()
	for _, pc := range declared {
		p, err := plugin.NewBuiltin(pc.Name)
		if err != nil {
			return nil, fmt.Errorf("装配通知插件失败: %w", err)
		}
		if err := mgr.RegisterWithInit(p, pc.Params); err != nil {
			return nil, fmt.Errorf("装配通知插件失败: %w", err)
		}
		for _, evName := range pc.Events {
			if err := mgr.Bind(plugin.Binding{PluginName: pc.Name, Event: event.Type(evName)}); err != nil {
				return nil, fmt.Errorf("绑定通知插件 %s 失败: %w", pc.Name, err)
			}
		}
		log.Printf("📝 [EngineBuilder] 已装配通知插件: %s events=%v", pc.Name, pc.Events)
	}
	for _, bp := range b.plugins {
		if err := mgr.RegisterWithInit(bp.plugin, bp.params); err != nil {
			return nil, fmt.Errorf("装配通知插件失败: %w", err)
		}
		for _, evType := range bp.events {
			if err := mgr.Bind(plugin.Binding{PluginName: bp.plugin.Name(), Event: evType}); err != nil {
				return nil, fmt.Errorf("绑定通知插件 %s 失败: %w", bp.plugin.Name(), err)
			}
		}
		log.Printf("📝 [EngineBuilder] 已装配通知插件: %s events=%v", bp.plugin.Name(), bp.events)
	}
	return mgr, nil
}
