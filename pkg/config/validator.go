package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// cronParser 定时表达式解析器，支持秒级精度
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateEngineConfig 校验引擎配置（对外导出）
func ValidateEngineConfig(cfg *EngineConfig) error {
	if cfg.DecisionEngine.Remote.QueueBaseURL == "" {
		return fmt.Errorf("remote.queue_base_url 不能为空")
	}
	if cfg.DecisionEngine.Remote.IndexBaseURL == "" {
		return fmt.Errorf("remote.index_base_url 不能为空")
	}

	switch cfg.GetDatabaseType() {
	case "", "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", cfg.GetDatabaseType())
	}
	if cfg.GetDatabaseType() != "" && cfg.GetDatabaseDSN() == "" {
		return fmt.Errorf("storage.database.dsn 不能为空")
	}

	seen := make(map[string]bool, len(cfg.DecisionEngine.Triggers.Schedules))
	for i, schedule := range cfg.DecisionEngine.Triggers.Schedules {
		if schedule.Name == "" {
			return fmt.Errorf("triggers.schedules[%d].name 不能为空", i)
		}
		if seen[schedule.Name] {
			return fmt.Errorf("定时任务名称重复: %s", schedule.Name)
		}
		seen[schedule.Name] = true
		if schedule.Expression == "" {
			return fmt.Errorf("定时任务 %s 缺少cron表达式", schedule.Name)
		}
		if _, err := cronParser.Parse(schedule.Expression); err != nil {
			return fmt.Errorf("定时任务 %s 的cron表达式无效: %w", schedule.Name, err)
		}
		if schedule.BuildLevel != 0 && (schedule.BuildLevel < 1 || schedule.BuildLevel > 3) {
			return fmt.Errorf("定时任务 %s 的build_level必须在1到3之间: %d", schedule.Name, schedule.BuildLevel)
		}
	}
	return nil
}

// ValidateKindConfig 校验kind文档（对外导出）
func ValidateKindConfig(kind *KindConfig) error {
	if kind.Name == "" {
		return fmt.Errorf("kind名称不能为空")
	}
	if len(kind.Tasks) == 0 && kind.FromDeps == nil {
		return fmt.Errorf("kind %s 既没有任务模板也没有from-deps配置", kind.Name)
	}

	seen := make(map[string]bool, len(kind.Tasks))
	for i, tmpl := range kind.Tasks {
		if tmpl.Name == "" {
			return fmt.Errorf("kind %s 的tasks[%d]缺少name", kind.Name, i)
		}
		if seen[tmpl.Name] {
			return fmt.Errorf("kind %s 存在重复模板名: %s", kind.Name, tmpl.Name)
		}
		seen[tmpl.Name] = true
		if tmpl.Worker.Implementation == "" {
			return fmt.Errorf("kind %s 的模板 %s 缺少worker.implementation", kind.Name, tmpl.Name)
		}
	}

	if kind.FromDeps != nil {
		if kind.FromDeps.GroupBy == "" {
			return fmt.Errorf("kind %s 的from-deps缺少group-by", kind.Name)
		}
		if len(kind.FromDeps.Kinds) == 0 {
			return fmt.Errorf("kind %s 的from-deps缺少上游kind列表", kind.Name)
		}
		if len(kind.Tasks) != 1 {
			return fmt.Errorf("kind %s 使用from-deps时必须恰好有一个任务模板", kind.Name)
		}
		// 分组任务之间只有依赖不同，而内容哈希不包含依赖，
		// 开启缓存会让所有分组命中同一个索引路径
		if kind.Tasks[0].Cached {
			return fmt.Errorf("kind %s 使用from-deps时模板不能声明cached", kind.Name)
		}
	}
	return nil
}
