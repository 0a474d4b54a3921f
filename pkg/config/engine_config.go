package config

import (
	"time"
)

// EngineConfig 决策引擎框架配置（对外导出）
// 时长字段以字符串保存（"30s"、"1h"），由getter解析，解析失败回退默认值。
type EngineConfig struct {
	DecisionEngine struct {
		General struct {
			InstanceName string `yaml:"instance_name"`
			LogLevel     string `yaml:"log_level"`
			Env          string `yaml:"env"`
		} `yaml:"general"`
		Remote struct {
			QueueBaseURL   string `yaml:"queue_base_url"`
			IndexBaseURL   string `yaml:"index_base_url"`
			IndexPrefix    string `yaml:"index_prefix"`
			RequestTimeout string `yaml:"request_timeout"`
		} `yaml:"remote"`
		Scheduling struct {
			SchedulerID     string `yaml:"scheduler_id"`
			ProvisionerID   string `yaml:"provisioner_id"`
			NameTemplate    string `yaml:"name_template"`
			DeadlineIn      string `yaml:"deadline_in"`
			ExpiresIn       string `yaml:"expires_in"`
			MaxDependencies int    `yaml:"max_dependencies"`
			KindsDir        string `yaml:"kinds_dir"`
			ArtifactsDir    string `yaml:"artifacts_dir"`
		} `yaml:"scheduling"`
		Storage struct {
			Database struct {
				Type            string `yaml:"type"`
				DSN             string `yaml:"dsn"`
				MaxOpenConns    int    `yaml:"max_open_conns"`
				MaxIdleConns    int    `yaml:"max_idle_conns"`
				ConnMaxLifetime string `yaml:"conn_max_lifetime"`
				ConnMaxIdleTime string `yaml:"conn_max_idle_time"`
			} `yaml:"database"`
		} `yaml:"storage"`
		API struct {
			Enabled    bool   `yaml:"enabled"`
			ListenAddr string `yaml:"listen_addr"`
		} `yaml:"api"`
		Triggers struct {
			Schedules []CronSchedule `yaml:"schedules"`
		} `yaml:"triggers"`
		Notifications struct {
			Plugins []NotificationPlugin `yaml:"plugins"`
		} `yaml:"notifications"`
	} `yaml:"decision-engine"`
}

// NotificationPlugin 通知插件配置
// Events列出插件要接收的事件类型，Params传给插件的Init。
type NotificationPlugin struct {
	Name   string            `yaml:"name"`
	Events []string          `yaml:"events"`
	Params map[string]string `yaml:"params"`
}

// CronSchedule 定时触发配置
type CronSchedule struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	BuildLevel int    `yaml:"build_level"`
}

// GetDatabaseType 获取数据库类型
func (c *EngineConfig) GetDatabaseType() string {
	return c.DecisionEngine.Storage.Database.Type
}

// GetDatabaseDSN 获取数据库DSN
func (c *EngineConfig) GetDatabaseDSN() string {
	return c.DecisionEngine.Storage.Database.DSN
}

// GetIndexPrefix 获取索引命名空间前缀
func (c *EngineConfig) GetIndexPrefix() string {
	return c.DecisionEngine.Remote.IndexPrefix
}

// GetMaxDependencies 获取单任务直接依赖上限
func (c *EngineConfig) GetMaxDependencies() int {
	n := c.DecisionEngine.Scheduling.MaxDependencies
	if n <= 0 {
		return 99 // 默认值
	}
	return n
}

// GetRequestTimeout 获取远端请求超时
func (c *EngineConfig) GetRequestTimeout() time.Duration {
	return parseDurationOr(c.DecisionEngine.Remote.RequestTimeout, 30*time.Second)
}

// GetDeadlineIn 获取任务deadline偏移
func (c *EngineConfig) GetDeadlineIn() time.Duration {
	return parseDurationOr(c.DecisionEngine.Scheduling.DeadlineIn, 24*time.Hour)
}

// GetExpiresIn 获取任务过期偏移
func (c *EngineConfig) GetExpiresIn() time.Duration {
	return parseDurationOr(c.DecisionEngine.Scheduling.ExpiresIn, 30*24*time.Hour)
}

// GetConnMaxLifetime 获取连接最大生存时间
func (c *EngineConfig) GetConnMaxLifetime() time.Duration {
	return parseDurationOr(c.DecisionEngine.Storage.Database.ConnMaxLifetime, 2*time.Hour)
}

// GetConnMaxIdleTime 获取连接最大空闲时间
func (c *EngineConfig) GetConnMaxIdleTime() time.Duration {
	return parseDurationOr(c.DecisionEngine.Storage.Database.ConnMaxIdleTime, time.Hour)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ApplyDefaults 应用默认值
func (c *EngineConfig) ApplyDefaults() {
	// General默认值
	if c.DecisionEngine.General.InstanceName == "" {
		c.DecisionEngine.General.InstanceName = "decision-engine"
	}
	if c.DecisionEngine.General.LogLevel == "" {
		c.DecisionEngine.General.LogLevel = "info"
	}
	if c.DecisionEngine.General.Env == "" {
		c.DecisionEngine.General.Env = "dev"
	}

	// Remote默认值
	if c.DecisionEngine.Remote.IndexPrefix == "" {
		c.DecisionEngine.Remote.IndexPrefix = "project.ci"
	}
	if c.DecisionEngine.Remote.RequestTimeout == "" {
		c.DecisionEngine.Remote.RequestTimeout = "30s"
	}

	// Scheduling默认值
	if c.DecisionEngine.Scheduling.SchedulerID == "" {
		c.DecisionEngine.Scheduling.SchedulerID = "decision-engine"
	}
	if c.DecisionEngine.Scheduling.ProvisionerID == "" {
		c.DecisionEngine.Scheduling.ProvisionerID = "proj-ci"
	}
	if c.DecisionEngine.Scheduling.NameTemplate == "" {
		c.DecisionEngine.Scheduling.NameTemplate = "CI - %s"
	}
	if c.DecisionEngine.Scheduling.DeadlineIn == "" {
		c.DecisionEngine.Scheduling.DeadlineIn = "24h"
	}
	if c.DecisionEngine.Scheduling.ExpiresIn == "" {
		c.DecisionEngine.Scheduling.ExpiresIn = "720h"
	}
	if c.DecisionEngine.Scheduling.MaxDependencies <= 0 {
		c.DecisionEngine.Scheduling.MaxDependencies = 99
	}
	if c.DecisionEngine.Scheduling.KindsDir == "" {
		c.DecisionEngine.Scheduling.KindsDir = "kinds"
	}
	if c.DecisionEngine.Scheduling.ArtifactsDir == "" {
		c.DecisionEngine.Scheduling.ArtifactsDir = "artifacts"
	}

	// Database默认值
	if c.DecisionEngine.Storage.Database.MaxOpenConns <= 0 {
		c.DecisionEngine.Storage.Database.MaxOpenConns = 10
	}
	if c.DecisionEngine.Storage.Database.MaxIdleConns <= 0 {
		c.DecisionEngine.Storage.Database.MaxIdleConns = 5
	}
	if c.DecisionEngine.Storage.Database.ConnMaxLifetime == "" {
		c.DecisionEngine.Storage.Database.ConnMaxLifetime = "2h"
	}
	if c.DecisionEngine.Storage.Database.ConnMaxIdleTime == "" {
		c.DecisionEngine.Storage.Database.ConnMaxIdleTime = "1h"
	}

	// API默认值
	if c.DecisionEngine.API.ListenAddr == "" {
		c.DecisionEngine.API.ListenAddr = ":8080"
	}
}
