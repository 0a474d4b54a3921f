package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// TriggerKind decision run的触发类型（对外导出）
type TriggerKind string

const (
	TriggerPullRequest TriggerKind = "pull-request"
	TriggerPush        TriggerKind = "push"
	TriggerTagRelease  TriggerKind = "tag-release"
	TriggerCron        TriggerKind = "cron"
)

// ShippingPhase 发布阶段（对外导出）
const (
	ShippingPhasePromote = "promote"
	ShippingPhaseShip    = "ship"
)

// titleTagPattern 触发标题中的方括号标签，如 [ci full]、[fenix: main]
var titleTagPattern = regexp.MustCompile(`\[\s*([a-z0-9][a-z0-9._-]*)\s*:\s*([^\]]+)\]`)

// RunParameters 一次decision run的触发参数（对外导出）
// run开始时计算一次，此后只读地穿过每个阶段，任何阶段都不得修改。
type RunParameters struct {
	TriggerKind    TriggerKind `yaml:"trigger_kind" json:"trigger_kind"`
	TriggerTitle   string      `yaml:"trigger_title" json:"trigger_title"`
	BuildLevel     int         `yaml:"build_level" json:"build_level"`
	Revision       string      `yaml:"revision" json:"revision"`
	Ref            string      `yaml:"ref" json:"ref"`
	Owner          string      `yaml:"owner" json:"owner"`
	Source         string      `yaml:"source" json:"source"`
	TaskGroupID    string      `yaml:"task_group_id" json:"task_group_id"`
	DecisionTaskID string      `yaml:"decision_task_id" json:"decision_task_id"`
	ShippingPhase  string      `yaml:"shipping_phase,omitempty" json:"shipping_phase,omitempty"`

	// 以下字段由TriggerTitle中的固定文本标签提取
	FullCI          bool              `yaml:"full_ci,omitempty" json:"full_ci,omitempty"`
	SkipCI          bool              `yaml:"skip_ci,omitempty" json:"skip_ci,omitempty"`
	Preview         string            `yaml:"preview,omitempty" json:"preview,omitempty"`
	BranchOverrides map[string]string `yaml:"branch_overrides,omitempty" json:"branch_overrides,omitempty"`
}

// ExtractTitleTags 从触发标题提取覆盖标签（对外导出）
// 识别的固定标签：[ci full]、[ci skip]、[preview: <名称>]，
// 以及 [<仓库>: <分支>] 形式的依赖分支覆盖。返回新对象，原参数不变。
func (p RunParameters) ExtractTitleTags() RunParameters {
	title := strings.ToLower(p.TriggerTitle)
	if strings.Contains(title, "[ci full]") {
		p.FullCI = true
	}
	if strings.Contains(title, "[ci skip]") {
		p.SkipCI = true
	}

	for _, m := range titleTagPattern.FindAllStringSubmatch(p.TriggerTitle, -1) {
		key := strings.ToLower(strings.TrimSpace(m[1]))
		value := strings.TrimSpace(m[2])
		switch key {
		case "ci":
			// [ci full]/[ci skip]形式没有冒号，带冒号的ci标签忽略
		case "preview":
			p.Preview = value
		default:
			if p.BranchOverrides == nil {
				p.BranchOverrides = make(map[string]string)
			}
			p.BranchOverrides[key] = value
		}
	}
	return p
}

// Validate 校验参数完整性
func (p *RunParameters) Validate() error {
	switch p.TriggerKind {
	case TriggerPullRequest, TriggerPush, TriggerTagRelease, TriggerCron:
	case "":
		return fmt.Errorf("trigger_kind不能为空")
	default:
		return fmt.Errorf("未知trigger_kind: %s", p.TriggerKind)
	}
	if p.BuildLevel < 1 || p.BuildLevel > 3 {
		return fmt.Errorf("build_level必须在1到3之间: %d", p.BuildLevel)
	}
	if p.ShippingPhase != "" &&
		p.ShippingPhase != ShippingPhasePromote &&
		p.ShippingPhase != ShippingPhaseShip {
		return fmt.Errorf("未知shipping_phase: %s", p.ShippingPhase)
	}
	if p.TriggerKind == TriggerCron && p.Revision == "" {
		return fmt.Errorf("cron触发必须携带revision")
	}
	return nil
}

// BranchOverride 查询某个依赖仓库的分支覆盖
func (p *RunParameters) BranchOverride(repo string) (string, bool) {
	branch, ok := p.BranchOverrides[repo]
	return branch, ok
}

// ParametersFromEnvironment 从decision环境变量构造run参数（对外导出）
// 读取标准decision环境：TRIGGER_KIND、TRIGGER_TITLE、BUILD_LEVEL、
// GIT_SHA、GIT_REF、TASK_OWNER、TASK_SOURCE、TASK_ID、SHIPPING_PHASE。
// decision任务自身的ID同时充当task group ID。
func ParametersFromEnvironment() (*RunParameters, error) {
	level := 1
	if raw := os.Getenv("BUILD_LEVEL"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("BUILD_LEVEL解析失败: %w", err)
		}
		level = parsed
	}

	taskID := os.Getenv("TASK_ID")
	params := RunParameters{
		TriggerKind:    TriggerKind(os.Getenv("TRIGGER_KIND")),
		TriggerTitle:   os.Getenv("TRIGGER_TITLE"),
		BuildLevel:     level,
		Revision:       os.Getenv("GIT_SHA"),
		Ref:            os.Getenv("GIT_REF"),
		Owner:          os.Getenv("TASK_OWNER"),
		Source:         os.Getenv("TASK_SOURCE"),
		TaskGroupID:    taskID,
		DecisionTaskID: taskID,
		ShippingPhase:  os.Getenv("SHIPPING_PHASE"),
	}
	params = params.ExtractTitleTags()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &params, nil
}
