package dto

import (
	"github.com/LENAX/decision-engine/pkg/config"
	"github.com/LENAX/decision-engine/pkg/core/task"
)

// TriggerRunRequest 触发decision run请求
// 不携带task_group_id时本地生成slug，同时充当decision任务ID。
type TriggerRunRequest struct {
	TriggerKind    string `json:"trigger_kind" binding:"required,oneof=pull-request push tag-release cron"`
	TriggerTitle   string `json:"trigger_title" binding:"omitempty"`
	BuildLevel     int    `json:"build_level" binding:"required,min=1,max=3"`
	Revision       string `json:"revision" binding:"omitempty"`
	Ref            string `json:"ref" binding:"omitempty"`
	Owner          string `json:"owner" binding:"omitempty"`
	Source         string `json:"source" binding:"omitempty"`
	TaskGroupID    string `json:"task_group_id" binding:"omitempty"`
	DecisionTaskID string `json:"decision_task_id" binding:"omitempty"`
	ShippingPhase  string `json:"shipping_phase" binding:"omitempty,oneof=promote ship"`
}

// ToParameters 转换为run参数，补全缺省ID并提取标题标签
func (r *TriggerRunRequest) ToParameters() *config.RunParameters {
	groupID := r.TaskGroupID
	if groupID == "" {
		groupID = task.NewSlugID()
	}
	decisionID := r.DecisionTaskID
	if decisionID == "" {
		decisionID = groupID
	}

	params := config.RunParameters{
		TriggerKind:    config.TriggerKind(r.TriggerKind),
		TriggerTitle:   r.TriggerTitle,
		BuildLevel:     r.BuildLevel,
		Revision:       r.Revision,
		Ref:            r.Ref,
		Owner:          r.Owner,
		Source:         r.Source,
		TaskGroupID:    groupID,
		DecisionTaskID: decisionID,
		ShippingPhase:  r.ShippingPhase,
	}
	tagged := params.ExtractTitleTags()
	return &tagged
}

// ListQueryRequest 通用列表查询请求
type ListQueryRequest struct {
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
	Status string `form:"status" binding:"omitempty,oneof=running completed failed"`
}

// GetDefaultLimit 获取默认limit
func (r *ListQueryRequest) GetDefaultLimit() int {
	if r.Limit <= 0 {
		return 20
	}
	return r.Limit
}
