package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// 常用attribute键。attributes对引擎本身是不透明的，这些常量只是
// 各阶段（分组、目标筛选）之间约定的键名。
const (
	// AttrComponent 上游任务所属的逻辑组件（分组阶段使用）
	AttrComponent = "component"
	// AttrRunOnCIType CI运行类型标记：normal-ci / full-ci / all（默认all）
	AttrRunOnCIType = "run-on-ci-type"
	// AttrShippingPhase 发布阶段标记：promote / ship
	AttrShippingPhase = "shipping-phase"
	// AttrChunk 合成的依赖分片子任务标记
	AttrChunk = "dependency-chunk"
)

// ComponentAll 分组保留值：标记需要复制到每个分组的公共任务
const ComponentAll = "all"

// IndexRoutePrefix 索引注册路由前缀
const IndexRoutePrefix = "index."

// Task 任务图中的一个节点：一份可调度工作的完整描述（对外导出）
// Label在一张图内唯一；Dependencies引用同图中的其他Label，
// 或已经由缓存解析出的外部任务ID。
type Task struct {
	Label        string
	Kind         string
	Description  string
	WorkerType   string
	Payload      WorkerPayload
	Dependencies []string
	Attributes   Attributes
	Routes       []string
	Scopes       []string
}

// ValidationError 任务校验失败：携带任务Label与违反的字段（对外导出）
type ValidationError struct {
	Label  string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("字段 %s 校验失败: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("任务 %s 校验失败: 字段 %s: %s", e.Label, e.Field, e.Reason)
}

// Validate 校验任务记录本身的schema（对外导出）
// 失败即致命：带有未通过校验字段的任务不允许进入任务图。
func (t *Task) Validate() error {
	if t.Label == "" {
		return &ValidationError{Field: "label", Reason: "不能为空"}
	}
	if t.Kind == "" {
		return &ValidationError{Label: t.Label, Field: "kind", Reason: "不能为空"}
	}
	if t.WorkerType == "" {
		return &ValidationError{Label: t.Label, Field: "worker_type", Reason: "不能为空"}
	}
	if t.Payload == nil {
		return &ValidationError{Label: t.Label, Field: "payload", Reason: "缺少worker payload"}
	}
	if err := t.Payload.Validate(); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) && ve.Label == "" {
			ve.Label = t.Label
			return ve
		}
		return fmt.Errorf("任务 %s payload校验失败: %w", t.Label, err)
	}
	for _, dep := range t.Dependencies {
		if dep == "" {
			return &ValidationError{Label: t.Label, Field: "dependencies", Reason: "依赖Label不能为空"}
		}
	}
	return nil
}

// Clone 深拷贝任务记录（对外导出）
// 同一个上游任务对象可能被挂到多个下游分组，分组阶段必须使用副本。
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := &Task{
		Label:       t.Label,
		Kind:        t.Kind,
		Description: t.Description,
		WorkerType:  t.WorkerType,
	}
	if t.Payload != nil {
		cp.Payload = t.Payload.Clone()
	}
	cp.Dependencies = append([]string(nil), t.Dependencies...)
	cp.Routes = append([]string(nil), t.Routes...)
	cp.Scopes = append([]string(nil), t.Scopes...)
	cp.Attributes = t.Attributes.Clone()
	return cp
}

// taskJSON 任务的序列化形状（task-graph.json与API共用）
type taskJSON struct {
	Label                string         `json:"label"`
	Kind                 string         `json:"kind"`
	Description          string         `json:"description,omitempty"`
	WorkerType           string         `json:"worker_type"`
	WorkerImplementation string         `json:"worker_implementation,omitempty"`
	Payload              map[string]any `json:"payload,omitempty"`
	Dependencies         []string       `json:"dependencies,omitempty"`
	Attributes           Attributes     `json:"attributes,omitempty"`
	Routes               []string       `json:"routes,omitempty"`
	Scopes               []string       `json:"scopes,omitempty"`
}

// MarshalJSON 序列化任务，payload展开为队列wire形状
func (t *Task) MarshalJSON() ([]byte, error) {
	out := taskJSON{
		Label:        t.Label,
		Kind:         t.Kind,
		Description:  t.Description,
		WorkerType:   t.WorkerType,
		Dependencies: t.Dependencies,
		Attributes:   t.Attributes,
		Routes:       t.Routes,
		Scopes:       t.Scopes,
	}
	if t.Payload != nil {
		out.WorkerImplementation = t.Payload.WorkerImplementation()
		out.Payload = t.Payload.QueuePayload()
	}
	return json.Marshal(out)
}

// ID 返回任务在图中的标识（Label），满足DAG库的节点约束
func (t *Task) ID() string {
	return t.Label
}

// HasDependency 判断是否已声明某个依赖
func (t *Task) HasDependency(label string) bool {
	for _, dep := range t.Dependencies {
		if dep == label {
			return true
		}
	}
	return false
}

// AddDependency 追加依赖（去重）
func (t *Task) AddDependency(label string) {
	if !t.HasDependency(label) {
		t.Dependencies = append(t.Dependencies, label)
	}
}

// SortedDependencies 返回确定性排序后的依赖副本
// 分片等阶段必须基于排序结果工作，保证重复运行产生相同切分。
func (t *Task) SortedDependencies() []string {
	deps := append([]string(nil), t.Dependencies...)
	sort.Strings(deps)
	return deps
}

// RenderConfig 队列任务定义的渲染上下文（对外导出）
// 由引擎在一次decision run开始时构造，渲染期间只读。
type RenderConfig struct {
	TaskGroupID    string
	DecisionTaskID string
	SchedulerID    string
	ProvisionerID  string
	Owner          string
	Source         string
	NameTemplate   string        // 例如 "DecisionEngine: %s"
	Created        time.Time     // 本次run的统一时间基准
	DeadlineIn     time.Duration // 截止时间偏移
	ExpiresIn      time.Duration // 过期时间偏移
}

// QueueMetadata 队列任务元数据
type QueueMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Owner       string `json:"owner"`
	Source      string `json:"source"`
}

// QueueDefinition 提交给外部队列的任务定义（对外导出）
// 字段形状即队列服务的wire格式，引擎不再做二次加工。
type QueueDefinition struct {
	TaskGroupID   string         `json:"taskGroupId"`
	Dependencies  []string       `json:"dependencies,omitempty"`
	SchedulerID   string         `json:"schedulerId"`
	ProvisionerID string         `json:"provisionerId"`
	WorkerType    string         `json:"workerType"`
	Created       time.Time      `json:"created"`
	Deadline      time.Time      `json:"deadline"`
	Expires       time.Time      `json:"expires"`
	Metadata      QueueMetadata  `json:"metadata"`
	Routes        []string       `json:"routes,omitempty"`
	Scopes        []string       `json:"scopes,omitempty"`
	Payload       map[string]any `json:"payload"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// QueueDefinition 渲染为队列任务定义（对外导出）
// depIDs是依赖Label解析后的外部任务ID列表；decision任务本身
// 总是作为首个依赖，保证整组任务随decision run一起失效。
func (t *Task) QueueDefinition(rc *RenderConfig, depIDs []string) (*QueueDefinition, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, fmt.Errorf("任务 %s 渲染失败: RenderConfig为空", t.Label)
	}

	deps := make([]string, 0, len(depIDs)+1)
	if rc.DecisionTaskID != "" {
		deps = append(deps, rc.DecisionTaskID)
	}
	for _, id := range depIDs {
		if id != rc.DecisionTaskID {
			deps = append(deps, id)
		}
	}

	name := t.Label
	if rc.NameTemplate != "" {
		name = fmt.Sprintf(rc.NameTemplate, t.Label)
	}

	def := &QueueDefinition{
		TaskGroupID:   rc.TaskGroupID,
		Dependencies:  deps,
		SchedulerID:   rc.SchedulerID,
		ProvisionerID: rc.ProvisionerID,
		WorkerType:    t.WorkerType,
		Created:       rc.Created,
		Deadline:      rc.Created.Add(rc.DeadlineIn),
		Expires:       rc.Created.Add(rc.ExpiresIn),
		Metadata: QueueMetadata{
			Name:        name,
			Description: t.Description,
			Owner:       rc.Owner,
			Source:      rc.Source,
		},
		Routes:  append([]string(nil), t.Routes...),
		Scopes:  append([]string(nil), t.Scopes...),
		Payload: t.Payload.QueuePayload(),
	}

	// 任何索引路由都要求队列在extra里带上索引过期时间
	for _, r := range def.Routes {
		if strings.HasPrefix(r, IndexRoutePrefix) {
			def.Extra = map[string]any{
				"index": map[string]any{
					"expires": def.Expires.UTC().Format(time.RFC3339),
				},
			}
			break
		}
	}
	return def, nil
}
