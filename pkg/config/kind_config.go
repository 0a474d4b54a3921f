package config

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

// KeyedString 可按run参数取值的字符串字段（对外导出）
// YAML里既可以写裸标量，也可以写by-trigger/by-build-level映射，
// 由resolve-keyed-by阶段按参数解析成具体值（"default"键兜底）。
type KeyedString struct {
	Value        string
	ByTrigger    map[string]string
	ByBuildLevel map[string]string
}

// UnmarshalYAML 支持标量与keyed映射两种写法
func (k *KeyedString) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&k.Value)
	}
	var keyed struct {
		ByTrigger    map[string]string `yaml:"by-trigger"`
		ByBuildLevel map[string]string `yaml:"by-build-level"`
	}
	if err := value.Decode(&keyed); err != nil {
		return err
	}
	k.ByTrigger = keyed.ByTrigger
	k.ByBuildLevel = keyed.ByBuildLevel
	return nil
}

// MarshalYAML 按原始写法输出
func (k KeyedString) MarshalYAML() (any, error) {
	if k.IsKeyed() {
		out := make(map[string]map[string]string)
		if k.ByTrigger != nil {
			out["by-trigger"] = k.ByTrigger
		}
		if k.ByBuildLevel != nil {
			out["by-build-level"] = k.ByBuildLevel
		}
		return out, nil
	}
	return k.Value, nil
}

// IsKeyed 判断是否为待解析的keyed值
func (k KeyedString) IsKeyed() bool {
	return len(k.ByTrigger) > 0 || len(k.ByBuildLevel) > 0
}

// Resolve 按run参数解析出具体值
func (k KeyedString) Resolve(params *RunParameters) (string, error) {
	if !k.IsKeyed() {
		return k.Value, nil
	}
	if len(k.ByTrigger) > 0 {
		if v, ok := k.ByTrigger[string(params.TriggerKind)]; ok {
			return v, nil
		}
		if v, ok := k.ByTrigger["default"]; ok {
			return v, nil
		}
		return "", fmt.Errorf("by-trigger没有 %s 的取值且缺少default", params.TriggerKind)
	}
	if v, ok := k.ByBuildLevel[strconv.Itoa(params.BuildLevel)]; ok {
		return v, nil
	}
	if v, ok := k.ByBuildLevel["default"]; ok {
		return v, nil
	}
	return "", fmt.Errorf("by-build-level没有level %d 的取值且缺少default", params.BuildLevel)
}

// WorkerTemplate 模板中的worker段
type WorkerTemplate struct {
	Implementation string            `yaml:"implementation"`
	WorkerType     KeyedString       `yaml:"worker-type"`
	DockerImage    KeyedString       `yaml:"docker-image"`
	InTreeImage    string            `yaml:"in-tree-image"`
	Command        []string          `yaml:"command"`
	Env            map[string]string `yaml:"env"`
	Caches         map[string]string `yaml:"caches"`
	Features       map[string]bool   `yaml:"features"`
	Artifacts      []task.Artifact   `yaml:"artifacts"`
	MaxRunTime     int               `yaml:"max-run-time"`

	// 签名/发布worker字段
	UpstreamArtifacts []task.UpstreamArtifact `yaml:"upstream-artifacts"`
	Action            string                  `yaml:"action"`
	Version           string                  `yaml:"version"`
	AppName           string                  `yaml:"app-name"`
}

// TaskTemplate kind文档中的单个任务模板（对外导出）
type TaskTemplate struct {
	Name         string              `yaml:"name"`
	Description  string              `yaml:"description"`
	Worker       WorkerTemplate      `yaml:"worker"`
	Dependencies []string            `yaml:"dependencies"`
	Attributes   map[string]any      `yaml:"attributes"`
	Routes       []string            `yaml:"routes"`
	Scopes       []string            `yaml:"scopes"`
	Cached       bool                `yaml:"cached"`
	IndexPath    string              `yaml:"index-path"`
	Fetches      map[string][]string `yaml:"fetches"`
}

// FromDepsConfig 依赖分组配置（对外导出）
// 按上游任务的attribute分组，每组合成一个下游任务。
type FromDepsConfig struct {
	GroupBy string   `yaml:"group-by"`
	Kinds   []string `yaml:"kinds"`
}

// KindConfig 一个kind的配置文档（对外导出）
// 对应kinds/<name>/kind.yml。Name由loader按目录名填充。
type KindConfig struct {
	Name             string          `yaml:"-"`
	KindDependencies []string        `yaml:"kind-dependencies"`
	Transforms       []string        `yaml:"transforms"`
	FromDeps         *FromDepsConfig `yaml:"from-deps"`
	Tasks            []TaskTemplate  `yaml:"tasks"`
}

// Label 模板生成的任务label：<kind>-<模板名>
func (c *KindConfig) Label(templateName string) string {
	return c.Name + "-" + templateName
}

// TemplateByName 按模板名查找
func (c *KindConfig) TemplateByName(name string) (*TaskTemplate, bool) {
	for i := range c.Tasks {
		if c.Tasks[i].Name == name {
			return &c.Tasks[i], true
		}
	}
	return nil, false
}

// BuildTask 从模板生成初始任务记录（对外导出）
// keyed字段此时可能尚未解析（留空），由resolve-keyed-by阶段补全；
// in-tree镜像引用由docker-image阶段换成镜像构建任务。
func (t *TaskTemplate) BuildTask(kind *KindConfig) (*task.Task, error) {
	if t.Name == "" {
		return nil, &task.ValidationError{Field: "name", Reason: "模板名不能为空"}
	}

	out := &task.Task{
		Label:        kind.Label(t.Name),
		Kind:         kind.Name,
		Description:  t.Description,
		Dependencies: append([]string(nil), t.Dependencies...),
		Routes:       append([]string(nil), t.Routes...),
		Scopes:       append([]string(nil), t.Scopes...),
	}
	if t.Attributes != nil {
		out.Attributes = task.Attributes(t.Attributes).Clone()
	}
	if !t.Worker.WorkerType.IsKeyed() {
		out.WorkerType = t.Worker.WorkerType.Value
	}

	switch t.Worker.Implementation {
	case task.WorkerImplDockerWorker:
		payload := &task.DockerWorkerPayload{
			Command:           append([]string(nil), t.Worker.Command...),
			Env:               copyStringMap(t.Worker.Env),
			Caches:            copyStringMap(t.Worker.Caches),
			Artifacts:         append([]task.Artifact(nil), t.Worker.Artifacts...),
			MaxRunTimeSeconds: t.Worker.MaxRunTime,
		}
		if t.Worker.Features != nil {
			payload.Features = make(map[string]bool, len(t.Worker.Features))
			for k, v := range t.Worker.Features {
				payload.Features[k] = v
			}
		}
		if t.Worker.InTreeImage != "" {
			payload.Image = task.DockerImage{InTree: t.Worker.InTreeImage}
		} else if !t.Worker.DockerImage.IsKeyed() {
			payload.Image = task.DockerImage{Name: t.Worker.DockerImage.Value}
		}
		out.Payload = payload

	case task.WorkerImplSigning:
		out.Payload = &task.SigningPayload{
			UpstreamArtifacts: append([]task.UpstreamArtifact(nil), t.Worker.UpstreamArtifacts...),
		}

	case task.WorkerImplBeetmover:
		out.Payload = &task.BeetmoverPayload{
			Action:            t.Worker.Action,
			Version:           t.Worker.Version,
			AppName:           t.Worker.AppName,
			UpstreamArtifacts: append([]task.UpstreamArtifact(nil), t.Worker.UpstreamArtifacts...),
		}

	case "":
		return nil, &task.ValidationError{
			Label:  out.Label,
			Field:  "worker.implementation",
			Reason: "不能为空",
		}
	default:
		return nil, &task.ValidationError{
			Label:  out.Label,
			Field:  "worker.implementation",
			Reason: "未知worker实现: " + t.Worker.Implementation,
		}
	}
	return out, nil
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
