package task

import (
	"encoding/json"
	"strconv"
)

// Worker实现类型标识。payload是按实现类型封闭的tagged union，
// 分发走类型开关，不做字典键探测。
const (
	WorkerImplDockerWorker = "docker-worker"
	WorkerImplSigning      = "scriptworker-signing"
	WorkerImplBeetmover    = "beetmover"
)

// WorkerPayload 各worker实现的payload变体（对外导出）
// QueuePayload产出提交给队列的规范化wire形状；同一payload在
// 不同run中必须产出字节一致的JSON，内容寻址缓存依赖这一点，
// 因此所有过期时间都用相对形式表达。
type WorkerPayload interface {
	WorkerImplementation() string
	Validate() error
	QueuePayload() map[string]any
	Clone() WorkerPayload
}

// DockerImage docker worker的镜像引用
// 三种来源：仓库内dockerfile（需经镜像解析阶段转成任务引用）、
// 上游镜像构建任务产物、公共registry引用。
type DockerImage struct {
	Name   string `json:"name,omitempty" yaml:"name"`
	InTree string `json:"in_tree,omitempty" yaml:"in-tree"`
	TaskID string `json:"task_id,omitempty" yaml:"task-id"`
	Path   string `json:"path,omitempty" yaml:"path"`
}

func (img DockerImage) queueValue() any {
	if img.TaskID != "" {
		return map[string]any{
			"type":   "task-image",
			"taskId": img.TaskID,
			"path":   img.Path,
		}
	}
	if img.InTree != "" {
		return map[string]any{
			"type": "in-tree",
			"name": img.InTree,
		}
	}
	return img.Name
}

// Artifact docker worker产出的工件声明
type Artifact struct {
	Name      string `json:"name" yaml:"name"`
	Path      string `json:"path" yaml:"path"`
	Type      string `json:"type,omitempty" yaml:"type"`
	ExpiresIn string `json:"expires_in,omitempty" yaml:"expires-in"`
}

// Fetch 声明从上游任务拉取的单个工件
// 模板阶段只有TaskLabel，调度阶段解析成TaskID后写入env。
type Fetch struct {
	Artifact  string `json:"artifact" yaml:"artifact"`
	TaskLabel string `json:"task_label,omitempty" yaml:"task-label"`
	TaskID    string `json:"task_id,omitempty" yaml:"task-id"`
}

// DockerWorkerPayload shell类docker worker的payload（对外导出）
type DockerWorkerPayload struct {
	Image             DockerImage       `json:"image"`
	Command           []string          `json:"command,omitempty"`
	Env               map[string]string `json:"env,omitempty"`
	Caches            map[string]string `json:"caches,omitempty"`
	Features          map[string]bool   `json:"features,omitempty"`
	Artifacts         []Artifact        `json:"artifacts,omitempty"`
	Fetches           []Fetch           `json:"fetches,omitempty"`
	MaxRunTimeSeconds int               `json:"max_run_time_seconds"`
}

// WorkerImplementation 返回实现类型标识
func (p *DockerWorkerPayload) WorkerImplementation() string { return WorkerImplDockerWorker }

// Validate 校验payload schema
func (p *DockerWorkerPayload) Validate() error {
	if p.Image.Name == "" && p.Image.InTree == "" && p.Image.TaskID == "" {
		return &ValidationError{Field: "payload.image", Reason: "镜像引用不能为空"}
	}
	if p.Image.TaskID != "" && p.Image.Path == "" {
		return &ValidationError{Field: "payload.image.path", Reason: "task-image引用必须带工件路径"}
	}
	if p.MaxRunTimeSeconds <= 0 {
		return &ValidationError{Field: "payload.max_run_time_seconds", Reason: "必须大于0"}
	}
	for i, a := range p.Artifacts {
		if a.Name == "" || a.Path == "" {
			return &ValidationError{
				Field:  "payload.artifacts",
				Reason: "第" + strconv.Itoa(i) + "个工件缺少name或path",
			}
		}
	}
	return nil
}

// QueuePayload 产出docker worker的队列payload
func (p *DockerWorkerPayload) QueuePayload() map[string]any {
	payload := map[string]any{
		"image":      p.Image.queueValue(),
		"maxRunTime": p.MaxRunTimeSeconds,
	}
	if len(p.Command) > 0 {
		payload["command"] = append([]string(nil), p.Command...)
	}
	env := cloneStringMap(p.Env)
	if len(p.Fetches) > 0 {
		if env == nil {
			env = make(map[string]string, 1)
		}
		env["CI_FETCHES"] = p.fetchesEnv()
	}
	if len(env) > 0 {
		payload["env"] = env
	}
	if len(p.Caches) > 0 {
		payload["cache"] = cloneStringMap(p.Caches)
	}
	if len(p.Features) > 0 {
		features := make(map[string]bool, len(p.Features))
		for k, v := range p.Features {
			features[k] = v
		}
		payload["features"] = features
	}
	if len(p.Artifacts) > 0 {
		artifacts := make(map[string]any, len(p.Artifacts))
		for _, a := range p.Artifacts {
			kind := a.Type
			if kind == "" {
				kind = "file"
			}
			entry := map[string]any{
				"type": kind,
				"path": a.Path,
			}
			if a.ExpiresIn != "" {
				entry["expires"] = map[string]any{"relative-datestamp": a.ExpiresIn}
			}
			artifacts[a.Name] = entry
		}
		payload["artifacts"] = artifacts
	}
	return payload
}

// fetchesEnv 产出CI_FETCHES环境变量内容
// 调度解析前以label占位，条目顺序即声明顺序，保证字节稳定。
func (p *DockerWorkerPayload) fetchesEnv() string {
	entries := make([]map[string]string, 0, len(p.Fetches))
	for _, f := range p.Fetches {
		ref := f.TaskID
		if ref == "" {
			ref = f.TaskLabel
		}
		entries = append(entries, map[string]string{
			"artifact": f.Artifact,
			"task":     ref,
		})
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

// ResolveUpstreams 把fetch引用的label解析成任务ID
func (p *DockerWorkerPayload) ResolveUpstreams(resolve func(label string) (string, bool)) error {
	for i := range p.Fetches {
		f := &p.Fetches[i]
		if f.TaskID != "" || f.TaskLabel == "" {
			continue
		}
		id, ok := resolve(f.TaskLabel)
		if !ok {
			return &ValidationError{
				Field:  "payload.fetches",
				Reason: "无法解析上游任务: " + f.TaskLabel,
			}
		}
		f.TaskID = id
	}
	return nil
}

// Clone 深拷贝payload
func (p *DockerWorkerPayload) Clone() WorkerPayload {
	cp := &DockerWorkerPayload{
		Image:             p.Image,
		MaxRunTimeSeconds: p.MaxRunTimeSeconds,
	}
	cp.Command = append([]string(nil), p.Command...)
	cp.Env = cloneStringMap(p.Env)
	cp.Caches = cloneStringMap(p.Caches)
	if p.Features != nil {
		cp.Features = make(map[string]bool, len(p.Features))
		for k, v := range p.Features {
			cp.Features[k] = v
		}
	}
	cp.Artifacts = append([]Artifact(nil), p.Artifacts...)
	cp.Fetches = append([]Fetch(nil), p.Fetches...)
	return cp
}

// UpstreamArtifact 引用上游任务产物（签名、发布worker共用）
// 模板阶段只知道TaskLabel，调度阶段由引擎解析成外部TaskID。
type UpstreamArtifact struct {
	TaskLabel string   `json:"task_label,omitempty" yaml:"task-label"`
	TaskID    string   `json:"task_id,omitempty" yaml:"task-id"`
	TaskType  string   `json:"task_type" yaml:"task-type"`
	Paths     []string `json:"paths" yaml:"paths"`
	Formats   []string `json:"formats,omitempty" yaml:"formats"`
}

func (u UpstreamArtifact) queueValue() map[string]any {
	entry := map[string]any{
		"taskId":   u.TaskID,
		"taskType": u.TaskType,
		"paths":    append([]string(nil), u.Paths...),
	}
	if len(u.Formats) > 0 {
		entry["formats"] = append([]string(nil), u.Formats...)
	}
	return entry
}

func cloneUpstreamArtifacts(in []UpstreamArtifact) []UpstreamArtifact {
	if in == nil {
		return nil
	}
	out := make([]UpstreamArtifact, len(in))
	for i, u := range in {
		out[i] = u
		out[i].Paths = append([]string(nil), u.Paths...)
		out[i].Formats = append([]string(nil), u.Formats...)
	}
	return out
}

func resolveUpstreamArtifacts(in []UpstreamArtifact, resolve func(label string) (string, bool)) error {
	for i := range in {
		if in[i].TaskID != "" {
			continue
		}
		id, ok := resolve(in[i].TaskLabel)
		if !ok {
			return &ValidationError{
				Field:  "payload.upstream_artifacts",
				Reason: "无法解析上游任务 " + in[i].TaskLabel,
			}
		}
		in[i].TaskID = id
	}
	return nil
}

// UpstreamResolver 需要把上游Label解析为外部TaskID的payload实现此接口
// 引擎在渲染队列定义前按需调用。
type UpstreamResolver interface {
	ResolveUpstreams(resolve func(label string) (string, bool)) error
}

// SigningPayload 签名worker的payload（对外导出）
type SigningPayload struct {
	UpstreamArtifacts []UpstreamArtifact `json:"upstream_artifacts"`
}

// WorkerImplementation 返回实现类型标识
func (p *SigningPayload) WorkerImplementation() string { return WorkerImplSigning }

// Validate 校验payload schema
func (p *SigningPayload) Validate() error {
	if len(p.UpstreamArtifacts) == 0 {
		return &ValidationError{Field: "payload.upstream_artifacts", Reason: "不能为空"}
	}
	for _, u := range p.UpstreamArtifacts {
		if u.TaskLabel == "" && u.TaskID == "" {
			return &ValidationError{Field: "payload.upstream_artifacts", Reason: "缺少上游任务引用"}
		}
		if len(u.Paths) == 0 {
			return &ValidationError{Field: "payload.upstream_artifacts", Reason: "缺少工件路径"}
		}
	}
	return nil
}

// QueuePayload 产出签名worker的队列payload
func (p *SigningPayload) QueuePayload() map[string]any {
	upstream := make([]any, 0, len(p.UpstreamArtifacts))
	for _, u := range p.UpstreamArtifacts {
		upstream = append(upstream, u.queueValue())
	}
	return map[string]any{"upstreamArtifacts": upstream}
}

// Clone 深拷贝payload
func (p *SigningPayload) Clone() WorkerPayload {
	return &SigningPayload{UpstreamArtifacts: cloneUpstreamArtifacts(p.UpstreamArtifacts)}
}

// ResolveUpstreams 解析上游Label为TaskID
func (p *SigningPayload) ResolveUpstreams(resolve func(label string) (string, bool)) error {
	return resolveUpstreamArtifacts(p.UpstreamArtifacts, resolve)
}

// BeetmoverPayload 发布worker的payload（对外导出）
type BeetmoverPayload struct {
	Action            string             `json:"action"`
	Version           string             `json:"version"`
	AppName           string             `json:"app_name"`
	UpstreamArtifacts []UpstreamArtifact `json:"upstream_artifacts"`
}

// WorkerImplementation 返回实现类型标识
func (p *BeetmoverPayload) WorkerImplementation() string { return WorkerImplBeetmover }

// Validate 校验payload schema
func (p *BeetmoverPayload) Validate() error {
	if p.Action == "" {
		return &ValidationError{Field: "payload.action", Reason: "不能为空"}
	}
	if p.Version == "" {
		return &ValidationError{Field: "payload.version", Reason: "不能为空"}
	}
	if len(p.UpstreamArtifacts) == 0 {
		return &ValidationError{Field: "payload.upstream_artifacts", Reason: "不能为空"}
	}
	return nil
}

// QueuePayload 产出发布worker的队列payload
func (p *BeetmoverPayload) QueuePayload() map[string]any {
	upstream := make([]any, 0, len(p.UpstreamArtifacts))
	for _, u := range p.UpstreamArtifacts {
		upstream = append(upstream, u.queueValue())
	}
	payload := map[string]any{
		"action":            p.Action,
		"version":           p.Version,
		"upstreamArtifacts": upstream,
	}
	if p.AppName != "" {
		payload["releaseProperties"] = map[string]any{"appName": p.AppName}
	}
	return payload
}

// Clone 深拷贝payload
func (p *BeetmoverPayload) Clone() WorkerPayload {
	return &BeetmoverPayload{
		Action:            p.Action,
		Version:           p.Version,
		AppName:           p.AppName,
		UpstreamArtifacts: cloneUpstreamArtifacts(p.UpstreamArtifacts),
	}
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
