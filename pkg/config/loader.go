package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// LoadEngineConfig 加载引擎配置文件（对外导出）
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.ApplyDefaults()
	if err := ValidateEngineConfig(&cfg); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	return &cfg, nil
}

// LoadRunParameters 从YAML文件加载run参数（对外导出）
func LoadRunParameters(path string) (*RunParameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取参数文件失败: %w", err)
	}

	var params RunParameters
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("解析参数文件失败: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &params, nil
}

// LoadKind 加载单个kind文档
func LoadKind(kindsDir, name string) (*KindConfig, error) {
	path := filepath.Join(kindsDir, name, "kind.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取kind %s 失败: %w", name, err)
	}

	var kind KindConfig
	if err := yaml.Unmarshal(data, &kind); err != nil {
		return nil, fmt.Errorf("解析kind %s 失败: %w", name, err)
	}
	kind.Name = name
	if err := ValidateKindConfig(&kind); err != nil {
		return nil, err
	}
	return &kind, nil
}

// LoadKinds 加载目录下全部kind并按kind-dependencies排序（对外导出）
// 返回顺序保证每个kind排在它依赖的kind之后，供引擎逐kind生成任务。
func LoadKinds(kindsDir string) ([]*KindConfig, error) {
	entries, err := os.ReadDir(kindsDir)
	if err != nil {
		return nil, fmt.Errorf("读取kinds目录失败: %w", err)
	}

	kinds := make(map[string]*KindConfig)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		kind, err := LoadKind(kindsDir, entry.Name())
		if err != nil {
			return nil, err
		}
		kinds[kind.Name] = kind
		names = append(names, kind.Name)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("kinds目录 %s 下没有任何kind", kindsDir)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, dep := range kinds[name].KindDependencies {
			if _, ok := kinds[dep]; !ok {
				return nil, fmt.Errorf("kind %s 依赖的kind %s 不存在", name, dep)
			}
		}
	}
	return sortKinds(names, kinds)
}

// sortKinds Kahn分层排序，保证确定性输出
func sortKinds(names []string, kinds map[string]*KindConfig) ([]*KindConfig, error) {
	inDegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, name := range names {
		inDegree[name] = len(kinds[name].KindDependencies)
		for _, dep := range kinds[name].KindDependencies {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	queue := make([]string, 0, len(names))
	for _, name := range names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	ordered := make([]*KindConfig, 0, len(names))
	for len(queue) > 0 {
		sort.Strings(queue)
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, kinds[name])
		for _, next := range dependents[name] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(ordered) != len(names) {
		return nil, fmt.Errorf("kind依赖存在环路")
	}
	return ordered, nil
}
