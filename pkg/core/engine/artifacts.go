package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/LENAX/decision-engine/pkg/config"
)

// run工件文件名
const (
	ArtifactTaskGraph     = "task-graph.json"
	ArtifactParameters    = "parameters.yml"
	ArtifactLabelToTaskID = "label-to-taskid.json"
)

// ArtifactsDirFor 某次run的工件目录（对外导出）
// 每次run独立一个子目录，避免并发run互相覆盖。
func (e *Engine) ArtifactsDirFor(runID string) string {
	return filepath.Join(e.cfg.DecisionEngine.Scheduling.ArtifactsDir, runID)
}

// writeArtifacts 写出本次run的工件（内部方法）
// 后续run与审计流程靠这三个文件还原本次决策：任务全图、触发参数
// 和label到任务ID的映射。写入失败视为run失败。
func (e *Engine) writeArtifacts(runID string, params *config.RunParameters, result *DecisionResult) error {
	dir := e.ArtifactsDirFor(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建工件目录失败: %w", err)
	}

	graphJSON, err := json.MarshalIndent(result.Graph, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化任务图失败: %w", err)
	}
	if err := writeArtifactFile(dir, ArtifactTaskGraph, graphJSON); err != nil {
		return err
	}

	paramsYAML, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("序列化run参数失败: %w", err)
	}
	if err := writeArtifactFile(dir, ArtifactParameters, paramsYAML); err != nil {
		return err
	}

	labelsJSON, err := json.MarshalIndent(result.LabelToTaskID, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化label映射失败: %w", err)
	}
	if err := writeArtifactFile(dir, ArtifactLabelToTaskID, labelsJSON); err != nil {
		return err
	}

	log.Printf("📝 [决策引擎] run %s 工件已写入 %s", runID, dir)
	return nil
}

func writeArtifactFile(dir, name string, data []byte) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("写入工件 %s 失败: %w", name, err)
	}
	return nil
}

// ReadGraphArtifact 读取某次run的任务图工件（对外导出）
// API的graph接口从这里取数据，不存在时返回os.ErrNotExist包装错误。
func (e *Engine) ReadGraphArtifact(runID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(e.ArtifactsDirFor(runID), ArtifactTaskGraph))
	if err != nil {
		return nil, fmt.Errorf("读取run %s 的任务图工件失败: %w", runID, err)
	}
	return data, nil
}
