package graph

import (
	"fmt"
	"sort"

	"github.com/begmaroman/go-dag"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

// CycleError 检测到循环依赖（对外导出）
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("检测到循环依赖: %v", e.Path)
}

// TopologicalOrder 拓扑排序结果（对外导出）
// 每一层内的任务互不依赖，可以并行调度；层内按label排序，
// 保证相同输入产生相同的提交顺序。
type TopologicalOrder struct {
	Levels [][]string
}

// Flatten 按层展开为单一有序label列表
func (o *TopologicalOrder) Flatten() []string {
	var out []string
	for _, level := range o.Levels {
		out = append(out, level...)
	}
	return out
}

// detectCycleDFS 三色标记DFS循环检测
// graph是邻接表：前置label -> 后置label列表。返回首个发现的循环路径。
func detectCycleDFS(adj map[string][]string) (bool, []string) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(adj))
	parent := make(map[string]string, len(adj))
	var cyclePath []string

	nodes := make([]string, 0, len(adj))
	for id := range adj {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		for _, child := range adj[id] {
			switch color[child] {
			case white:
				parent[child] = id
				if dfs(child) {
					return true
				}
			case gray:
				// 后向边，回溯出循环路径
				cyclePath = append(cyclePath, child)
				cur := id
				for cur != child && cur != "" {
					cyclePath = append(cyclePath, cur)
					cur = parent[cur]
				}
				cyclePath = append(cyclePath, child)
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, id := range nodes {
		if color[id] == white {
			if dfs(id) {
				return true, cyclePath
			}
		}
	}
	return false, nil
}

// adjacency 构建前置->后置的邻接表，只保留图内可解析的边
func adjacency(g *TaskGraph) map[string][]string {
	adj := make(map[string][]string, g.Len())
	for _, label := range g.Labels() {
		if _, ok := adj[label]; !ok {
			adj[label] = make([]string, 0)
		}
		t, _ := g.Get(label)
		for _, dep := range t.SortedDependencies() {
			if !g.Has(dep) {
				continue
			}
			adj[dep] = append(adj[dep], label)
		}
	}
	return adj
}

// BuildDAG 把任务图装入go-dag实例（对外导出）
// 先用一次DFS预检循环，再批量落节点和边，避免每次AddEdge
// 触发库内递归检查。
func BuildDAG(g *TaskGraph) (*dag.DAG[*task.Task], error) {
	adj := adjacency(g)
	if hasCycle, path := detectCycleDFS(adj); hasCycle {
		return nil, &CycleError{Path: path}
	}

	d := dag.NewDAG[*task.Task]()
	for _, label := range g.Labels() {
		t, _ := g.Get(label)
		if err := d.AddVertexByID(label, t); err != nil {
			return nil, fmt.Errorf("添加节点失败: label=%s: %w", label, err)
		}
	}
	for _, label := range g.Labels() {
		t, _ := g.Get(label)
		for _, dep := range t.SortedDependencies() {
			if !g.Has(dep) {
				continue
			}
			if err := d.AddEdge(dep, label); err != nil {
				return nil, fmt.Errorf("添加边失败: %s -> %s: %w", dep, label, err)
			}
		}
	}
	return d, nil
}

// CycleCheck 显式检测循环依赖（对外导出）
func CycleCheck(g *TaskGraph) error {
	if hasCycle, path := detectCycleDFS(adjacency(g)); hasCycle {
		return &CycleError{Path: path}
	}
	return nil
}

// TopologicalLevels Kahn算法分层拓扑排序（对外导出）
// 先经BuildDAG装图（含循环预检），再在DAG实例上按入度分层。
// 图外依赖（缓存解析的外部任务）不构成边，视为已满足。
func TopologicalLevels(g *TaskGraph) (*TopologicalOrder, error) {
	d, err := BuildDAG(g)
	if err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, g.Len())
	for label := range d.GetVertices() {
		parents, err := d.GetParents(label)
		if err != nil {
			return nil, fmt.Errorf("查询节点 %s 的前置失败: %w", label, err)
		}
		inDegree[label] = len(parents)
	}

	queue := make([]string, 0)
	for label, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, label)
		}
	}

	result := &TopologicalOrder{Levels: make([][]string, 0)}
	processed := 0
	for len(queue) > 0 {
		sort.Strings(queue)
		level := append([]string(nil), queue...)
		next := make([]string, 0)
		for _, label := range level {
			processed++
			children, err := d.GetChildren(label)
			if err != nil {
				return nil, fmt.Errorf("查询节点 %s 的后置失败: %w", label, err)
			}
			for child := range children {
				inDegree[child]--
				if inDegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		result.Levels = append(result.Levels, level)
		queue = next
	}

	if processed != g.Len() {
		return nil, fmt.Errorf("拓扑排序失败: 存在未处理的节点")
	}
	return result, nil
}
