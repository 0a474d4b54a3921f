package mocks

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/LENAX/decision-engine/pkg/storage"
)

// MockDecisionRunRepository 模拟运行历史存储，支持模拟各种故障场景
type MockDecisionRunRepository struct {
	mu             sync.RWMutex
	runs           map[string]*storage.DecisionRun
	tasks          map[string][]*storage.ScheduledTaskRecord
	order          []string
	shouldFailSave bool
	shouldFailGet  bool
	closed         bool
}

// NewMockDecisionRunRepository 创建MockDecisionRunRepository
func NewMockDecisionRunRepository() *MockDecisionRunRepository {
	return &MockDecisionRunRepository{
		runs:  make(map[string]*storage.DecisionRun),
		tasks: make(map[string][]*storage.ScheduledTaskRecord),
	}
}

// SetShouldFailSave 设置写操作是否失败
func (m *MockDecisionRunRepository) SetShouldFailSave(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailSave = shouldFail
}

// SetShouldFailGet 设置读操作是否失败
func (m *MockDecisionRunRepository) SetShouldFailGet(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailGet = shouldFail
}

// Closed 查询Close是否被调用过
func (m *MockDecisionRunRepository) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// SaveRun 保存run记录
func (m *MockDecisionRunRepository) SaveRun(_ context.Context, run *storage.DecisionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFailSave {
		return errors.New("模拟存储故障：保存失败")
	}

	cp := *run
	if _, exists := m.runs[run.ID]; !exists {
		m.order = append(m.order, run.ID)
	}
	m.runs[run.ID] = &cp
	return nil
}

// GetRun 根据ID查询run记录
func (m *MockDecisionRunRepository) GetRun(_ context.Context, id string) (*storage.DecisionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.shouldFailGet {
		return nil, errors.New("模拟存储故障：读取失败")
	}

	run, exists := m.runs[id]
	if !exists {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

// DeleteRun 删除run记录及其调度明细
func (m *MockDecisionRunRepository) DeleteRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFailSave {
		return errors.New("模拟存储故障：删除失败")
	}

	delete(m.runs, id)
	delete(m.tasks, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListRuns 按写入顺序倒序分页查询
func (m *MockDecisionRunRepository) ListRuns(_ context.Context, limit, offset int) ([]*storage.DecisionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.shouldFailGet {
		return nil, errors.New("模拟存储故障：读取失败")
	}

	reversed := make([]*storage.DecisionRun, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		cp := *m.runs[m.order[i]]
		reversed = append(reversed, &cp)
	}
	if offset >= len(reversed) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(reversed) {
		end = len(reversed)
	}
	return reversed[offset:end], nil
}

// CountRuns 统计run记录总数
func (m *MockDecisionRunRepository) CountRuns(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.shouldFailGet {
		return 0, errors.New("模拟存储故障：读取失败")
	}
	return len(m.runs), nil
}

// SaveRunWithTasks 保存run记录及其全部调度明细
func (m *MockDecisionRunRepository) SaveRunWithTasks(ctx context.Context, run *storage.DecisionRun, tasks []*storage.ScheduledTaskRecord) error {
	if err := m.SaveRun(ctx, run); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]*storage.ScheduledTaskRecord, 0, len(tasks))
	for _, rec := range tasks {
		cp := *rec
		records = append(records, &cp)
	}
	m.tasks[run.ID] = records
	return nil
}

// GetRunWithTasks 根据ID查询run记录及其调度明细
func (m *MockDecisionRunRepository) GetRunWithTasks(ctx context.Context, id string) (*storage.DecisionRun, []*storage.ScheduledTaskRecord, error) {
	run, err := m.GetRun(ctx, id)
	if err != nil || run == nil {
		return nil, nil, err
	}
	tasks, err := m.ListScheduledTasks(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return run, tasks, nil
}

// UpdateRunStatus 更新run状态与失败原因
func (m *MockDecisionRunRepository) UpdateRunStatus(_ context.Context, id string, status string, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFailSave {
		return errors.New("模拟存储故障：更新失败")
	}

	run, exists := m.runs[id]
	if !exists {
		return nil
	}
	run.Status = status
	run.ErrorMessage = errorMsg
	return nil
}

// ListScheduledTasks 查询某次run的全部调度明细（按label排序）
func (m *MockDecisionRunRepository) ListScheduledTasks(_ context.Context, runID string) ([]*storage.ScheduledTaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.shouldFailGet {
		return nil, errors.New("模拟存储故障：读取失败")
	}

	out := make([]*storage.ScheduledTaskRecord, 0, len(m.tasks[runID]))
	for _, rec := range m.tasks[runID] {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// Close 关闭存储
func (m *MockDecisionRunRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ storage.DecisionRunRepository = (*MockDecisionRunRepository)(nil)
