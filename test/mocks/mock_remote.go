package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LENAX/decision-engine/pkg/core/task"
	"github.com/LENAX/decision-engine/pkg/remote"
)

// MockQueue 模拟外部队列服务，支持模拟各种故障场景
type MockQueue struct {
	mu               sync.RWMutex
	created          map[string]*task.QueueDefinition
	order            []string
	shouldFailCreate bool
	failCount        int
	currentFailCount int
}

// NewMockQueue 创建MockQueue
func NewMockQueue() *MockQueue {
	return &MockQueue{
		created: make(map[string]*task.QueueDefinition),
	}
}

// SetShouldFailCreate 设置创建任务是否失败
func (m *MockQueue) SetShouldFailCreate(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailCreate = shouldFail
}

// SetFailCount 设置失败次数（用于模拟部分失败）
func (m *MockQueue) SetFailCount(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCount = count
	m.currentFailCount = 0
}

// CreateTask 提交任务定义（模拟）
func (m *MockQueue) CreateTask(_ context.Context, taskID string, def *task.QueueDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFailCreate {
		return errors.New("模拟队列故障：创建任务失败")
	}
	if m.failCount > 0 && m.currentFailCount < m.failCount {
		m.currentFailCount++
		return fmt.Errorf("模拟队列故障：创建任务失败（第%d次）", m.currentFailCount)
	}

	m.created[taskID] = def
	m.order = append(m.order, taskID)
	return nil
}

// CreatedTask 获取某个任务ID对应的任务定义
func (m *MockQueue) CreatedTask(taskID string) (*task.QueueDefinition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.created[taskID]
	return def, ok
}

// CreatedOrder 获取任务创建顺序
func (m *MockQueue) CreatedOrder() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// CreatedCount 获取已创建的任务数
func (m *MockQueue) CreatedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.created)
}

// MockIndex 模拟外部索引服务，支持预置索引项与故障注入
type MockIndex struct {
	mu             sync.RWMutex
	entries        map[string]string
	calls          []string
	shouldFailFind bool
}

// NewMockIndex 创建MockIndex
func NewMockIndex() *MockIndex {
	return &MockIndex{
		entries: make(map[string]string),
	}
}

// SetEntry 预置索引项（完整索引路径 -> 任务ID）
func (m *MockIndex) SetEntry(indexPath, taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[indexPath] = taskID
}

// SetShouldFailFind 设置查询是否失败（非404故障）
func (m *MockIndex) SetShouldFailFind(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailFind = shouldFail
}

// FindTask 查询索引路径（模拟）
// 未预置的路径返回remote.ErrTaskNotFound，与真实客户端的404语义一致。
func (m *MockIndex) FindTask(_ context.Context, indexPath string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, indexPath)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.shouldFailFind {
		return "", errors.New("模拟索引故障：查询失败")
	}
	if id, ok := m.entries[indexPath]; ok {
		return id, nil
	}
	return "", fmt.Errorf("索引路径 %s: %w", indexPath, remote.ErrTaskNotFound)
}

// Calls 获取全部查询过的索引路径
func (m *MockIndex) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.calls...)
}

var (
	_ remote.Queue = (*MockQueue)(nil)
	_ remote.Index = (*MockIndex)(nil)
)
