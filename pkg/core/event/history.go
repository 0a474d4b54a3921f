package event

import (
	"sync"
	"sync/atomic"
)

// History 近期事件的有界环形缓冲（对外导出）
// 总线本身不持久化，订阅建立之前的事件会丢失；History为每个
// 发布的事件保留一份副本，容量满时覆盖最旧的事件。API层用它
// 在websocket连接建立时补发run已经发生的事件。
type History struct {
	mu       sync.RWMutex
	events   []*Event
	capacity int
	next     int   // 下一个写入位置
	full     bool  // 缓冲是否已写满一轮
	totalIn  int64 // atomic，累计写入数
	evicted  int64 // atomic，被覆盖的事件数
}

// NewHistory 创建事件历史缓冲
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 256
	}
	return &History{
		events:   make([]*Event, capacity),
		capacity: capacity,
	}
}

// Append 追加事件
// 容量满时覆盖最旧事件并累计覆盖数，调用方永不阻塞。
func (h *History) Append(e *Event) {
	if e == nil {
		return
	}

	h.mu.Lock()
	if h.full {
		atomic.AddInt64(&h.evicted, 1)
	}
	h.events[h.next] = e
	h.next = (h.next + 1) % h.capacity
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()

	atomic.AddInt64(&h.totalIn, 1)
}

// Recent 返回缓冲中的全部事件（从旧到新）
func (h *History) Recent() []*Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot(func(*Event) bool { return true })
}

// RecentForRun 返回某次run的事件（从旧到新）
func (h *History) RecentForRun(runID string) []*Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot(func(e *Event) bool { return e.RunID == runID })
}

// snapshot 按时间序扫描环形缓冲（调用方必须持有读锁）
func (h *History) snapshot(keep func(*Event) bool) []*Event {
	start, count := 0, h.next
	if h.full {
		start, count = h.next, h.capacity
	}

	var out []*Event
	for i := 0; i < count; i++ {
		e := h.events[(start+i)%h.capacity]
		if e != nil && keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Len 当前缓冲中的事件数
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return h.capacity
	}
	return h.next
}

// Cap 缓冲容量
func (h *History) Cap() int {
	return h.capacity
}

// Stats 累计写入数与被覆盖数
func (h *History) Stats() (totalIn, evicted int64) {
	return atomic.LoadInt64(&h.totalIn), atomic.LoadInt64(&h.evicted)
}

// Clear 清空缓冲，返回清除的事件数
func (h *History) Clear() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := h.next
	if h.full {
		count = h.capacity
	}
	h.events = make([]*Event, h.capacity)
	h.next = 0
	h.full = false
	return count
}
