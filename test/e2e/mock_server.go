package e2e

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

// RemoteServer 模拟外部队列与索引服务的HTTP服务器
// 任务创建时扫描其index.前缀路由并立即收录进索引，相当于
// 任务瞬间完成，跨run缓存命中可以走完整HTTP链路验证。
type RemoteServer struct {
	server *httptest.Server

	mu          sync.RWMutex
	created     map[string]map[string]any // taskID -> 任务定义
	order       []string
	index       map[string]string // 索引路径 -> taskID
	indexStatus int               // 非0时索引查询固定返回该状态码
}

// NewRemoteServer 启动模拟远端服务器
func NewRemoteServer() *RemoteServer {
	gin.SetMode(gin.TestMode)
	rs := &RemoteServer{
		created: make(map[string]map[string]any),
		index:   make(map[string]string),
	}

	router := gin.New()
	router.PUT("/api/queue/v1/task/:id", rs.handleCreateTask)
	router.GET("/api/index/v1/task/:path", rs.handleFindTask)

	rs.server = httptest.NewServer(router)
	return rs
}

// URL 服务器基地址
func (rs *RemoteServer) URL() string {
	return rs.server.URL
}

// Close 关闭服务器
func (rs *RemoteServer) Close() {
	rs.server.Close()
}

func (rs *RemoteServer) handleCreateTask(c *gin.Context) {
	taskID := c.Param("id")

	var def map[string]any
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "任务定义不是合法JSON"})
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, exists := rs.created[taskID]; exists {
		c.JSON(http.StatusConflict, gin.H{"message": "任务已存在"})
		return
	}
	rs.created[taskID] = def
	rs.order = append(rs.order, taskID)

	// index.前缀路由立即生效，模拟任务完成后被索引服务收录
	if routes, ok := def["routes"].([]any); ok {
		for _, r := range routes {
			route, ok := r.(string)
			if !ok || !strings.HasPrefix(route, task.IndexRoutePrefix) {
				continue
			}
			rs.index[strings.TrimPrefix(route, task.IndexRoutePrefix)] = taskID
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "pending"})
}

func (rs *RemoteServer) handleFindTask(c *gin.Context) {
	rs.mu.RLock()
	status := rs.indexStatus
	taskID, found := rs.index[c.Param("path")]
	rs.mu.RUnlock()

	if status != 0 {
		c.JSON(status, gin.H{"message": "模拟索引服务故障"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"message": "索引路径不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": taskID})
}

// SetIndexStatus 让索引查询固定返回status，0恢复正常
func (rs *RemoteServer) SetIndexStatus(status int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.indexStatus = status
}

// SetIndexEntry 手工写入索引条目
func (rs *RemoteServer) SetIndexEntry(path, taskID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.index[path] = taskID
}

// CreatedCount 累计创建的任务数
func (rs *RemoteServer) CreatedCount() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.order)
}

// CreatedTask 按ID取任务定义
func (rs *RemoteServer) CreatedTask(taskID string) (map[string]any, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	def, ok := rs.created[taskID]
	return def, ok
}

// CreatedOrder 任务创建顺序
func (rs *RemoteServer) CreatedOrder() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]string, len(rs.order))
	copy(out, rs.order)
	return out
}
