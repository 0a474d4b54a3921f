package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

const defaultTimeout = 30 * time.Second

// HTTPQueue 队列服务的HTTP客户端（对外导出）
type HTTPQueue struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPQueue 创建队列客户端
func NewHTTPQueue(baseURL string) *HTTPQueue {
	return NewHTTPQueueWithTimeout(baseURL, defaultTimeout)
}

// NewHTTPQueueWithTimeout 创建队列客户端（指定请求超时，对外导出）
func NewHTTPQueueWithTimeout(baseURL string, timeout time.Duration) *HTTPQueue {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPQueue{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateTask 提交任务定义（PUT /api/queue/v1/task/<id>）
func (q *HTTPQueue) CreateTask(ctx context.Context, taskID string, def *task.QueueDefinition) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("序列化任务定义失败: %w", err)
	}

	url := q.baseURL + "/api/queue/v1/task/" + taskID
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("队列请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("队列创建任务失败: taskID=%s status=%d body=%s", taskID, resp.StatusCode, string(msg))
	}
	return nil
}

// HTTPIndex 索引服务的HTTP客户端（对外导出）
type HTTPIndex struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPIndex 创建索引客户端
func NewHTTPIndex(baseURL string) *HTTPIndex {
	return NewHTTPIndexWithTimeout(baseURL, defaultTimeout)
}

// NewHTTPIndexWithTimeout 创建索引客户端（指定请求超时，对外导出）
func NewHTTPIndexWithTimeout(baseURL string, timeout time.Duration) *HTTPIndex {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPIndex{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type findTaskResponse struct {
	TaskID string `json:"taskId"`
}

// FindTask 查询索引路径（GET /api/index/v1/task/<path>）
// 404在这里且只在这里映射为ErrTaskNotFound；其余非2xx状态
// 原样作为错误上抛，绝不当作缓存未命中。
func (idx *HTTPIndex) FindTask(ctx context.Context, indexPath string) (string, error) {
	url := idx.baseURL + "/api/index/v1/task/" + indexPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("构造请求失败: %w", err)
	}

	resp, err := idx.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("索引请求失败: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("索引路径 %s: %w", indexPath, ErrTaskNotFound)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("索引查询失败: path=%s status=%d body=%s", indexPath, resp.StatusCode, string(msg))
	}

	var decoded findTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析索引响应失败: %w", err)
	}
	if decoded.TaskID == "" {
		return "", fmt.Errorf("索引响应缺少taskId: path=%s", indexPath)
	}
	return decoded.TaskID, nil
}

var (
	_ Queue = (*HTTPQueue)(nil)
	_ Index = (*HTTPIndex)(nil)
)
