package decisionengine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/LENAX/decision-engine/pkg/api/dto"
)

// Client Decision Engine HTTP API客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建Decision Engine客户端
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ========== Decision API ==========

// TriggerRun 触发一次decision run
func (c *Client) TriggerRun(req dto.TriggerRunRequest) (*dto.TriggerRunResponse, error) {
	var resp dto.APIResponse[dto.TriggerRunResponse]
	if err := c.post("/api/v1/decisions", req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// ListRuns 查询decision run历史
func (c *Client) ListRuns(status string, limit, offset int) (*dto.ListResponse[dto.RunSummary], error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if offset > 0 {
		params.Set("offset", fmt.Sprintf("%d", offset))
	}

	path := "/api/v1/decisions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp dto.APIResponse[dto.ListResponse[dto.RunSummary]]
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// GetRun 获取decision run详情（含调度明细）
func (c *Client) GetRun(id string) (*dto.RunDetail, error) {
	var resp dto.APIResponse[dto.RunDetail]
	if err := c.get("/api/v1/decisions/"+id, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// GetGraph 获取decision run生成的任务图工件
// 成功时端点直接返回工件原文，失败时才是APIResponse包装。
func (c *Client) GetGraph(id string) (json.RawMessage, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/api/v1/decisions/" + id + "/graph")
	if err != nil {
		return nil, fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var envelope dto.APIResponse[any]
		if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
			return nil, errors.New(envelope.Message)
		}
		return nil, fmt.Errorf("请求失败: HTTP %d", resp.StatusCode)
	}
	return json.RawMessage(body), nil
}

// ========== Health API ==========

// Health 查询服务健康状态
func (c *Client) Health() (*dto.HealthResponse, error) {
	var resp dto.APIResponse[dto.HealthResponse]
	if err := c.get("/health", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// ========== HTTP helpers ==========

func (c *Client) get(path string, result interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) post(path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", reqBody)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) parseResponse(resp *http.Response, result interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("解析响应失败: %w, body: %s", err, string(body))
	}

	return nil
}
