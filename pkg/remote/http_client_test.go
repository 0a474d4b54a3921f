package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/decision-engine/pkg/core/task"
)

func sampleDefinition() *task.QueueDefinition {
	return &task.QueueDefinition{
		TaskGroupID:   "group-1",
		SchedulerID:   "ci-level-1",
		ProvisionerID: "ci",
		WorkerType:    "b-linux",
		Created:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Deadline:      time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
		Expires:       time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		Metadata: task.QueueMetadata{
			Name:  "DecisionEngine: build",
			Owner: "dev@example.com",
		},
		Payload: map[string]any{"image": "ubuntu:22.04", "maxRunTime": 600},
	}
}

func TestHTTPQueueCreateTask(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	q := NewHTTPQueue(server.URL)
	err := q.CreateTask(context.Background(), "task-abc", sampleDefinition())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/api/queue/v1/task/task-abc", gotPath)
	assert.Equal(t, "b-linux", gotBody["workerType"])
	metadata := gotBody["metadata"].(map[string]any)
	assert.Equal(t, "DecisionEngine: build", metadata["name"])
}

func TestHTTPQueueCreateTaskServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer server.Close()

	q := NewHTTPQueue(server.URL)
	err := q.CreateTask(context.Background(), "task-abc", sampleDefinition())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=500")
}

func TestHTTPIndexFindTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/index/v1/task/project.demo.build.abc", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"taskId": "task-123"})
	}))
	defer server.Close()

	idx := NewHTTPIndex(server.URL)
	id, err := idx.FindTask(context.Background(), "project.demo.build.abc")
	require.NoError(t, err)
	assert.Equal(t, "task-123", id)
}

func TestHTTPIndexFindTaskNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such indexed task", http.StatusNotFound)
	}))
	defer server.Close()

	idx := NewHTTPIndex(server.URL)
	_, err := idx.FindTask(context.Background(), "project.demo.missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err), "404必须映射为语义级未找到")
}

func TestHTTPIndexFindTaskOtherErrorIsNotNotFound(t *testing.T) {
	// 服务端5xx绝不能被当成未找到
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	idx := NewHTTPIndex(server.URL)
	_, err := idx.FindTask(context.Background(), "project.demo.build.abc")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "status=502")
}

func TestHTTPIndexFindTaskEmptyTaskID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	idx := NewHTTPIndex(server.URL)
	_, err := idx.FindTask(context.Background(), "project.demo.build.abc")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}
