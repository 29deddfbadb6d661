package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ResearchMind/internal/task"
)

func TestHandleTaskDetailSuccess(t *testing.T) {
	store := task.NewMemoryStore()
	svc := task.NewService(store, nil, 3)
	server := NewServer(":0", svc)

	sample := &task.Task{
		ID:         "task-success",
		Goal:       "demo",
		Status:     task.StatusSucceeded,
		Attempts:   1,
		MaxRetries: 3,
		CreatedAt:  1700000000,
		UpdatedAt:  1700000001,
		Result: &task.ExecutionResult{
			TaskType:    "general",
			FinalAnswer: "ok",
			Score:       0.8,
			Passed:      true,
			Iterations:  1,
		},
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample task: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/task-success", nil)
	rec := httptest.NewRecorder()

	server.handleTaskDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}

	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sample.ID {
		t.Fatalf("unexpected task id: got %q want %q", got.ID, sample.ID)
	}
	if got.Result == nil || got.Result.FinalAnswer != "ok" {
		t.Fatalf("unexpected task result: %+v", got.Result)
	}
}

func TestHandleTaskDetailErrors(t *testing.T) {
	server := NewServer(":0", task.NewService(task.NewMemoryStore(), nil, 3))

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/task-1", nil)
		rec := httptest.NewRecorder()

		server.handleTaskDetail(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/", nil)
		rec := httptest.NewRecorder()

		server.handleTaskDetail(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing", nil)
		rec := httptest.NewRecorder()

		server.handleTaskDetail(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestHandleCreateTask(t *testing.T) {
	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(8)
	server := NewServer(":0", task.NewService(store, queue, 3))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(`{"goal":"搜索量子计算最新论文"}`))
	rec := httptest.NewRecorder()

	server.handleCreateTask(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	var created task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" || created.Status != task.StatusPending {
		t.Fatalf("unexpected created task: %+v", created)
	}

	t.Run("empty goal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(`{"goal":"  "}`))
		rec := httptest.NewRecorder()

		server.handleCreateTask(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

func TestHandleTaskStats(t *testing.T) {
	store := task.NewMemoryStore()
	server := NewServer(":0", task.NewService(store, nil, 3))
	ctx := context.Background()

	if err := store.Create(ctx, &task.Task{ID: "s1", Goal: "g", Status: task.StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &task.Task{ID: "s2", Goal: "g", Status: task.StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "s2", task.ExecutionResult{FinalAnswer: "done"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/stats", nil)
	rec := httptest.NewRecorder()

	server.handleTaskStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var stats task.TaskStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 2 || stats.Pending != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
