package researchmind

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubmitTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/tasks" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer demo-key" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		var submission TaskSubmission
		if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
			t.Errorf("decode submission: %v", err)
		}
		if submission.Goal != "搜索深度学习论文" {
			t.Errorf("unexpected goal: %q", submission.Goal)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Goal: submission.Goal, Status: "pending"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAPIKey("demo-key")

	created, err := client.SubmitTask(context.Background(), TaskSubmission{Goal: "搜索深度学习论文"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if created.ID != "task-1" || created.Status != "pending" {
		t.Fatalf("unexpected task: %+v", created)
	}
}

func TestGetTaskError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "任务不存在", http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetTask(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}

func TestWaitForCompletion(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		status := "running"
		if calls >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Task{
			ID:     "task-2",
			Status: status,
			Result: &ExecutionResult{FinalAnswer: "done", Passed: true},
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	detail, err := client.WaitForCompletion(ctx, "task-2", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if detail.Status != "succeeded" || detail.Result == nil || detail.Result.FinalAnswer != "done" {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if calls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls)
	}
}

func TestListParamsEncode(t *testing.T) {
	params := ListParams{Limit: 10, Statuses: []string{"pending", "failed"}, Query: "量子"}
	encoded := params.encode()
	if encoded == "" {
		t.Fatal("expected encoded query")
	}
	for _, want := range []string{"limit=10", "status=pending%2Cfailed"} {
		if !strings.Contains(encoded, want) {
			t.Fatalf("expected %q in %q", want, encoded)
		}
	}
}
