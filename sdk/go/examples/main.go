package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ResearchMind/sdk/go/researchmind"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(researchmind.Task{
				ID:     "task-demo",
				Goal:   "搜索最近两年的大模型推理优化论文",
				Status: "pending",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/tasks/task-demo", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(researchmind.Task{
			ID:     "task-demo",
			Status: "succeeded",
			Result: &researchmind.ExecutionResult{
				TaskType:    "literature_research",
				FinalAnswer: "## 调研报告\n\n共找到 8 篇相关论文。",
				Score:       0.82,
				Passed:      true,
				Iterations:  1,
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := researchmind.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := client.SubmitTask(ctx, researchmind.TaskSubmission{
		Goal:    "搜索最近两年的大模型推理优化论文",
		Context: map[string]any{"max_papers": 20},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted task %s (status=%s)\n", created.ID, created.Status)

	detail, err := client.WaitForCompletion(ctx, created.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task %s finished: passed=%v score=%.2f\n", detail.ID, detail.Result.Passed, detail.Result.Score)
	fmt.Println(detail.Result.FinalAnswer)
}
