package task

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"ResearchMind/internal/agent"
	"ResearchMind/internal/observability/alerting"
	"ResearchMind/internal/reflection"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
}

func (f *fakeExecutor) Execute(ctx context.Context, req agent.TaskRequest, _ agent.ObserverSink) (*reflection.Outcome, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.processed.Add(1)
	return &reflection.Outcome{
		Result: &agent.TaskResult{
			Goal:        req.Goal,
			TaskType:    agent.TaskGeneral,
			FinalAnswer: "ok",
		},
		Evaluation: reflection.Evaluation{
			Completeness: 0.8,
			Accuracy:     0.8,
			Usefulness:   0.8,
			Clarity:      0.8,
			Passed:       true,
		},
		Passed: true,
	}, nil
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		goal := fmt.Sprintf("goal-%d", i)
		if _, err := service.Submit(ctx, agent.TaskRequest{Goal: goal}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestProcessorPersistsOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	executor := &fakeExecutor{}
	processor := NewProcessor(executor, store, nil, NewMemoryQueue(8))

	if err := store.Create(ctx, &Task{ID: "job-1", Goal: "整理量子计算文献", Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := processor.handle(ctx, "job-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	task, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", task.Status)
	}
	if task.Result == nil || task.Result.FinalAnswer != "ok" {
		t.Fatalf("unexpected result: %+v", task.Result)
	}
	if !task.Result.Passed || task.Result.Score <= 0 {
		t.Fatalf("expected scored result, got %+v", task.Result)
	}
}

type failingExecutor struct {
	err error
}

func (f *failingExecutor) Execute(context.Context, agent.TaskRequest, agent.ObserverSink) (*reflection.Outcome, error) {
	return nil, f.err
}

type recordingDispatcher struct {
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.events = append(d.events, event)
	return nil
}

func TestProcessorEmitsAlertOnTerminalFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	dispatcher := &recordingDispatcher{}
	executor := &failingExecutor{err: errors.New("模型后端不可用")}
	processor := NewProcessor(executor, store, nil, NewMemoryQueue(8),
		WithAlertDispatcher(dispatcher),
	)

	if err := store.Create(ctx, &Task{ID: "job-2", Goal: "整理实验记录", Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := processor.handle(ctx, "job-2"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	task, err := store.Get(ctx, "job-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", task.Status)
	}

	if len(dispatcher.events) != 1 {
		t.Fatalf("expected one alert event, got %d", len(dispatcher.events))
	}
	event := dispatcher.events[0]
	if event.TaskID != "job-2" {
		t.Fatalf("unexpected task id: %+v", event)
	}
	if event.Metadata["stage"] != "terminal" {
		t.Fatalf("expected terminal stage, got %v", event.Metadata)
	}
	if event.Message != "模型后端不可用" {
		t.Fatalf("unexpected message: %q", event.Message)
	}
}
