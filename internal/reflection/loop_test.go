package reflection

import (
	"context"
	"strings"
	"testing"

	"ResearchMind/internal/agent"
	"ResearchMind/internal/llm"
)

// stubOracle 按顺序返回预置结果，耗尽后表现为未配置后端。
type stubOracle struct {
	responses []string
}

func (s *stubOracle) Complete(context.Context, string, float64) (string, error) {
	if len(s.responses) == 0 {
		return "", llm.ErrUnavailable
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *stubOracle) CompleteStream(context.Context, string, float64) (<-chan string, error) {
	return nil, llm.ErrUnavailable
}

type scriptedRunner struct {
	results  []*agent.TaskResult
	requests []agent.TaskRequest
	panics   bool
}

func (r *scriptedRunner) Execute(_ context.Context, req agent.TaskRequest, _ agent.ObserverSink) (*agent.TaskResult, error) {
	r.requests = append(r.requests, req)
	if r.panics {
		panic("runner exploded")
	}
	if len(r.results) == 0 {
		return &agent.TaskResult{Goal: req.Goal, TaskType: agent.TaskGeneral}, nil
	}
	result := r.results[0]
	if len(r.results) > 1 {
		r.results = r.results[1:]
	}
	return result, nil
}

func richAnswer() string {
	var builder strings.Builder
	builder.WriteString("## 回答\n\n")
	builder.WriteString("- 要点一\n- 要点二\n\n")
	for i := 0; i < 10; i++ {
		builder.WriteString("注意力机制允许模型在生成每个位置时关注输入序列的不同部分。")
	}
	return builder.String()
}

func passingResult(goal string) *agent.TaskResult {
	answer := richAnswer()
	return &agent.TaskResult{
		Goal:        goal,
		TaskType:    agent.TaskQuestionAnswering,
		FinalAnswer: answer,
		Outputs:     map[string]any{"answer": answer},
	}
}

func emptyResult(goal string) *agent.TaskResult {
	return &agent.TaskResult{Goal: goal, TaskType: agent.TaskGeneral}
}

func TestLoopPassesFirstAttempt(t *testing.T) {
	runner := &scriptedRunner{results: []*agent.TaskResult{passingResult("什么是注意力机制")}}
	loop := NewLoop(runner, nil)

	outcome, err := loop.Execute(context.Background(), agent.TaskRequest{ID: "t1", Goal: "什么是注意力机制"}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !outcome.Passed || outcome.Exhausted {
		t.Fatalf("expected first-attempt pass, got %+v", outcome)
	}
	if outcome.Iterations != 1 || len(outcome.History) != 1 {
		t.Fatalf("expected single iteration, got %d history %d", outcome.Iterations, len(outcome.History))
	}
	if len(runner.requests) != 1 {
		t.Fatalf("runner should be called once, got %d", len(runner.requests))
	}
}

func TestLoopRetriesAfterFailure(t *testing.T) {
	goal := "查询数据"
	runner := &scriptedRunner{results: []*agent.TaskResult{
		emptyResult(goal),
		passingResult(goal),
	}}
	loop := NewLoop(runner, nil, WithMaxIterations(2))

	sink := agent.NewChannelSink(64)
	outcome, err := loop.Execute(context.Background(), agent.TaskRequest{ID: "t2", Goal: goal}, sink)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	sink.Close()

	if !outcome.Passed {
		t.Fatalf("expected pass on retry, got %+v", outcome)
	}
	if outcome.Iterations != 2 || len(outcome.History) != 2 {
		t.Fatalf("expected 2 iterations, got %d history %d", outcome.Iterations, len(outcome.History))
	}
	if outcome.History[0].FailureType != FailureNoResults {
		t.Fatalf("expected no_results attribution, got %q", outcome.History[0].FailureType)
	}
	if len(runner.requests) != 2 || runner.requests[1].Goal == goal {
		t.Fatalf("expected adjusted goal on retry, got %+v", runner.requests)
	}

	var sawReflection, sawEvaluation bool
	for event := range sink.Events() {
		switch event.Type {
		case agent.EventReflection:
			sawReflection = true
		case agent.EventEvaluation:
			sawEvaluation = true
		}
	}
	if !sawReflection || !sawEvaluation {
		t.Fatalf("expected reflection and evaluation events")
	}
}

func TestLoopExhaustsAndKeepsBest(t *testing.T) {
	runner := &scriptedRunner{results: []*agent.TaskResult{emptyResult("没有结果的任务")}}
	loop := NewLoop(runner, nil, WithMaxIterations(1))

	outcome, err := loop.Execute(context.Background(), agent.TaskRequest{Goal: "没有结果的任务"}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Passed || !outcome.Exhausted {
		t.Fatalf("expected exhausted outcome, got %+v", outcome)
	}
	if outcome.Iterations != 2 || len(outcome.History) != 2 {
		t.Fatalf("expected 2 attempts, got %d history %d", outcome.Iterations, len(outcome.History))
	}
	if outcome.Message == "" || outcome.Result == nil {
		t.Fatalf("exhausted outcome must carry message and best result")
	}
}

func TestLoopAbsorbsRunnerPanic(t *testing.T) {
	runner := &scriptedRunner{panics: true}
	loop := NewLoop(runner, nil, WithMaxIterations(0))

	outcome, err := loop.Execute(context.Background(), agent.TaskRequest{Goal: "会崩溃的任务"}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Result == nil || !strings.Contains(outcome.Result.FinalAnswer, "执行异常") {
		t.Fatalf("expected folded panic result, got %+v", outcome.Result)
	}
	if outcome.Passed {
		t.Fatalf("panic attempt should not pass")
	}
}

func TestWithMaxIterationsClamp(t *testing.T) {
	loop := NewLoop(&scriptedRunner{}, nil, WithMaxIterations(99))
	if loop.maxIterations != maxIterationsCap {
		t.Fatalf("expected clamp to %d, got %d", maxIterationsCap, loop.maxIterations)
	}
	loop = NewLoop(&scriptedRunner{}, nil, WithMaxIterations(-3))
	if loop.maxIterations != 0 {
		t.Fatalf("expected clamp to 0, got %d", loop.maxIterations)
	}
}
