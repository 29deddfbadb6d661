package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	"ResearchMind/internal/llm"
	"ResearchMind/internal/tools"
)

// scriptedOracle 按顺序返回预置的补全结果，耗尽后表现为未配置后端。
type scriptedOracle struct {
	mu        sync.Mutex
	responses []string
	chunks    []string
	prompts   []string
}

func (s *scriptedOracle) Complete(_ context.Context, prompt string, _ float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.responses) == 0 {
		return "", llm.ErrUnavailable
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedOracle) CompleteStream(_ context.Context, prompt string, _ float64) (<-chan string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.chunks) == 0 {
		return nil, llm.ErrUnavailable
	}
	ch := make(chan string, len(s.chunks))
	for _, chunk := range s.chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func TestExecuteRejectsEmptyGoal(t *testing.T) {
	ag := New(llm.Disabled(), nil)
	if _, err := ag.Execute(context.Background(), TaskRequest{Goal: "   "}, nil); err == nil {
		t.Fatalf("expected validation error for empty goal")
	}
}

func TestExecuteQuestionAnsweringStreams(t *testing.T) {
	oracle := &scriptedOracle{
		responses: []string{`{"task_type":"question_answering","intent_summary":"回答问题","reasoning":"模型判定"}`},
		chunks:    []string{"Transformer 是一种", "基于注意力的架构"},
	}
	ag := New(oracle, nil)
	sink := NewChannelSink(32)

	result, err := ag.Execute(context.Background(), TaskRequest{ID: "t1", Goal: "什么是 Transformer"}, sink)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	sink.Close()

	if result.TaskType != TaskQuestionAnswering {
		t.Fatalf("expected question_answering, got %s", result.TaskType)
	}
	if result.FinalAnswer != "Transformer 是一种基于注意力的架构" {
		t.Fatalf("unexpected answer: %q", result.FinalAnswer)
	}
	if len(result.Plan) != 1 || result.Plan[0].Status != StepCompleted {
		t.Fatalf("expected single completed step, got %+v", result.Plan)
	}

	streamed := 0
	for event := range sink.Events() {
		if event.Type == EventStream {
			streamed++
		}
		if event.TaskID != "t1" {
			t.Fatalf("event missing task id: %+v", event)
		}
	}
	if streamed != 2 {
		t.Fatalf("expected 2 stream events, got %d", streamed)
	}
}

func TestExecuteLiteratureFallbackPlan(t *testing.T) {
	registry := tools.NewRegistry()
	registry.RegisterAsync("search_papers", func(_ context.Context, args map[string]any) (*tools.Result, error) {
		return &tools.Result{
			Success: true,
			Data: map[string]any{"papers": []tools.Paper{
				{Title: "Scaling Laws Revisited", Year: 2024, CitationCount: 120},
			}},
		}, nil
	})

	ag := New(llm.Disabled(), registry)
	result, err := ag.Execute(context.Background(), TaskRequest{Goal: "搜索近3年大模型论文 top5"}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if result.TaskType != TaskLiteratureResearch {
		t.Fatalf("expected literature_research, got %s", result.TaskType)
	}
	if result.FailedSteps != 0 {
		t.Fatalf("expected no failed steps, got %d", result.FailedSteps)
	}
	if len(result.Plan) != 3 {
		t.Fatalf("expected 3 template steps, got %d", len(result.Plan))
	}
	for _, step := range result.Plan {
		if step.Status != StepCompleted {
			t.Fatalf("step %s not completed: %s", step.ID, step.Status)
		}
	}
	if years, ok := result.ExtractedParams["years"].(int); !ok || years != 3 {
		t.Fatalf("expected years=3, got %v", result.ExtractedParams["years"])
	}
	if count, ok := result.ExtractedParams["max_papers"].(int); !ok || count != 5 {
		t.Fatalf("expected max_papers=5, got %v", result.ExtractedParams["max_papers"])
	}
	if !strings.Contains(result.FinalAnswer, "找到 1 篇") {
		t.Fatalf("expected search summary in answer: %q", result.FinalAnswer)
	}
	if _, ok := result.Outputs["papers"]; !ok {
		t.Fatalf("expected papers in outputs: %v", result.Outputs)
	}
}

func TestExecuteGeneralDeterministic(t *testing.T) {
	ag := New(llm.Disabled(), nil)
	result, err := ag.Execute(context.Background(), TaskRequest{Goal: "翻译这段文字"}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.TaskType != TaskGeneral {
		t.Fatalf("expected general, got %s", result.TaskType)
	}
	if len(result.Plan) != 1 || result.Plan[0].ID != "execute" {
		t.Fatalf("expected single execute step, got %+v", result.Plan)
	}
	if !strings.Contains(result.FinalAnswer, "已按要求执行完成") {
		t.Fatalf("unexpected answer: %q", result.FinalAnswer)
	}
}

func TestExecuteScheduleStepFailure(t *testing.T) {
	ag := New(llm.Disabled(), tools.NewRegistry())
	result, err := ag.Execute(context.Background(), TaskRequest{Goal: "安排下周会议并设置提醒"}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.TaskType != TaskSchedulePlanning {
		t.Fatalf("expected schedule_planning, got %s", result.TaskType)
	}
	if result.FailedSteps != 1 {
		t.Fatalf("expected 1 failed step, got %d", result.FailedSteps)
	}
	last := result.Plan[len(result.Plan)-1]
	if last.ID != "remind" || last.Status != StepFailed {
		t.Fatalf("expected remind step failed, got %+v", last)
	}
	if last.Output == nil || last.Output.Err == "" {
		t.Fatalf("expected error output on failed step")
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(1)
	for i := 0; i < 3; i++ {
		if !sink.Emit(Event{Type: EventProgress}) {
			t.Fatalf("emit %d should succeed before close", i)
		}
	}
	if sink.Dropped() != 2 {
		t.Fatalf("expected 2 dropped events, got %d", sink.Dropped())
	}
	sink.Close()
	if sink.Emit(Event{Type: EventProgress}) {
		t.Fatalf("emit after close should return false")
	}
}

func TestExecuteLiteratureTargetsConversationPaper(t *testing.T) {
	ag := New(llm.Disabled(), tools.NewRegistry())
	result, err := ag.Execute(context.Background(), TaskRequest{
		ID:   "t-paper",
		Goal: "分析第二篇论文的研究方法",
		Context: map[string]any{
			"currentPapers": []any{
				map[string]any{"title": "Paper A", "year": float64(2022)},
				map[string]any{
					"title":          "Paper B",
					"year":           float64(2023),
					"citation_count": float64(42),
					"abstract":       "一种新的检索增强方法",
				},
			},
			"paper_index": float64(2),
		},
	}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if result.TaskType != TaskLiteratureResearch {
		t.Fatalf("expected literature_research, got %s", result.TaskType)
	}
	// 检索步骤复用会话里的论文列表，未注册 search_papers 也不会失败。
	if result.FailedSteps != 0 {
		t.Fatalf("expected no failed steps, got %d: %q", result.FailedSteps, result.FinalAnswer)
	}
	if !strings.Contains(result.FinalAnswer, "已找到 2 篇论文") {
		t.Fatalf("expected reused paper list in answer: %q", result.FinalAnswer)
	}

	var analyzeStep *PlanStep
	for i := range result.Plan {
		if result.Plan[i].ID == "analyze" {
			analyzeStep = &result.Plan[i]
		}
	}
	if analyzeStep == nil || analyzeStep.Output == nil {
		t.Fatalf("expected analyze step with output, got %+v", result.Plan)
	}
	if !strings.Contains(analyzeStep.Output.Summary, "完成论文分析：Paper B") {
		t.Fatalf("expected targeted paper analysis, got %q", analyzeStep.Output.Summary)
	}
	target, ok := analyzeStep.Output.Data["paper"].(tools.Paper)
	if !ok || target.Title != "Paper B" {
		t.Fatalf("expected Paper B as target, got %+v", analyzeStep.Output.Data["paper"])
	}
}

func TestExecuteLiteratureMidStepFailureContinues(t *testing.T) {
	ag := New(llm.Disabled(), tools.NewRegistry())
	result, err := ag.Execute(context.Background(), TaskRequest{Goal: "检索扩散模型相关论文"}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if result.TaskType != TaskLiteratureResearch {
		t.Fatalf("expected literature_research, got %s", result.TaskType)
	}
	if result.FailedSteps != 1 {
		t.Fatalf("expected 1 failed step, got %d", result.FailedSteps)
	}
	if len(result.Plan) != 3 {
		t.Fatalf("expected 3 template steps, got %d", len(result.Plan))
	}
	// 首步检索失败后，后续步骤仍然执行并进入汇总。
	if result.Plan[0].ID != "search" || result.Plan[0].Status != StepFailed {
		t.Fatalf("expected search step failed, got %+v", result.Plan[0])
	}
	for _, step := range result.Plan[1:] {
		if step.Status != StepCompleted {
			t.Fatalf("step %s should complete after earlier failure, got %s", step.ID, step.Status)
		}
	}
	if !strings.Contains(result.FinalAnswer, "执行失败") {
		t.Fatalf("expected failure note in answer: %q", result.FinalAnswer)
	}
	if !strings.Contains(result.FinalAnswer, "调研报告") {
		t.Fatalf("expected report from later steps in answer: %q", result.FinalAnswer)
	}
}
