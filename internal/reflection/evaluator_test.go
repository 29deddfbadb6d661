package reflection

import (
	"context"
	"math"
	"strings"
	"testing"

	"ResearchMind/internal/agent"
	"ResearchMind/internal/tools"
)

func TestOverallWeights(t *testing.T) {
	full := Evaluation{Completeness: 1, Accuracy: 1, Usefulness: 1, Clarity: 1}
	if math.Abs(full.Overall()-1.0) > 1e-9 {
		t.Fatalf("expected 1.0, got %f", full.Overall())
	}
	partial := Evaluation{Completeness: 1}
	if math.Abs(partial.Overall()-0.30) > 1e-9 {
		t.Fatalf("expected completeness weight 0.30, got %f", partial.Overall())
	}
	partial = Evaluation{Clarity: 1}
	if math.Abs(partial.Overall()-0.15) > 1e-9 {
		t.Fatalf("expected clarity weight 0.15, got %f", partial.Overall())
	}
}

func TestEvaluateEmptyResult(t *testing.T) {
	evaluator := NewEvaluator(nil)
	eval := evaluator.Evaluate(context.Background(), "任务", nil)
	if eval.Passed {
		t.Fatalf("empty result should not pass")
	}
	if eval.Feedback != "任务没有产生任何结果" {
		t.Fatalf("unexpected feedback: %q", eval.Feedback)
	}
}

func TestEvaluateQuestionAnsweringPasses(t *testing.T) {
	evaluator := NewEvaluator(nil)
	eval := evaluator.Evaluate(context.Background(), "什么是注意力机制", passingResult("什么是注意力机制"))
	if !eval.Passed {
		t.Fatalf("rich answer should pass, got score %f", eval.Overall())
	}
}

func TestEvaluateApologyScoresLow(t *testing.T) {
	evaluator := NewEvaluator(nil)
	result := &agent.TaskResult{
		TaskType:    agent.TaskQuestionAnswering,
		FinalAnswer: "抱歉，暂时无法回答该问题",
		Outputs:     map[string]any{"answer": "抱歉，暂时无法回答该问题"},
	}
	eval := evaluator.Evaluate(context.Background(), "什么是注意力机制", result)
	if eval.Accuracy > 0.3 {
		t.Fatalf("apology answer should score low accuracy, got %f", eval.Accuracy)
	}
}

func TestEvaluateLiteraturePapers(t *testing.T) {
	papers := make([]tools.Paper, 5)
	for i := range papers {
		papers[i] = tools.Paper{
			Title:         "attention survey",
			Abstract:      "a survey of attention mechanisms",
			URL:           "https://example.org/p",
			CitationCount: 10,
		}
	}
	result := &agent.TaskResult{
		TaskType:        agent.TaskLiteratureResearch,
		FinalAnswer:     "## 调研报告\n\n找到 5 篇论文",
		ExtractedParams: map[string]any{"topic": "attention survey"},
		Outputs:         map[string]any{"papers": papers},
	}

	evaluator := NewEvaluator(nil)
	eval := evaluator.Evaluate(context.Background(), "attention survey", result)
	if !eval.Passed {
		t.Fatalf("relevant paper set should pass, got %f", eval.Overall())
	}
	if eval.Accuracy < 0.9 {
		t.Fatalf("all papers match topic, accuracy should be high, got %f", eval.Accuracy)
	}
}

func TestEvaluateMergesOracleScores(t *testing.T) {
	oracle := &stubOracle{responses: []string{
		`{"completeness":0.9,"accuracy":0.9,"usefulness":0.9,"clarity":0.9,"feedback":"模型认为结果完整"}`,
	}}
	evaluator := NewEvaluator(oracle)

	eval := evaluator.Evaluate(context.Background(), "什么是注意力机制", passingResult("什么是注意力机制"))
	if !eval.Passed {
		t.Fatalf("merged evaluation should pass, got %f", eval.Overall())
	}
	if eval.Feedback != "模型认为结果完整" {
		t.Fatalf("model feedback should win, got %q", eval.Feedback)
	}
}

func TestRuleFeedbackAggregates(t *testing.T) {
	feedback := ruleFeedback(Evaluation{Completeness: 0.3, Accuracy: 0.5, Usefulness: 0.4, Clarity: 0.4})
	for _, want := range []string{"结果不够完整", "准确性", "实用性", "清晰"} {
		if !strings.Contains(feedback, want) {
			t.Fatalf("feedback %q missing %q", feedback, want)
		}
	}
	if got := ruleFeedback(Evaluation{Completeness: 1, Accuracy: 1, Usefulness: 1, Clarity: 1}); got != "结果质量良好" {
		t.Fatalf("unexpected feedback for good result: %q", got)
	}
}
