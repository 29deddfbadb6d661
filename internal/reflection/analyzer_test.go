package reflection

import (
	"context"
	"strings"
	"testing"

	"ResearchMind/internal/agent"
	"ResearchMind/internal/tools"
)

func TestAnalyzeReturnsNilWhenPassed(t *testing.T) {
	analyzer := NewAnalyzer(nil)
	if got := analyzer.Analyze(context.Background(), "任务", nil, Evaluation{Passed: true}); got != nil {
		t.Fatalf("passed evaluation should not be analyzed, got %+v", got)
	}
}

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		name   string
		result *agent.TaskResult
		eval   Evaluation
		want   string
	}{
		{
			name: "empty result",
			want: FailureNoResults,
		},
		{
			name:   "low completeness",
			result: &agent.TaskResult{FinalAnswer: "简短"},
			eval:   Evaluation{Completeness: 0.2, Accuracy: 0.8},
			want:   FailureIncompleteResults,
		},
		{
			name:   "low accuracy",
			result: &agent.TaskResult{FinalAnswer: "答非所问的内容"},
			eval:   Evaluation{Completeness: 0.8, Accuracy: 0.2},
			want:   FailureIrrelevantResults,
		},
		{
			name:   "error in answer",
			result: &agent.TaskResult{FinalAnswer: "工具执行错误: 连接超时"},
			eval:   Evaluation{Completeness: 0.7, Accuracy: 0.7},
			want:   FailureAPIError,
		},
	}
	for _, tc := range cases {
		if got := classifyFailure(tc.result, tc.eval); got != tc.want {
			t.Fatalf("%s: classifyFailure = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestAnalyzeByRulesMarksRetryable(t *testing.T) {
	analyzer := NewAnalyzer(nil)
	reflection := analyzer.Analyze(context.Background(), "查询数据", nil, Evaluation{Feedback: "任务没有产生任何结果"})
	if reflection == nil {
		t.Fatalf("expected reflection for failed evaluation")
	}
	if reflection.FailureType != FailureNoResults || !reflection.ShouldRetry || reflection.ShouldReplan {
		t.Fatalf("unexpected attribution: %+v", reflection)
	}
	if len(reflection.Suggestions) == 0 {
		t.Fatalf("expected suggestions for no_results")
	}
	if reflection.Confidence != 0.5 {
		t.Fatalf("expected default confidence 0.5, got %f", reflection.Confidence)
	}
}

func TestAdjustedParamsLiterature(t *testing.T) {
	result := &agent.TaskResult{
		TaskType: agent.TaskLiteratureResearch,
		Outputs:  map[string]any{"papers": []tools.Paper{{Title: "only one"}}},
	}
	params := adjustedParams(result)
	if params["max_papers"] != 100 {
		t.Fatalf("sparse paper set should widen search, got %v", params)
	}

	result.TaskType = agent.TaskQuestionAnswering
	params = adjustedParams(result)
	if params["detail_level"] != "high" {
		t.Fatalf("qa failure should request more detail, got %v", params)
	}
}

func TestAnalyzeParsesOracleAttribution(t *testing.T) {
	oracle := &stubOracle{responses: []string{
		`{"failure_type":"irrelevant_results","failure_reason":"内容偏题","should_replan":true,"confidence":0.8}`,
	}}
	analyzer := NewAnalyzer(oracle)

	reflection := analyzer.Analyze(context.Background(), "调研扩散模型",
		&agent.TaskResult{FinalAnswer: "一些无关内容"}, Evaluation{Feedback: "结果准确性需要提高"})
	if reflection == nil || reflection.FailureType != FailureIrrelevantResults {
		t.Fatalf("expected oracle attribution, got %+v", reflection)
	}
	if !reflection.ShouldReplan || reflection.Confidence != 0.8 {
		t.Fatalf("unexpected attribution fields: %+v", reflection)
	}
	if len(reflection.Suggestions) == 0 {
		t.Fatalf("suggestions should fall back to the rule table")
	}
}

func TestAdjustTask(t *testing.T) {
	adjuster := NewAdjuster()

	if got := adjuster.AdjustTask("原任务", nil); got != "原任务" {
		t.Fatalf("nil reflection should keep task, got %q", got)
	}

	replan := &Reflection{ShouldReplan: true, Suggestions: []string{"优化关键词", "增加限定条件", "多余建议"}}
	got := adjuster.AdjustTask("检索论文", replan)
	if !strings.Contains(got, "优化关键词") || !strings.Contains(got, "增加限定条件") || strings.Contains(got, "多余建议") {
		t.Fatalf("replan should embed first two suggestions, got %q", got)
	}

	widen := &Reflection{AdjustedParams: map[string]any{"max_papers": 100}}
	if got := adjuster.AdjustTask("检索论文", widen); !strings.Contains(got, "至少100篇") {
		t.Fatalf("expected widened search hint, got %q", got)
	}

	detail := &Reflection{AdjustedParams: map[string]any{"detail_level": "high"}}
	if got := adjuster.AdjustTask("什么是注意力", detail); !strings.HasPrefix(got, "请详细回答：") {
		t.Fatalf("expected detail prefix, got %q", got)
	}

	incomplete := &Reflection{FailureType: FailureIncompleteResults}
	if got := adjuster.AdjustTask("总结文献", incomplete); !strings.Contains(got, "更详细完整") {
		t.Fatalf("expected completeness hint, got %q", got)
	}
}
