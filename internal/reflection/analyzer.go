package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"ResearchMind/internal/agent"
	"ResearchMind/internal/llm"
	"ResearchMind/pkg/logger"
)

// 失败类别。分类顺序即优先级。
const (
	FailureNoResults         = "no_results"
	FailureIncompleteResults = "incomplete_results"
	FailureIrrelevantResults = "irrelevant_results"
	FailureAPIError          = "api_error"
	FailureInvalidParams     = "invalid_params"
	FailureTimeout           = "timeout"
	FailureUnknown           = "unknown"
)

// Reflection 是失败分析的结构化结论。
type Reflection struct {
	FailureType    string         `json:"failure_type"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	Suggestions    []string       `json:"suggestions,omitempty"`
	ShouldRetry    bool           `json:"should_retry"`
	ShouldReplan   bool           `json:"should_replan"`
	AdjustedParams map[string]any `json:"adjusted_params,omitempty"`
	Confidence     float64        `json:"confidence"`
}

var suggestionTable = map[string][]string{
	FailureNoResults: {
		"尝试使用不同的搜索关键词",
		"扩大搜索范围",
		"检查是否有拼写错误",
	},
	FailureIncompleteResults: {
		"增加搜索结果数量",
		"补充更多细节信息",
		"尝试更具体的查询",
	},
	FailureIrrelevantResults: {
		"优化搜索关键词",
		"添加更多限定条件",
		"尝试使用英文关键词",
	},
	FailureAPIError: {
		"稍后重试",
		"使用备用数据源",
		"简化请求参数",
	},
}

var (
	retryableFailures = map[string]struct{}{
		FailureAPIError: {}, FailureTimeout: {}, FailureNoResults: {},
	}
	replanFailures = map[string]struct{}{
		FailureIrrelevantResults: {}, FailureInvalidParams: {},
	}
)

// Analyzer 对未通过评估的结果做失败归因，并给出参数调整建议。
type Analyzer struct {
	oracle llm.Client
}

// NewAnalyzer 创建分析器。oracle 可以为 nil。
func NewAnalyzer(oracle llm.Client) *Analyzer {
	if oracle == nil {
		oracle = llm.Disabled()
	}
	return &Analyzer{oracle: oracle}
}

// Analyze 产出失败归因。结果已通过评估时返回 nil。
func (a *Analyzer) Analyze(ctx context.Context, task string, result *agent.TaskResult, eval Evaluation) *Reflection {
	if eval.Passed {
		return nil
	}

	reflection := a.analyzeByRules(result, eval)
	if refined, err := a.analyzeWithOracle(ctx, task, result, eval); err == nil {
		reflection = refined
	} else if !errors.Is(err, llm.ErrUnavailable) {
		logger.Named("reflection").Debug("模型归因不可用，使用规则归因", "error", err)
	}

	if reflection.Confidence == 0 {
		reflection.Confidence = 0.5
	}
	return reflection
}

func (a *Analyzer) analyzeByRules(result *agent.TaskResult, eval Evaluation) *Reflection {
	failureType := classifyFailure(result, eval)

	suggestions := suggestionTable[failureType]
	if len(suggestions) == 0 {
		suggestions = []string{"重新执行任务"}
	}

	_, retry := retryableFailures[failureType]
	_, replan := replanFailures[failureType]

	return &Reflection{
		FailureType:    failureType,
		FailureReason:  eval.Feedback,
		Suggestions:    suggestions,
		ShouldRetry:    retry,
		ShouldReplan:   replan,
		AdjustedParams: adjustedParams(result),
		Confidence:     0.5,
	}
}

func classifyFailure(result *agent.TaskResult, eval Evaluation) string {
	if isEmptyResult(result) {
		return FailureNoResults
	}
	if eval.Completeness < 0.4 {
		return FailureIncompleteResults
	}
	if eval.Accuracy < 0.4 {
		return FailureIrrelevantResults
	}

	answer := finalAnswer(result)
	lowered := strings.ToLower(answer)
	for _, word := range []string{"错误", "失败", "异常", "error", "failed"} {
		if strings.Contains(lowered, word) {
			return FailureAPIError
		}
	}
	if eval.Completeness < 0.6 || eval.Accuracy < 0.6 {
		return FailureIncompleteResults
	}
	return FailureUnknown
}

// adjustedParams 按任务类型给出可直接合并进任务上下文的参数调整。
func adjustedParams(result *agent.TaskResult) map[string]any {
	if result == nil {
		return nil
	}
	switch result.TaskType {
	case agent.TaskLiteratureResearch:
		params := map[string]any{"max_papers": 50, "years": 3}
		if len(resultPapers(result)) < 5 {
			params["max_papers"] = 100
		}
		return params
	case agent.TaskQuestionAnswering:
		return map[string]any{"detail_level": "high"}
	}
	return nil
}

func (a *Analyzer) analyzeWithOracle(ctx context.Context, task string, result *agent.TaskResult, eval Evaluation) (*Reflection, error) {
	prompt := "任务执行结果未通过质量评估，请分析失败原因。输出 JSON 对象，字段：" +
		"failure_type（no_results/incomplete_results/irrelevant_results/api_error/invalid_params/timeout/unknown）、" +
		"failure_reason、suggestions（字符串数组）、should_retry、should_replan、adjusted_params、confidence。\n\n" +
		"任务: " + task + "\n评估反馈: " + eval.Feedback + "\n结果:\n" + truncateRunes(finalAnswer(result), 1500)

	raw, err := a.oracle.Complete(ctx, prompt, 0.3)
	if err != nil {
		return nil, err
	}
	payload, ok := llm.ExtractJSONObject(raw)
	if !ok {
		return nil, errors.New("归因输出缺少 JSON 对象")
	}

	var decoded Reflection
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, err
	}
	if decoded.FailureType == "" {
		decoded.FailureType = FailureUnknown
	}
	if len(decoded.Suggestions) == 0 {
		decoded.Suggestions = suggestionTable[decoded.FailureType]
	}
	if decoded.AdjustedParams == nil {
		decoded.AdjustedParams = adjustedParams(result)
	}
	return &decoded, nil
}
