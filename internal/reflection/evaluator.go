package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"ResearchMind/internal/agent"
	"ResearchMind/internal/llm"
	"ResearchMind/internal/tools"
	"ResearchMind/pkg/logger"
)

// PassThreshold 是综合得分的及格线。
const PassThreshold = 0.6

// Evaluation 是对一次执行结果的四维打分。
type Evaluation struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Usefulness   float64 `json:"usefulness"`
	Clarity      float64 `json:"clarity"`
	Feedback     string  `json:"feedback"`
	Passed       bool    `json:"passed"`
}

// Overall 按固定权重合成综合得分：完整性 0.30、准确性 0.30、
// 实用性 0.25、清晰度 0.15。
func (e Evaluation) Overall() float64 {
	return 0.30*e.Completeness + 0.30*e.Accuracy + 0.25*e.Usefulness + 0.15*e.Clarity
}

// Evaluator 给执行结果打分。规则打分永远可用；配置了大模型时，
// 规则分与模型分按均值融合，反馈文本以模型为准。
type Evaluator struct {
	oracle llm.Client
}

// NewEvaluator 创建评估器。oracle 可以为 nil。
func NewEvaluator(oracle llm.Client) *Evaluator {
	if oracle == nil {
		oracle = llm.Disabled()
	}
	return &Evaluator{oracle: oracle}
}

// Evaluate 对结果做四维打分。该方法不会失败。
func (e *Evaluator) Evaluate(ctx context.Context, task string, result *agent.TaskResult) Evaluation {
	eval := e.evaluateByRules(task, result)

	if merged, err := e.evaluateWithOracle(ctx, task, result); err == nil {
		eval.Completeness = clamp01((eval.Completeness + merged.Completeness) / 2)
		eval.Accuracy = clamp01((eval.Accuracy + merged.Accuracy) / 2)
		eval.Usefulness = clamp01((eval.Usefulness + merged.Usefulness) / 2)
		eval.Clarity = clamp01((eval.Clarity + merged.Clarity) / 2)
		if strings.TrimSpace(merged.Feedback) != "" {
			eval.Feedback = merged.Feedback
		}
	} else if !errors.Is(err, llm.ErrUnavailable) {
		logger.Named("reflection").Debug("模型评估不可用，使用规则评分", "error", err)
	}

	eval.Passed = eval.Overall() >= PassThreshold
	return eval
}

func (e *Evaluator) evaluateByRules(task string, result *agent.TaskResult) Evaluation {
	if isEmptyResult(result) {
		return Evaluation{Feedback: "任务没有产生任何结果"}
	}

	answer := finalAnswer(result)
	eval := Evaluation{
		Completeness: e.scoreCompleteness(result, answer),
		Accuracy:     e.scoreAccuracy(task, result, answer),
		Usefulness:   e.scoreUsefulness(result, answer),
		Clarity:      e.scoreClarity(answer),
	}
	eval.Feedback = ruleFeedback(eval)
	return eval
}

func (e *Evaluator) scoreCompleteness(result *agent.TaskResult, answer string) float64 {
	score := 0.0
	switch result.TaskType {
	case agent.TaskLiteratureResearch:
		papers := resultPapers(result)
		if len(papers) > 0 {
			score += 0.4
			if len(papers) >= 5 {
				score += 0.3
			}
			if allPapers(papers, func(p tools.Paper) bool { return p.Title != "" }) {
				score += 0.2
			}
			if allPapers(papers, func(p tools.Paper) bool { return p.Abstract != "" }) {
				score += 0.1
			}
		}
	case agent.TaskQuestionAnswering:
		length := len([]rune(answer))
		if length > 0 {
			score += 0.3
		}
		if length >= 50 {
			score += 0.4
		}
		if length >= 200 {
			score += 0.3
		}
	case agent.TaskSchedulePlanning:
		if hasOutput(result, "schedule_info") || hasOutput(result, "reminder") {
			score += 0.5
		}
		if answer != "" {
			score += 0.3
		}
		if strings.Contains(answer, "成功") {
			score += 0.2
		}
	case agent.TaskExperimentManagement:
		if hasOutput(result, "experiments") {
			score += 0.5
		}
		if answer != "" {
			score += 0.3
		}
		if hasOutput(result, "statistics") {
			score += 0.2
		}
	default:
		if answer != "" {
			score += 0.5
		}
		if len([]rune(answer)) > 50 {
			score += 0.3
		}
		if len(result.Plan) > 0 {
			score += 0.2
		}
	}
	return clamp01(score)
}

func (e *Evaluator) scoreAccuracy(task string, result *agent.TaskResult, answer string) float64 {
	switch result.TaskType {
	case agent.TaskLiteratureResearch:
		papers := resultPapers(result)
		if len(papers) == 0 {
			return 0.5
		}
		topic := task
		if value, ok := result.ExtractedParams["topic"].(string); ok && value != "" {
			topic = value
		}
		tokens := relevanceTokens(topic)
		if len(tokens) == 0 {
			return 0.7
		}

		checked := papers
		if len(checked) > 10 {
			checked = checked[:10]
		}
		relevant := 0
		for _, paper := range checked {
			haystack := strings.ToLower(paper.Title + " " + paper.Abstract)
			for _, token := range tokens {
				if strings.Contains(haystack, token) {
					relevant++
					break
				}
			}
		}
		ratio := float64(relevant) / float64(len(checked))
		return clamp01(0.5 + ratio*0.5)
	case agent.TaskQuestionAnswering:
		for _, word := range []string{"抱歉", "无法", "错误"} {
			if strings.Contains(answer, word) {
				return 0.3
			}
		}
		if len([]rune(answer)) > 100 {
			return 0.8
		}
		return 0.6
	}
	return 0.7
}

func (e *Evaluator) scoreUsefulness(result *agent.TaskResult, answer string) float64 {
	score := 0.5
	switch result.TaskType {
	case agent.TaskLiteratureResearch:
		papers := resultPapers(result)
		if anyPaper(papers, func(p tools.Paper) bool { return p.URL != "" }) {
			score += 0.2
		}
		if anyPaper(papers, func(p tools.Paper) bool { return p.PDFURL != "" }) {
			score += 0.1
		}
		if anyPaper(papers, func(p tools.Paper) bool { return p.CitationCount > 0 }) {
			score += 0.1
		}
		if anyPaper(papers, func(p tools.Paper) bool { return p.Abstract != "" }) {
			score += 0.1
		}
	case agent.TaskQuestionAnswering:
		if strings.Contains(answer, "```") {
			score += 0.2
		}
		if strings.Count(answer, "\n") > 3 {
			score += 0.1
		}
		if strings.Contains(answer, "- ") || strings.Contains(answer, "1. ") {
			score += 0.1
		}
		if strings.Contains(answer, "例如") || strings.Contains(answer, "比如") || strings.Contains(strings.ToLower(answer), "example") {
			score += 0.1
		}
	}
	return clamp01(score)
}

func (e *Evaluator) scoreClarity(answer string) float64 {
	if strings.TrimSpace(answer) == "" {
		return 0.5
	}
	score := 0.5
	length := len([]rune(answer))
	if length > 50 {
		score += 0.1
	}
	if length > 200 {
		score += 0.1
	}
	if strings.Contains(answer, "\n\n") {
		score += 0.1
	}
	if strings.Contains(answer, "```") {
		score += 0.1
	}
	if strings.Contains(answer, "##") {
		score += 0.1
	}
	return clamp01(score)
}

func (e *Evaluator) evaluateWithOracle(ctx context.Context, task string, result *agent.TaskResult) (Evaluation, error) {
	answer := finalAnswer(result)
	prompt := "请从 completeness、accuracy、usefulness、clarity 四个维度（0 到 1 的小数）评估下面的任务结果，" +
		"输出 JSON 对象 {\"completeness\":..,\"accuracy\":..,\"usefulness\":..,\"clarity\":..,\"feedback\":\"...\"}。\n\n" +
		"任务: " + task + "\n\n结果:\n" + truncateRunes(answer, 2000)

	raw, err := e.oracle.Complete(ctx, prompt, 0.2)
	if err != nil {
		return Evaluation{}, err
	}
	payload, ok := llm.ExtractJSONObject(raw)
	if !ok {
		return Evaluation{}, errors.New("评估输出缺少 JSON 对象")
	}

	var decoded Evaluation
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return Evaluation{}, err
	}
	decoded.Completeness = clamp01(decoded.Completeness)
	decoded.Accuracy = clamp01(decoded.Accuracy)
	decoded.Usefulness = clamp01(decoded.Usefulness)
	decoded.Clarity = clamp01(decoded.Clarity)
	return decoded, nil
}

func ruleFeedback(eval Evaluation) string {
	var parts []string
	if eval.Completeness < 0.5 {
		parts = append(parts, "结果不够完整")
	} else if eval.Completeness < 0.7 {
		parts = append(parts, "结果基本完整但可以更详细")
	}
	if eval.Accuracy < 0.6 {
		parts = append(parts, "结果准确性需要提高")
	}
	if eval.Usefulness < 0.5 {
		parts = append(parts, "结果的实用性有待加强")
	}
	if eval.Clarity < 0.5 {
		parts = append(parts, "结果表达可以更清晰")
	}
	if len(parts) == 0 {
		return "结果质量良好"
	}
	return strings.Join(parts, "；")
}

func isEmptyResult(result *agent.TaskResult) bool {
	if result == nil {
		return true
	}
	return strings.TrimSpace(result.FinalAnswer) == "" && len(result.Outputs) == 0
}

func finalAnswer(result *agent.TaskResult) string {
	if result == nil {
		return ""
	}
	if result.TaskType == agent.TaskQuestionAnswering {
		if answer, ok := result.Outputs["answer"].(string); ok && answer != "" {
			return answer
		}
	}
	return result.FinalAnswer
}

func resultPapers(result *agent.TaskResult) []tools.Paper {
	if result == nil || result.Outputs == nil {
		return nil
	}
	papers, _ := result.Outputs["papers"].([]tools.Paper)
	return papers
}

func hasOutput(result *agent.TaskResult, key string) bool {
	if result == nil || result.Outputs == nil {
		return false
	}
	_, ok := result.Outputs[key]
	return ok
}

func allPapers(papers []tools.Paper, pred func(tools.Paper) bool) bool {
	if len(papers) == 0 {
		return false
	}
	for _, paper := range papers {
		if !pred(paper) {
			return false
		}
	}
	return true
}

func anyPaper(papers []tools.Paper, pred func(tools.Paper) bool) bool {
	for _, paper := range papers {
		if pred(paper) {
			return true
		}
	}
	return false
}

func relevanceTokens(topic string) []string {
	fields := strings.Fields(strings.ToLower(topic))
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len([]rune(field)) > 1 {
			tokens = append(tokens, field)
		}
	}
	return tokens
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
