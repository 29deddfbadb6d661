package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"ResearchMind/internal/llm"
	"ResearchMind/pkg/logger"
)

// Classifier 负责意图识别。优先调用大模型做结构化分析，
// 模型不可用或输出无法解析时退回关键词规则，保证永不失败。
type Classifier struct {
	oracle llm.Client
	hints  HintProvider
}

// HintProvider 为分类提示词补充领域背景。
type HintProvider interface {
	Hints(ctx context.Context, task string, limit int) []string
}

// NewClassifier 创建分类器。hints 可以为 nil。
func NewClassifier(oracle llm.Client, hints HintProvider) *Classifier {
	if oracle == nil {
		oracle = llm.Disabled()
	}
	return &Classifier{oracle: oracle, hints: hints}
}

// Analyze 对任务做意图识别，返回的 Analysis 永远可用。
func (c *Classifier) Analyze(ctx context.Context, task string, conversation map[string]any) Analysis {
	analysis, err := c.analyzeWithOracle(ctx, task, conversation)
	if err == nil {
		return analysis
	}
	if !errors.Is(err, llm.ErrUnavailable) {
		logger.Named("agent").Warn("意图识别降级为规则模式", "error", err)
	}
	return FallbackAnalysis(task)
}

func (c *Classifier) analyzeWithOracle(ctx context.Context, task string, conversation map[string]any) (Analysis, error) {
	prompt := c.buildPrompt(ctx, task, conversation)
	raw, err := c.oracle.Complete(ctx, prompt, 0.3)
	if err != nil {
		return Analysis{}, err
	}

	payload, ok := llm.ExtractJSONObject(raw)
	if !ok {
		return Analysis{}, fmt.Errorf("意图识别输出缺少 JSON 对象")
	}

	var decoded struct {
		TaskType        string         `json:"task_type"`
		IntentSummary   string         `json:"intent_summary"`
		ExtractedParams map[string]any `json:"extracted_params"`
		Plan            []PlanStep     `json:"plan"`
		Reasoning       string         `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return Analysis{}, fmt.Errorf("解析意图识别输出失败: %w", err)
	}

	analysis := Analysis{
		TaskType:        ParseTaskType(decoded.TaskType),
		IntentSummary:   decoded.IntentSummary,
		ExtractedParams: decoded.ExtractedParams,
		Plan:            decoded.Plan,
		Reasoning:       decoded.Reasoning,
	}
	if analysis.ExtractedParams == nil {
		analysis.ExtractedParams = map[string]any{}
	}
	return analysis, nil
}

func (c *Classifier) buildPrompt(ctx context.Context, task string, conversation map[string]any) string {
	var builder strings.Builder
	builder.WriteString("分析下面的研究助理任务，输出 JSON 对象，字段为 ")
	builder.WriteString(`task_type（literature_research/schedule_planning/experiment_management/question_answering/general）、`)
	builder.WriteString("intent_summary、extracted_params、plan（3-6 个步骤，每步含 step_id/name/description/output_type）、reasoning。\n")
	builder.WriteString("extracted_params 可包含 topic/years/max_papers/sort_by；用户提到「第N篇」之类的指代时，结合论文列表给出 paper_index（从 1 开始）。\n\n")
	builder.WriteString("任务: " + task + "\n")
	builder.WriteString(formatConversation(conversation))
	if c.hints != nil {
		for _, hint := range c.hints.Hints(ctx, task, 3) {
			builder.WriteString("背景: " + hint + "\n")
		}
	}
	return builder.String()
}

// formatConversation 把会话上下文折叠为可读段落：最近的对话、当前论文列表
// 与选中论文分别成段，其余键保持 JSON 编码，避免整包原样倾倒进提示词。
func formatConversation(conversation map[string]any) string {
	if len(conversation) == 0 {
		return ""
	}
	var builder strings.Builder

	if messages, ok := conversation["messages"].([]any); ok && len(messages) > 0 {
		if len(messages) > 6 {
			messages = messages[len(messages)-6:]
		}
		builder.WriteString("【对话历史】\n")
		for _, item := range messages {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			role := "助手"
			if value, _ := entry["role"].(string); value == "user" {
				role = "用户"
			}
			content, _ := entry["content"].(string)
			builder.WriteString(role + ": " + truncateRunes(content, 200) + "\n")
		}
	}

	papers, _ := conversation["currentPapers"].([]any)
	if len(papers) > 0 {
		builder.WriteString("【当前论文列表】\n")
		for i, item := range papers {
			if i >= 10 {
				break
			}
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			title, _ := entry["title"].(string)
			if title == "" {
				title = "未知标题"
			}
			builder.WriteString(fmt.Sprintf("  [%d] %s\n", i+1, truncateRunes(title, 80)))
		}
	}

	if index, ok := numberValue(conversation["selectedPaperIndex"]); ok && index >= 0 && index < len(papers) {
		if entry, ok := papers[index].(map[string]any); ok {
			builder.WriteString("【当前选中论文】\n")
			title, _ := entry["title"].(string)
			builder.WriteString("  标题: " + title + "\n")
			if authors, ok := entry["authors"].([]any); ok && len(authors) > 0 {
				if len(authors) > 3 {
					authors = authors[:3]
				}
				names := make([]string, 0, len(authors))
				for _, author := range authors {
					if name, ok := author.(string); ok {
						names = append(names, name)
					}
				}
				builder.WriteString("  作者: " + strings.Join(names, ", ") + "\n")
			}
			if year, ok := numberValue(entry["year"]); ok {
				builder.WriteString(fmt.Sprintf("  年份: %d\n", year))
			}
		}
	}

	rest := make(map[string]any)
	for key, value := range conversation {
		switch key {
		case "messages", "currentPapers", "selectedPaperIndex":
			continue
		}
		rest[key] = value
	}
	if len(rest) > 0 {
		if encoded, err := json.Marshal(rest); err == nil {
			builder.WriteString("其他上下文: " + string(encoded) + "\n")
		}
	}
	return builder.String()
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func numberValue(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// 规则分类的关键词表。顺序即优先级，先命中先生效。
var ruleKeywords = []struct {
	taskType TaskType
	words    []string
}{
	{TaskLiteratureResearch, []string{"论文", "文献", "搜索", "研究", "学术", "paper", "arxiv", "publication", "调研", "查找"}},
	{TaskSchedulePlanning, []string{"日程", "会议", "安排", "计划", "周", "明天", "下周", "schedule", "meeting", "plan", "提醒"}},
	{TaskExperimentManagement, []string{"实验", "数据", "csv", "统计", "分析", "整理", "experiment", "data", "analysis"}},
	{TaskQuestionAnswering, []string{"解释", "什么是", "原理", "如何", "为什么", "explain", "what", "how", "why", "介绍"}},
}

// ClassifyByRules 用关键词顺序匹配判定任务类型。
func ClassifyByRules(task string) TaskType {
	lowered := strings.ToLower(task)
	for _, rule := range ruleKeywords {
		for _, word := range rule.words {
			if strings.Contains(lowered, word) {
				return rule.taskType
			}
		}
	}
	return TaskGeneral
}

var literatureParamWords = []string{"论文", "文献", "搜索", "研究", "paper", "arxiv"}

// FallbackAnalysis 在没有大模型时产出确定性的分析结果。
func FallbackAnalysis(task string) Analysis {
	taskType := ClassifyByRules(task)

	lowered := strings.ToLower(task)
	for _, word := range literatureParamWords {
		if strings.Contains(lowered, word) {
			return Analysis{
				TaskType:        TaskLiteratureResearch,
				IntentSummary:   "文献调研任务",
				ExtractedParams: ExtractResearchParams(task),
				Reasoning:       "关键词规则判定",
			}
		}
	}

	if taskType == TaskGeneral {
		return Analysis{
			TaskType:        TaskGeneral,
			IntentSummary:   "通用任务",
			ExtractedParams: map[string]any{},
			Plan: []PlanStep{
				{ID: "execute", Name: "执行任务", Description: "直接执行用户任务", OutputType: "result", Status: StepPending},
			},
			Reasoning: "未命中任何领域关键词",
		}
	}

	return Analysis{
		TaskType:        taskType,
		IntentSummary:   "规则判定任务",
		ExtractedParams: map[string]any{},
		Reasoning:       "关键词规则判定",
	}
}

var (
	yearPatterns = []*regexp.Regexp{
		regexp.MustCompile(`近(\d+)年`),
		regexp.MustCompile(`最近(\d+)年`),
		regexp.MustCompile(`过去(\d+)年`),
		regexp.MustCompile(`(?i)last\s+(\d+)\s+years?`),
		regexp.MustCompile(`(\d+)\s*年[以之]?内?`),
	}
	countPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)\s*篇`),
		regexp.MustCompile(`(?i)top\s*(\d+)`),
		regexp.MustCompile(`(?i)(\d+)\s*papers?`),
	}
	citationWords = []string{"影响力", "引用", "citation", "influential", "高引", "热门"}
	tokenPattern  = regexp.MustCompile(`[\x{4e00}-\x{9fa5}]+|[a-zA-Z]+`)
	topicStop     = map[string]struct{}{
		"搜索": {}, "查找": {}, "寻找": {}, "相关": {}, "论文": {}, "文献": {},
		"研究": {}, "关于": {}, "请问": {}, "帮我": {}, "帮忙": {}, "想找": {},
		"想要": {}, "需要": {}, "最具": {}, "有影响力": {}, "影响力": {}, "最近": {},
		"近": {}, "过去": {}, "年": {}, "篇": {},
		"top": {}, "the": {}, "most": {}, "influential": {},
	}
)

// ExtractResearchParams 从文献调研任务文本中提取检索参数。
func ExtractResearchParams(task string) map[string]any {
	params := map[string]any{
		"topic":      task,
		"years":      2,
		"max_papers": 30,
		"sort_by":    "relevance",
	}

	for _, pattern := range yearPatterns {
		if m := pattern.FindStringSubmatch(task); len(m) > 1 {
			if years, err := strconv.Atoi(m[1]); err == nil {
				params["years"] = years
			}
			break
		}
	}
	for _, pattern := range countPatterns {
		if m := pattern.FindStringSubmatch(task); len(m) > 1 {
			if count, err := strconv.Atoi(m[1]); err == nil {
				params["max_papers"] = count
			}
			break
		}
	}

	lowered := strings.ToLower(task)
	for _, word := range citationWords {
		if strings.Contains(lowered, word) {
			params["sort_by"] = "citation"
			break
		}
	}

	if topic := extractTopic(task); topic != "" {
		params["topic"] = topic
	}
	return params
}

func extractTopic(task string) string {
	tokens := tokenPattern.FindAllString(task, -1)
	kept := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, stop := topicStop[strings.ToLower(token)]; stop {
			continue
		}
		if len([]rune(token)) <= 1 {
			continue
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, " ")
}
