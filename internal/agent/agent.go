package agent

import (
	"context"
	"strings"
	"time"

	xerrors "ResearchMind/internal/errors"
	"ResearchMind/internal/llm"
	"ResearchMind/internal/tools"
	"ResearchMind/pkg/logger"
)

// Agent 是系统的业务核心：对任务做意图识别、规划并逐步执行，
// 最终产出结构完整的 TaskResult。
type Agent struct {
	oracle        llm.Client
	registry      *tools.Registry
	classifier    *Classifier
	planner       *Planner
	executor      *Executor
	hints         HintProvider
	templates     PlanTemplates
	oracleTimeout time.Duration
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithHintProvider 配置领域背景知识，用于在意图识别前补充上下文。
func WithHintProvider(provider HintProvider) Option {
	return func(a *Agent) {
		a.hints = provider
	}
}

// WithPlanTemplates 覆盖内置计划模板。
func WithPlanTemplates(templates PlanTemplates) Option {
	return func(a *Agent) {
		if templates != nil {
			a.templates = templates
		}
	}
}

// WithOracleTimeout 设置单次大模型调用的超时时间。
func WithOracleTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.oracleTimeout = 0
			return
		}
		a.oracleTimeout = timeout
	}
}

// New 创建一个 Agent。oracle 为 nil 时整条链路走规则降级路径。
func New(oracle llm.Client, registry *tools.Registry, opts ...Option) *Agent {
	if oracle == nil {
		oracle = llm.Disabled()
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}

	ag := &Agent{
		oracle:   oracle,
		registry: registry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}

	ag.classifier = NewClassifier(oracle, ag.hints)
	ag.planner = NewPlanner(oracle, ag.templates)
	ag.executor = NewExecutor(oracle, registry)
	return ag
}

// Execute 执行一次任务。除参数校验外不返回错误：执行期的一切失败
// 都会折叠进 TaskResult，保证调用方永远拿到完整的结果信封。
func (a *Agent) Execute(ctx context.Context, req TaskRequest, sink ObserverSink) (*TaskResult, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务目标不能为空")
	}

	em := newEmitter(sink, req.ID)
	startedAt := time.Now().Unix()

	em.emit(EventProgress, "", "开始分析任务", nil)
	clsCtx, cancel := a.oracleCtx(ctx)
	analysis := a.classifier.Analyze(clsCtx, req.Goal, req.Context)
	cancel()
	em.emit(EventThought, "", analysis.IntentSummary, map[string]any{
		"task_type": string(analysis.TaskType),
		"reasoning": analysis.Reasoning,
	})

	params := mergeParams(analysis.ExtractedParams, req.Context)

	result := &TaskResult{
		Goal:            req.Goal,
		TaskType:        analysis.TaskType,
		IntentSummary:   analysis.IntentSummary,
		ExtractedParams: params,
		StartedAt:       startedAt,
	}

	if analysis.TaskType == TaskQuestionAnswering {
		a.answerDirect(ctx, req, em, result)
	} else {
		a.runPlan(ctx, req, analysis, params, em, result)
	}

	result.CompletedAt = time.Now().Unix()
	logger.Audit().Info("任务执行完成",
		"task_id", req.ID,
		"task_type", string(result.TaskType),
		"failed_steps", result.FailedSteps,
	)
	return result, nil
}

// answerDirect 是问答类任务的快捷路径：跳过规划，直接流式生成回答。
func (a *Agent) answerDirect(ctx context.Context, req TaskRequest, em *emitter, result *TaskResult) {
	step := PlanStep{
		ID:          "answer",
		Name:        "生成回答",
		Description: "直接回答用户问题",
		OutputType:  "answer",
		Status:      StepCompleted,
		StartedAt:   time.Now().Unix(),
	}

	answer := a.streamAnswer(ctx, req.Goal, em)
	step.FinishedAt = time.Now().Unix()
	step.Output = &StepOutput{
		OutputType: "answer",
		Summary:    "回答已生成",
		Data:       map[string]any{"answer": answer},
	}

	result.Plan = []PlanStep{step}
	result.FinalAnswer = answer
	result.Outputs = map[string]any{"answer": answer}
}

func (a *Agent) streamAnswer(ctx context.Context, question string, em *emitter) string {
	oracleCtx, cancel := a.oracleCtx(ctx)
	defer cancel()
	stream, err := a.oracle.CompleteStream(oracleCtx, "请详细回答下面的问题，可以使用 Markdown：\n\n"+question, 0.7)
	if err != nil {
		return "抱歉，暂时无法回答该问题（未配置大模型后端）"
	}

	var builder strings.Builder
	for chunk := range stream {
		builder.WriteString(chunk)
		em.emit(EventStream, "answer", chunk, nil)
	}
	answer := strings.TrimSpace(builder.String())
	if answer == "" {
		answer = "抱歉，暂时无法回答该问题"
	}
	return answer
}

func (a *Agent) runPlan(ctx context.Context, req TaskRequest, analysis Analysis, params map[string]any, em *emitter, result *TaskResult) {
	planCtx, cancel := a.oracleCtx(ctx)
	plan := a.planner.Build(planCtx, analysis.TaskType, req.Goal, analysis.Plan)
	cancel()
	em.emit(EventTaskList, "", "执行计划已生成", map[string]any{"steps": plan})

	execCtx := NewExecutionContext(req.Context)
	attempt := &Attempt{
		TaskID:  req.ID,
		Task:    req.Goal,
		Type:    analysis.TaskType,
		Params:  params,
		Plan:    plan,
		Context: execCtx,
	}

	finalAnswer, failed := a.executor.Run(ctx, attempt, em)

	result.Plan = attempt.Plan
	result.FinalAnswer = finalAnswer
	result.FailedSteps = failed
	result.Outputs = execCtx.Snapshot()
}

func (a *Agent) oracleCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.oracleTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.oracleTimeout)
}

// mergeParams 合并提取参数与调用方上下文，后者优先。
func mergeParams(extracted, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(extracted)+len(overrides))
	for k, v := range extracted {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
