package reflection

import (
	"context"
	"fmt"
	"time"

	"ResearchMind/internal/agent"
	"ResearchMind/internal/llm"
	"ResearchMind/pkg/logger"
)

// TaskRunner 是反思循环驱动的底层执行器，通常由 agent.Agent 实现。
type TaskRunner interface {
	Execute(ctx context.Context, req agent.TaskRequest, sink agent.ObserverSink) (*agent.TaskResult, error)
}

// AttemptRecord 记录一轮尝试的关键信息。
type AttemptRecord struct {
	Iteration   int      `json:"iteration"`
	Task        string   `json:"task"`
	Score       float64  `json:"score"`
	Passed      bool     `json:"passed"`
	FailureType string   `json:"failure_type,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Outcome 是反思循环的最终产出。无论经历多少轮，结构始终完整。
type Outcome struct {
	Result     *agent.TaskResult `json:"result"`
	Evaluation Evaluation        `json:"evaluation"`
	Iterations int               `json:"iterations"`
	Passed     bool              `json:"passed"`
	Exhausted  bool              `json:"exhausted"`
	Message    string            `json:"message,omitempty"`
	History    []AttemptRecord   `json:"history,omitempty"`
}

const (
	defaultMaxIterations = 2
	maxIterationsCap     = 5
)

// Loop 是执行—评估—反思—调整的闭环控制器。
type Loop struct {
	runner        TaskRunner
	evaluator     *Evaluator
	analyzer      *Analyzer
	adjuster      *Adjuster
	maxIterations int
}

// LoopOption 调整 Loop 行为。
type LoopOption func(*Loop)

// WithMaxIterations 设置额外反思轮数，取值范围 [0, 5]。
func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) {
		if n < 0 {
			n = 0
		}
		if n > maxIterationsCap {
			n = maxIterationsCap
		}
		l.maxIterations = n
	}
}

// NewLoop 创建反思循环。oracle 可以为 nil，此时评估与归因走规则路径。
func NewLoop(runner TaskRunner, oracle llm.Client, opts ...LoopOption) *Loop {
	loop := &Loop{
		runner:        runner,
		evaluator:     NewEvaluator(oracle),
		analyzer:      NewAnalyzer(oracle),
		adjuster:      NewAdjuster(),
		maxIterations: defaultMaxIterations,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(loop)
		}
	}
	return loop
}

// Execute 驱动完整的反思闭环。除入参校验错误外不返回错误；
// 执行层的异常会被折叠进失败结果并参与评估。
func (l *Loop) Execute(ctx context.Context, req agent.TaskRequest, sink agent.ObserverSink) (*Outcome, error) {
	em := &loopEmitter{sink: sink, taskID: req.ID}

	currentGoal := req.Goal
	currentCtx := cloneContext(req.Context)

	var best *Outcome
	bestScore := -1.0
	history := make([]AttemptRecord, 0, l.maxIterations+1)

	for iteration := 0; iteration <= l.maxIterations; iteration++ {
		if iteration > 0 {
			em.emit(agent.EventReflection, fmt.Sprintf("第 %d 轮反思后重试", iteration), map[string]any{
				"adjusted_task": currentGoal,
			})
		}

		result, err := l.runOnce(ctx, agent.TaskRequest{ID: req.ID, Goal: currentGoal, Context: currentCtx}, sink)
		if err != nil {
			return nil, err
		}

		eval := l.evaluator.Evaluate(ctx, currentGoal, result)
		em.emit(agent.EventEvaluation, eval.Feedback, map[string]any{
			"score":  eval.Overall(),
			"passed": eval.Passed,
		})

		record := AttemptRecord{
			Iteration: iteration,
			Task:      currentGoal,
			Score:     eval.Overall(),
			Passed:    eval.Passed,
		}

		// 严格大于：得分持平时保留更早的一轮。
		if eval.Overall() > bestScore {
			bestScore = eval.Overall()
			best = &Outcome{Result: result, Evaluation: eval, Iterations: iteration + 1}
		}

		if eval.Passed {
			history = append(history, record)
			best.Iterations = iteration + 1
			best.Passed = true
			best.History = history
			return best, nil
		}

		reflection := l.analyzer.Analyze(ctx, currentGoal, result, eval)
		if reflection != nil {
			record.FailureType = reflection.FailureType
			record.Suggestions = reflection.Suggestions
		}
		history = append(history, record)

		if iteration >= l.maxIterations {
			break
		}

		if reflection != nil && (reflection.ShouldRetry || reflection.ShouldReplan) {
			currentGoal = l.adjuster.AdjustTask(currentGoal, reflection)
			currentCtx = mergeContext(currentCtx, reflection.AdjustedParams)
		}

		logger.Named("reflection").Info("结果未达标，进入下一轮",
			"task_id", req.ID,
			"iteration", iteration,
			"score", eval.Overall(),
		)
	}

	best.Iterations = l.maxIterations + 1
	best.Exhausted = true
	best.Message = "达到最大反思次数，返回最佳结果"
	best.History = history
	return best, nil
}

// runOnce 执行单轮任务并吸收一切 panic，保证循环自身不会崩溃。
func (l *Loop) runOnce(ctx context.Context, req agent.TaskRequest, sink agent.ObserverSink) (result *agent.TaskResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Named("reflection").Error("执行层异常", "task_id", req.ID, "panic", rec)
			result = &agent.TaskResult{
				Goal:        req.Goal,
				TaskType:    agent.TaskGeneral,
				FinalAnswer: fmt.Sprintf("执行异常: %v", rec),
				FailedSteps: 1,
				StartedAt:   time.Now().Unix(),
				CompletedAt: time.Now().Unix(),
			}
			err = nil
		}
	}()
	return l.runner.Execute(ctx, req, sink)
}

func cloneContext(values map[string]any) map[string]any {
	dup := make(map[string]any, len(values))
	for k, v := range values {
		dup[k] = v
	}
	return dup
}

func mergeContext(base, overlay map[string]any) map[string]any {
	merged := cloneContext(base)
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// loopEmitter 与 agent 内部的事件投递遵循同样的约定：
// 首次投递失败后不再尝试。
type loopEmitter struct {
	sink    agent.ObserverSink
	taskID  string
	stopped bool
}

func (e *loopEmitter) emit(eventType agent.EventType, message string, payload map[string]any) {
	if e == nil || e.sink == nil || e.stopped {
		return
	}
	ok := e.sink.Emit(agent.Event{
		Type:    eventType,
		TaskID:  e.taskID,
		Message: message,
		Payload: payload,
		At:      time.Now().UnixMilli(),
	})
	if !ok {
		e.stopped = true
	}
}
