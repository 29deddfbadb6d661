package agent

// TaskType 表示任务的意图类别，决定规划模板与步骤分发方式。
type TaskType string

const (
	TaskLiteratureResearch   TaskType = "literature_research"
	TaskSchedulePlanning     TaskType = "schedule_planning"
	TaskExperimentManagement TaskType = "experiment_management"
	TaskQuestionAnswering    TaskType = "question_answering"
	TaskGeneral              TaskType = "general"
)

// ParseTaskType 宽松解析模型输出的任务类型，未知值归入 general。
func ParseTaskType(raw string) TaskType {
	switch TaskType(raw) {
	case TaskLiteratureResearch, TaskSchedulePlanning, TaskExperimentManagement,
		TaskQuestionAnswering, TaskGeneral:
		return TaskType(raw)
	}
	return TaskGeneral
}

// StepStatus 表示计划步骤的执行状态。状态只能单向前进。
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// CanTransition 判断状态迁移是否合法。
func (s StepStatus) CanTransition(next StepStatus) bool {
	switch s {
	case StepPending:
		return next == StepInProgress
	case StepInProgress:
		return next == StepCompleted || next == StepFailed
	}
	return false
}

// StepOutput 是单个步骤的结构化产出。
type StepOutput struct {
	OutputType string         `json:"output_type"`
	Summary    string         `json:"result,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Err        string         `json:"error,omitempty"`
}

// PlanStep 是执行计划中的一步。
type PlanStep struct {
	ID          string      `json:"step_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	OutputType  string      `json:"output_type,omitempty"`
	Status      StepStatus  `json:"status"`
	Output      *StepOutput `json:"output,omitempty"`
	StartedAt   int64       `json:"started_at,omitempty"`
	FinishedAt  int64       `json:"finished_at,omitempty"`
}

// Analysis 是意图识别的结构化结果。
type Analysis struct {
	TaskType        TaskType       `json:"task_type"`
	IntentSummary   string         `json:"intent_summary,omitempty"`
	ExtractedParams map[string]any `json:"extracted_params,omitempty"`
	Plan            []PlanStep     `json:"plan,omitempty"`
	Reasoning       string         `json:"reasoning,omitempty"`
}

// TaskRequest 描述提交给智能体的一次任务。
type TaskRequest struct {
	ID      string         `json:"id,omitempty"`
	Goal    string         `json:"goal"`
	Context map[string]any `json:"context,omitempty"`
}

// TaskResult 是一次完整执行的结果信封。无论中途发生什么，
// 调用方都会拿到一个结构完整的 TaskResult。
type TaskResult struct {
	Goal            string         `json:"goal"`
	TaskType        TaskType       `json:"task_type"`
	IntentSummary   string         `json:"intent_summary,omitempty"`
	ExtractedParams map[string]any `json:"extracted_params,omitempty"`
	Plan            []PlanStep     `json:"plan"`
	FinalAnswer     string         `json:"final_answer"`
	Outputs         map[string]any `json:"outputs,omitempty"`
	FailedSteps     int            `json:"failed_steps"`
	StartedAt       int64          `json:"started_at"`
	CompletedAt     int64          `json:"completed_at"`
}

// ExecutionContext 是单次执行尝试内跨步骤共享的键值袋。
// 每次尝试独占一个实例，由单一 goroutine 顺序读写。
type ExecutionContext struct {
	values map[string]any
}

// NewExecutionContext 以种子数据创建上下文。
func NewExecutionContext(seed map[string]any) *ExecutionContext {
	values := make(map[string]any, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &ExecutionContext{values: values}
}

// Get 读取键值。
func (c *ExecutionContext) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Set 写入键值。
func (c *ExecutionContext) Set(key string, value any) {
	c.values[key] = value
}

// Merge 批量合并键值，后写覆盖先写。
func (c *ExecutionContext) Merge(values map[string]any) {
	for k, v := range values {
		c.values[k] = v
	}
}

// Snapshot 返回当前内容的浅拷贝。
func (c *ExecutionContext) Snapshot() map[string]any {
	dup := make(map[string]any, len(c.values))
	for k, v := range c.values {
		dup[k] = v
	}
	return dup
}
