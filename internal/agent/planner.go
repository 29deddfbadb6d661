package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"ResearchMind/internal/llm"
	"ResearchMind/pkg/logger"
)

// PlanTemplates 按任务类型保存默认计划。
type PlanTemplates map[TaskType][]PlanStep

// DefaultPlanTemplates 返回内置计划模板。
func DefaultPlanTemplates() PlanTemplates {
	return PlanTemplates{
		TaskLiteratureResearch: {
			{ID: "search", Name: "搜索相关文献", Description: "根据关键词检索学术论文", OutputType: "paper_list"},
			{ID: "analyze", Name: "分析文献内容", Description: "提取论文的核心贡献与方法", OutputType: "analysis"},
			{ID: "summarize", Name: "生成调研报告", Description: "汇总分析结果形成报告", OutputType: "report"},
		},
		TaskSchedulePlanning: {
			{ID: "parse", Name: "解析时间需求", Description: "理解用户的时间与事项安排", OutputType: "schedule_info"},
			{ID: "create", Name: "创建日程安排", Description: "生成具体日程", OutputType: "schedule"},
			{ID: "remind", Name: "设置提醒", Description: "为日程添加提醒", OutputType: "reminder"},
		},
		TaskExperimentManagement: {
			{ID: "analyze_request", Name: "分析数据需求", Description: "理解需要整理或统计的内容", OutputType: "analysis"},
			{ID: "generate_stats", Name: "生成统计数据", Description: "对实验数据做统计汇总", OutputType: "statistics"},
			{ID: "report", Name: "生成报告", Description: "输出统计报告", OutputType: "report"},
		},
		TaskQuestionAnswering: {
			{ID: "understand", Name: "理解问题", Description: "拆解用户问题的关键点", OutputType: "analysis"},
			{ID: "research", Name: "查找资料", Description: "收集回答所需的参考信息", OutputType: "references"},
			{ID: "answer", Name: "生成回答", Description: "组织并输出最终回答", OutputType: "answer"},
		},
		TaskGeneral: {
			{ID: "understand", Name: "理解任务", Description: "分析任务要求", OutputType: "analysis"},
			{ID: "execute", Name: "执行任务", Description: "完成任务主体", OutputType: "result"},
			{ID: "verify", Name: "检查结果", Description: "核对执行结果", OutputType: "verification"},
		},
	}
}

// LoadPlanTemplates 从 YAML 文件加载计划模板并覆盖内置默认值。
// 文件不存在时直接返回默认模板。
func LoadPlanTemplates(path string) (PlanTemplates, error) {
	templates := DefaultPlanTemplates()
	if strings.TrimSpace(path) == "" {
		return templates, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return templates, nil
		}
		return nil, fmt.Errorf("读取计划模板失败: %w", err)
	}

	var decoded struct {
		Plans map[string][]struct {
			StepID      string `yaml:"step_id"`
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
			OutputType  string `yaml:"output_type"`
		} `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("解析计划模板失败: %w", err)
	}

	for rawType, rawSteps := range decoded.Plans {
		taskType := TaskType(rawType)
		if ParseTaskType(rawType) != taskType {
			return nil, fmt.Errorf("计划模板包含未知任务类型: %s", rawType)
		}
		steps := make([]PlanStep, 0, len(rawSteps))
		for _, raw := range rawSteps {
			steps = append(steps, PlanStep{
				ID:          raw.StepID,
				Name:        raw.Name,
				Description: raw.Description,
				OutputType:  raw.OutputType,
			})
		}
		if len(steps) > 0 {
			templates[taskType] = steps
		}
	}
	return templates, nil
}

// Planner 负责产出执行计划。优先使用意图识别阶段带回的计划，
// 其次请求大模型规划，最后退回模板。
type Planner struct {
	oracle    llm.Client
	templates PlanTemplates
}

// NewPlanner 创建规划器。templates 为 nil 时使用内置模板。
func NewPlanner(oracle llm.Client, templates PlanTemplates) *Planner {
	if oracle == nil {
		oracle = llm.Disabled()
	}
	if templates == nil {
		templates = DefaultPlanTemplates()
	}
	return &Planner{oracle: oracle, templates: templates}
}

// Build 为任务生成执行计划。返回的步骤 ID 保证非空且唯一。
func (p *Planner) Build(ctx context.Context, taskType TaskType, task string, suggested []PlanStep) []PlanStep {
	if plan, ok := normalizePlan(suggested); ok {
		return plan
	}
	if len(suggested) > 0 {
		logger.Named("agent").Warn("意图识别给出的计划不合法，回退模板", "task_type", taskType)
		return p.template(taskType)
	}

	plan, err := p.planWithOracle(ctx, taskType, task)
	if err == nil {
		if normalized, ok := normalizePlan(plan); ok {
			return normalized
		}
		logger.Named("agent").Warn("模型计划步骤 ID 冲突，回退模板", "task_type", taskType)
	} else if !errors.Is(err, llm.ErrUnavailable) {
		logger.Named("agent").Warn("模型规划失败，回退模板", "error", err)
	}
	return p.template(taskType)
}

func (p *Planner) template(taskType TaskType) []PlanStep {
	steps := p.templates[taskType]
	if len(steps) == 0 {
		steps = p.templates[TaskGeneral]
	}
	plan := make([]PlanStep, len(steps))
	copy(plan, steps)
	for i := range plan {
		plan[i].Status = StepPending
		plan[i].Output = nil
	}
	return plan
}

func (p *Planner) planWithOracle(ctx context.Context, taskType TaskType, task string) ([]PlanStep, error) {
	prompt := fmt.Sprintf(
		"为下面的 %s 类任务规划 3-6 个执行步骤，输出 JSON 对象 {\"steps\": [...]}，"+
			"每个步骤包含 step_id、name、description、output_type。\n\n任务: %s",
		taskType, task,
	)
	raw, err := p.oracle.Complete(ctx, prompt, 0.5)
	if err != nil {
		return nil, err
	}
	payload, ok := llm.ExtractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("规划输出缺少 JSON 对象")
	}

	var decoded struct {
		Steps []PlanStep `json:"steps"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("解析规划输出失败: %w", err)
	}
	if len(decoded.Steps) == 0 {
		return nil, fmt.Errorf("规划输出不包含步骤")
	}
	return decoded.Steps, nil
}

// normalizePlan 为缺失的步骤 ID 补默认值，并校验唯一性。
// 归一化后仍有空 ID 或重复 ID 时返回 false，调用方应回退模板。
func normalizePlan(steps []PlanStep) ([]PlanStep, bool) {
	if len(steps) == 0 {
		return nil, false
	}

	plan := make([]PlanStep, len(steps))
	copy(plan, steps)

	seen := make(map[string]struct{}, len(plan))
	for i := range plan {
		plan[i].ID = strings.TrimSpace(plan[i].ID)
		if plan[i].ID == "" {
			plan[i].ID = fmt.Sprintf("step_%d", i)
		}
		if _, dup := seen[plan[i].ID]; dup {
			return nil, false
		}
		seen[plan[i].ID] = struct{}{}

		if plan[i].Name == "" {
			plan[i].Name = plan[i].ID
		}
		plan[i].Status = StepPending
		plan[i].Output = nil
	}
	return plan, true
}
