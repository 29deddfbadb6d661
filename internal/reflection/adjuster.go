package reflection

import (
	"fmt"
	"strings"
)

// Adjuster 根据失败归因改写任务目标，供下一轮执行使用。
type Adjuster struct{}

// NewAdjuster 创建调整器。
func NewAdjuster() *Adjuster {
	return &Adjuster{}
}

// AdjustTask 返回改写后的任务目标。reflection 为 nil 时原样返回。
func (Adjuster) AdjustTask(task string, reflection *Reflection) string {
	if reflection == nil {
		return task
	}

	if reflection.ShouldReplan {
		if len(reflection.Suggestions) > 0 {
			hints := reflection.Suggestions
			if len(hints) > 2 {
				hints = hints[:2]
			}
			return fmt.Sprintf("%s（注意：%s）", task, strings.Join(hints, "，"))
		}
		return task + "，请重新规划并执行"
	}

	if maxPapers, ok := intParam(reflection.AdjustedParams, "max_papers"); ok {
		return fmt.Sprintf("%s，请搜索更多结果（至少%d篇）", task, maxPapers)
	}
	if level, ok := reflection.AdjustedParams["detail_level"].(string); ok && level == "high" {
		return "请详细回答：" + task
	}
	if strings.Contains(reflection.FailureType, "incomplete") {
		return task + "，请提供更详细完整的回答"
	}
	if strings.Contains(reflection.FailureType, "irrelevant") {
		return task + "，请确保结果与问题高度相关"
	}
	return task + "，请重新执行任务"
}

func intParam(params map[string]any, key string) (int, bool) {
	if params == nil {
		return 0, false
	}
	switch value := params[key].(type) {
	case int:
		return value, true
	case float64:
		return int(value), true
	}
	return 0, false
}
