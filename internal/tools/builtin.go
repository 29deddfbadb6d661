package tools

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ResearchMind/internal/storage/mysql"
)

// Deps 汇集内置工具依赖的外部资源。字段为 nil 时对应工具注册为
// 纯模拟实现，保证离线环境下整条执行链路可用。
type Deps struct {
	Experiments mysql.ExperimentRepository
	Reminders   mysql.ReminderRepository
}

// RegisterBuiltins 注册全部内置工具。
func RegisterBuiltins(r *Registry, deps Deps) {
	registerSimulated(r)
	registerPaperSearch(r)
	registerExperimentTools(r, deps.Experiments)
	registerReminderTools(r, deps.Reminders)
	registerPreferenceTools(r)
}

// 同步模拟工具。真实部署中由数据源插件替换。
func registerSimulated(r *Registry) {
	r.RegisterSync("search_web", func(_ context.Context, args map[string]any) (string, error) {
		query := argString(args, "query")
		return fmt.Sprintf("已搜索「%s」，找到 3 条相关结果（模拟数据）", query), nil
	})
	r.RegisterSync("read_file", func(_ context.Context, args map[string]any) (string, error) {
		path := argString(args, "path")
		return fmt.Sprintf("已读取文件 %s（模拟内容）", path), nil
	})
	r.RegisterSync("send_email", func(_ context.Context, args map[string]any) (string, error) {
		to := argString(args, "to")
		return fmt.Sprintf("邮件已发送至 %s（模拟）", to), nil
	})
	r.RegisterSync("create_schedule", func(_ context.Context, args map[string]any) (string, error) {
		title := argString(args, "title")
		when := argString(args, "time")
		if title == "" {
			title = "未命名日程"
		}
		return fmt.Sprintf("日程「%s」已创建，时间：%s", title, when), nil
	})
}

func registerPaperSearch(r *Registry) {
	r.RegisterAsync("search_papers", func(_ context.Context, args map[string]any) (*Result, error) {
		topic := argString(args, "topic")
		years := argInt(args, "years", 0)
		maxPapers := argInt(args, "max_papers", 30)
		sortBy := argString(args, "sort_by")

		papers := searchCorpus(topic, years, maxPapers, sortBy)
		return &Result{
			Success: true,
			Message: fmt.Sprintf("检索到 %d 篇论文", len(papers)),
			Data:    map[string]any{"papers": papers, "topic": topic},
		}, nil
	})
}

func registerExperimentTools(r *Registry, repo mysql.ExperimentRepository) {
	r.RegisterAsync("add_experiment", func(ctx context.Context, args map[string]any) (*Result, error) {
		note := strings.TrimSpace(argString(args, "note"))
		if note == "" {
			return &Result{Success: false, Error: "实验描述不能为空"}, nil
		}

		record := parseExperimentNote(note)
		record.ID = uuid.NewString()
		record.CreatedAt = time.Now().Unix()

		if repo != nil {
			if err := repo.Add(ctx, record); err != nil {
				return nil, err
			}
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("实验记录已添加 (ID: %s)", record.ID),
			Data:    map[string]any{"experiment": record},
		}, nil
	})

	r.RegisterAsync("query_experiments", func(ctx context.Context, args map[string]any) (*Result, error) {
		if repo == nil {
			return &Result{Success: true, Message: "找到 0 条实验记录"}, nil
		}
		keyword := argString(args, "keyword")
		limit := argInt(args, "limit", 20)
		records, err := repo.Query(ctx, keyword, limit)
		if err != nil {
			return nil, err
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("找到 %d 条实验记录", len(records)),
			Data:    map[string]any{"experiments": records},
		}, nil
	})
}

func registerReminderTools(r *Registry, repo mysql.ReminderRepository) {
	r.RegisterAsync("add_reminder", func(ctx context.Context, args map[string]any) (*Result, error) {
		title := strings.TrimSpace(argString(args, "title"))
		if title == "" {
			title = strings.TrimSpace(argString(args, "content"))
		}
		if title == "" {
			return &Result{Success: false, Error: "提醒内容不能为空"}, nil
		}

		record := mysql.ReminderRecord{
			ID:        uuid.NewString(),
			Title:     title,
			DueAt:     argString(args, "due_at"),
			Recurring: argString(args, "recurring"),
			CreatedAt: time.Now().Unix(),
		}
		if repo != nil {
			if err := repo.Add(ctx, record); err != nil {
				return nil, err
			}
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("提醒已添加 (ID: %s)", record.ID),
			Data:    map[string]any{"reminder": record},
		}, nil
	})

	r.RegisterAsync("list_reminders", func(ctx context.Context, args map[string]any) (*Result, error) {
		if repo == nil {
			return &Result{Success: true, Message: "找到 0 条提醒"}, nil
		}
		includeCompleted := argBool(args, "include_completed")
		records, err := repo.List(ctx, includeCompleted)
		if err != nil {
			return nil, err
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("找到 %d 条提醒", len(records)),
			Data:    map[string]any{"reminders": records},
		}, nil
	})

	r.RegisterAsync("complete_reminder", func(ctx context.Context, args map[string]any) (*Result, error) {
		id := strings.TrimSpace(argString(args, "id"))
		if id == "" {
			return &Result{Success: false, Error: "提醒 ID 不能为空"}, nil
		}
		if repo == nil {
			return &Result{Success: false, Error: "提醒存储未配置"}, nil
		}
		if err := repo.Complete(ctx, id); err != nil {
			return nil, err
		}
		return &Result{Success: true, Message: fmt.Sprintf("提醒 %s 已完成", id)}, nil
	})

	r.RegisterAsync("delete_reminder", func(ctx context.Context, args map[string]any) (*Result, error) {
		id := strings.TrimSpace(argString(args, "id"))
		if id == "" {
			return &Result{Success: false, Error: "提醒 ID 不能为空"}, nil
		}
		if repo == nil {
			return &Result{Success: false, Error: "提醒存储未配置"}, nil
		}
		if err := repo.Delete(ctx, id); err != nil {
			return nil, err
		}
		return &Result{Success: true, Message: fmt.Sprintf("提醒 %s 已删除", id)}, nil
	})
}

// 用户偏好保存在进程内，进程重启后丢失。
func registerPreferenceTools(r *Registry) {
	var mu sync.RWMutex
	prefs := make(map[string]string)

	r.RegisterAsync("update_preference", func(_ context.Context, args map[string]any) (*Result, error) {
		key := strings.TrimSpace(argString(args, "key"))
		if key == "" {
			return &Result{Success: false, Error: "偏好键不能为空"}, nil
		}
		value := argString(args, "value")
		mu.Lock()
		prefs[key] = value
		mu.Unlock()
		return &Result{Success: true, Message: fmt.Sprintf("偏好 %s 已更新", key)}, nil
	})

	r.RegisterAsync("get_preference", func(_ context.Context, args map[string]any) (*Result, error) {
		key := strings.TrimSpace(argString(args, "key"))
		mu.RLock()
		value, ok := prefs[key]
		mu.RUnlock()
		if !ok {
			return &Result{Success: false, Error: fmt.Sprintf("偏好 %s 不存在", key)}, nil
		}
		return &Result{Success: true, Message: value, Data: map[string]any{"key": key, "value": value}}, nil
	})
}

var (
	modelPattern   = regexp.MustCompile(`(?:模型|model)[:：=\s]*([A-Za-z0-9\-_.]+)`)
	datasetPattern = regexp.MustCompile(`(?:数据集|dataset)[:：=\s]*([A-Za-z0-9\-_.]+)`)
	metricPattern  = regexp.MustCompile(`(准确率|精度|accuracy|f1|loss)[:：=为\s]*([0-9.]+)(%?)`)
)

// parseExperimentNote 从自然语言描述中提取结构化字段。
func parseExperimentNote(note string) mysql.ExperimentRecord {
	record := mysql.ExperimentRecord{Note: note}
	if m := modelPattern.FindStringSubmatch(note); len(m) > 1 {
		record.Model = m[1]
	}
	if m := datasetPattern.FindStringSubmatch(note); len(m) > 1 {
		record.Dataset = m[1]
	}
	if m := metricPattern.FindStringSubmatch(note); len(m) > 2 {
		record.Metric = m[1]
		if value, err := strconv.ParseFloat(m[2], 64); err == nil {
			if m[3] == "%" {
				value /= 100
			}
			record.MetricValue = value
		}
	}
	return record
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if value, ok := args[key].(string); ok {
		return value
	}
	return ""
}

func argInt(args map[string]any, key string, fallback int) int {
	if args == nil {
		return fallback
	}
	switch value := args[key].(type) {
	case int:
		return value
	case float64:
		return int(value)
	}
	return fallback
}

func argBool(args map[string]any, key string) bool {
	if args == nil {
		return false
	}
	value, _ := args[key].(bool)
	return value
}
