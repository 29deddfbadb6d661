package tools

import (
	"context"
	"strings"
	"testing"

	"ResearchMind/internal/storage/mysql"
)

type fakeExperimentRepo struct {
	records []mysql.ExperimentRecord
}

func (f *fakeExperimentRepo) Add(_ context.Context, record mysql.ExperimentRecord) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeExperimentRepo) Query(_ context.Context, keyword string, limit int) ([]mysql.ExperimentRecord, error) {
	out := make([]mysql.ExperimentRecord, 0, len(f.records))
	for _, record := range f.records {
		if keyword == "" || strings.Contains(record.Note, keyword) {
			out = append(out, record)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type fakeReminderRepo struct {
	records []mysql.ReminderRecord
}

func (f *fakeReminderRepo) Add(_ context.Context, record mysql.ReminderRecord) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeReminderRepo) List(_ context.Context, includeCompleted bool) ([]mysql.ReminderRecord, error) {
	out := make([]mysql.ReminderRecord, 0, len(f.records))
	for _, record := range f.records {
		if includeCompleted || !record.Completed {
			out = append(out, record)
		}
	}
	return out, nil
}

func (f *fakeReminderRepo) Complete(_ context.Context, id string) error {
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i].Completed = true
		}
	}
	return nil
}

func (f *fakeReminderRepo) Delete(_ context.Context, id string) error {
	kept := f.records[:0]
	for _, record := range f.records {
		if record.ID != id {
			kept = append(kept, record)
		}
	}
	f.records = kept
	return nil
}

func builtinRegistry(exp *fakeExperimentRepo, rem *fakeReminderRepo) *Registry {
	registry := NewRegistry(WithRetryDelay(0))
	RegisterBuiltins(registry, Deps{Experiments: exp, Reminders: rem})
	return registry
}

func TestSearchPapersFiltersAndSorts(t *testing.T) {
	registry := builtinRegistry(nil, nil)

	result := registry.Execute(context.Background(), "search_papers", map[string]any{
		"topic":   "language models",
		"sort_by": "citation",
	})
	if !result.Success {
		t.Fatalf("search failed: %+v", result)
	}
	papers, ok := result.Data["papers"].([]Paper)
	if !ok || len(papers) == 0 {
		t.Fatalf("expected papers in result, got %+v", result.Data)
	}
	for i := 1; i < len(papers); i++ {
		if papers[i].CitationCount > papers[i-1].CitationCount {
			t.Fatalf("papers not sorted by citation: %v", papers)
		}
	}

	result = registry.Execute(context.Background(), "search_papers", map[string]any{
		"topic":      "language models",
		"max_papers": 1,
	})
	papers, _ = result.Data["papers"].([]Paper)
	if len(papers) != 1 {
		t.Fatalf("expected max_papers cap, got %d", len(papers))
	}
}

func TestAddExperimentParsesNote(t *testing.T) {
	repo := &fakeExperimentRepo{}
	registry := builtinRegistry(repo, nil)

	result := registry.Execute(context.Background(), "add_experiment", map[string]any{
		"note": "模型:resnet50 数据集:cifar10 准确率:92.5%",
	})
	if !result.Success {
		t.Fatalf("add failed: %+v", result)
	}
	if len(repo.records) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(repo.records))
	}
	record := repo.records[0]
	if record.Model != "resnet50" || record.Dataset != "cifar10" {
		t.Fatalf("note parse failed: %+v", record)
	}
	if record.Metric != "准确率" || record.MetricValue < 0.92 || record.MetricValue > 0.93 {
		t.Fatalf("metric parse failed: %+v", record)
	}

	result = registry.Execute(context.Background(), "add_experiment", map[string]any{"note": "  "})
	if result.Success || result.Error == "" {
		t.Fatalf("empty note should fail: %+v", result)
	}
}

func TestQueryExperimentsByKeyword(t *testing.T) {
	repo := &fakeExperimentRepo{}
	registry := builtinRegistry(repo, nil)

	for _, note := range []string{"模型:bert 在 squad 上微调", "整理 cifar10 基线"} {
		registry.Execute(context.Background(), "add_experiment", map[string]any{"note": note})
	}

	result := registry.Execute(context.Background(), "query_experiments", map[string]any{"keyword": "bert"})
	if !result.Success {
		t.Fatalf("query failed: %+v", result)
	}
	records, _ := result.Data["experiments"].([]mysql.ExperimentRecord)
	if len(records) != 1 || !strings.Contains(records[0].Note, "bert") {
		t.Fatalf("unexpected query result: %+v", records)
	}
}

func TestReminderLifecycle(t *testing.T) {
	repo := &fakeReminderRepo{}
	registry := builtinRegistry(nil, repo)

	result := registry.Execute(context.Background(), "add_reminder", map[string]any{
		"title":  "提交论文初稿",
		"due_at": "2026-09-15 18:00",
	})
	if !result.Success || len(repo.records) != 1 {
		t.Fatalf("add reminder failed: %+v", result)
	}
	id := repo.records[0].ID

	if result = registry.Execute(context.Background(), "complete_reminder", map[string]any{"id": id}); !result.Success {
		t.Fatalf("complete failed: %+v", result)
	}

	result = registry.Execute(context.Background(), "list_reminders", nil)
	records, _ := result.Data["reminders"].([]mysql.ReminderRecord)
	if len(records) != 0 {
		t.Fatalf("completed reminders should be hidden by default, got %+v", records)
	}

	result = registry.Execute(context.Background(), "list_reminders", map[string]any{"include_completed": true})
	records, _ = result.Data["reminders"].([]mysql.ReminderRecord)
	if len(records) != 1 || !records[0].Completed {
		t.Fatalf("expected completed reminder, got %+v", records)
	}

	if result = registry.Execute(context.Background(), "delete_reminder", map[string]any{"id": id}); !result.Success {
		t.Fatalf("delete failed: %+v", result)
	}
	if len(repo.records) != 0 {
		t.Fatalf("expected empty store after delete")
	}

	result = registry.Execute(context.Background(), "add_reminder", map[string]any{"title": " "})
	if result.Success {
		t.Fatalf("blank reminder should fail: %+v", result)
	}
}

func TestPreferenceRoundTrip(t *testing.T) {
	registry := builtinRegistry(nil, nil)

	result := registry.Execute(context.Background(), "get_preference", map[string]any{"key": "citation_style"})
	if result.Success {
		t.Fatalf("missing key should fail: %+v", result)
	}

	if result = registry.Execute(context.Background(), "update_preference", map[string]any{"key": "citation_style", "value": "apa"}); !result.Success {
		t.Fatalf("update failed: %+v", result)
	}

	result = registry.Execute(context.Background(), "get_preference", map[string]any{"key": "citation_style"})
	if !result.Success || result.Message != "apa" {
		t.Fatalf("unexpected preference value: %+v", result)
	}
}
