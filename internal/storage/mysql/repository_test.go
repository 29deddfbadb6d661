package mysql

import (
	"context"
	"testing"
)

func TestMemoryExperimentRepositoryPersists(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewMemoryExperimentRepository(dir)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}

	ctx := context.Background()
	records := []ExperimentRecord{
		{ID: "e1", Note: "模型:bert 在 squad 上微调", Model: "bert", CreatedAt: 100},
		{ID: "e2", Note: "cifar10 基线实验", Dataset: "cifar10", CreatedAt: 200},
	}
	for _, record := range records {
		if err := repo.Add(ctx, record); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	got, err := repo.Query(ctx, "", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].ID != "e2" {
		t.Fatalf("expected newest first, got %+v", got)
	}

	got, err = repo.Query(ctx, "BERT", 10)
	if err != nil {
		t.Fatalf("query keyword: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("keyword filter failed: %+v", got)
	}

	// 重新打开仓库应从日志恢复记录。
	reopened, err := NewMemoryExperimentRepository(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err = reopened.Query(ctx, "", 10)
	if err != nil {
		t.Fatalf("query after reopen: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected restored records, got %d", len(got))
	}
}

func TestMemoryReminderRepositoryLifecycle(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewMemoryReminderRepository(dir)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}

	ctx := context.Background()
	if err := repo.Add(ctx, ReminderRecord{ID: "r1", Title: "提交论文初稿", DueAt: "2026-09-15", CreatedAt: 100}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repo.Add(ctx, ReminderRecord{ID: "r2", Title: "组会汇报", CreatedAt: 200}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := repo.Complete(ctx, "r1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	pending, err := repo.List(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "r2" {
		t.Fatalf("expected only pending reminder, got %+v", pending)
	}

	all, err := repo.List(ctx, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 reminders, got %d", len(all))
	}

	if err := repo.Delete(ctx, "r2"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// 快照应在重开后保留完成状态与删除结果。
	reopened, err := NewMemoryReminderRepository(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	all, err = reopened.List(ctx, true)
	if err != nil {
		t.Fatalf("list after reopen: %v", err)
	}
	if len(all) != 1 || all[0].ID != "r1" || !all[0].Completed {
		t.Fatalf("snapshot restore failed: %+v", all)
	}
}

func TestMemoryReminderRepositoryUnknownID(t *testing.T) {
	repo, err := NewMemoryReminderRepository(t.TempDir())
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	if err := repo.Complete(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown reminder id")
	}
	if err := repo.Delete(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown reminder id")
	}
}
