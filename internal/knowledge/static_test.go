package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func sampleSnippets() []Snippet {
	return []Snippet{
		{
			Title:    "文献检索习惯",
			Content:  "课题组优先检索 arXiv 与 Semantic Scholar",
			Keywords: []string{"论文", "文献"},
		},
		{
			Title:    "日程偏好",
			Content:  "组会固定在每周四下午",
			Keywords: []string{"日程", "会议"},
			Tags:     []string{"安排"},
		},
		{
			Title:   "通用背景",
			Content: "课题组研究方向为多模态大模型",
		},
	}
}

func TestQueryMatchesKeywordsAndTags(t *testing.T) {
	provider := NewStaticProvider(sampleSnippets(), 5)

	results := provider.Query("帮我检索扩散模型论文")
	if len(results) != 2 {
		t.Fatalf("expected keyword and catch-all hits, got %d", len(results))
	}
	if results[0].Title != "文献检索习惯" {
		t.Fatalf("unexpected first hit: %+v", results[0])
	}

	results = provider.Query("安排组会时间")
	found := false
	for _, snippet := range results {
		if snippet.Title == "日程偏好" {
			found = true
		}
	}
	if !found {
		t.Fatalf("tag match failed: %+v", results)
	}
}

func TestQueryHonorsMaxResults(t *testing.T) {
	provider := NewStaticProvider(sampleSnippets(), 1)
	if results := provider.Query("论文 日程"); len(results) != 1 {
		t.Fatalf("expected max 1 result, got %d", len(results))
	}
}

func TestHintsFoldsSnippets(t *testing.T) {
	provider := NewStaticProvider(sampleSnippets(), 5)

	hints := provider.Hints(context.Background(), "帮我检索扩散模型论文", 1)
	if len(hints) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(hints))
	}
	if hints[0] != "文献检索习惯: 课题组优先检索 arXiv 与 Semantic Scholar" {
		t.Fatalf("unexpected hint text: %q", hints[0])
	}
}

func TestLoadStaticProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.json")
	content := `[{"title":"背景","content":"课题组主攻扩散模型","keywords":["扩散"]}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write knowledge file: %v", err)
	}

	provider, err := LoadStaticProvider(path, 3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if hints := provider.Hints(context.Background(), "扩散模型综述", 3); len(hints) != 1 {
		t.Fatalf("expected loaded snippet to match, got %v", hints)
	}

	if _, err := LoadStaticProvider(filepath.Join(dir, "absent.json"), 3); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := LoadStaticProvider("  ", 3); err == nil {
		t.Fatalf("expected error for blank path")
	}
}
