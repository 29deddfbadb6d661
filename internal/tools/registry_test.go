package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExecuteUnknownTool(t *testing.T) {
	registry := NewRegistry()

	result := registry.Execute(context.Background(), "missing", nil)
	if result.Success || !strings.Contains(result.Error, "未知工具") {
		t.Fatalf("unexpected result for unknown tool: %+v", result)
	}
	if text := registry.ExecuteSync(context.Background(), "missing", nil); !strings.Contains(text, "未知工具") {
		t.Fatalf("unexpected sync text for unknown tool: %q", text)
	}
}

func TestExecuteSyncThroughAsyncEntry(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterSync("echo", func(_ context.Context, args map[string]any) (string, error) {
		value, _ := args["value"].(string)
		return "echo: " + value, nil
	})

	result := registry.Execute(context.Background(), "echo", map[string]any{"value": "hi"})
	if !result.Success || result.Message != "echo: hi" {
		t.Fatalf("unexpected wrapped result: %+v", result)
	}
}

func TestAsyncRetrySucceeds(t *testing.T) {
	registry := NewRegistry(WithMaxRetries(3), WithRetryDelay(0))

	calls := 0
	registry.RegisterAsync("flaky", func(context.Context, map[string]any) (*Result, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("temporary failure")
		}
		return &Result{Success: true, Message: "ok"}, nil
	})

	result := registry.Execute(context.Background(), "flaky", nil)
	if !result.Success || result.RetryCount != 2 {
		t.Fatalf("expected success after 2 retries, got %+v", result)
	}
}

func TestAsyncRetryExhausted(t *testing.T) {
	registry := NewRegistry(WithMaxRetries(2), WithRetryDelay(0))
	registry.RegisterAsync("broken", func(context.Context, map[string]any) (*Result, error) {
		return nil, errors.New("permanent failure")
	})

	result := registry.Execute(context.Background(), "broken", nil)
	if result.Success || result.RetryCount != 2 {
		t.Fatalf("expected exhausted retries, got %+v", result)
	}
	if !strings.Contains(result.Error, "重试") {
		t.Fatalf("expected retry note in error, got %q", result.Error)
	}
}

func TestSyncPanicIsRecovered(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterSync("explode", func(context.Context, map[string]any) (string, error) {
		panic("tool exploded")
	})

	text := registry.ExecuteSync(context.Background(), "explode", nil)
	if !strings.Contains(text, "工具执行错误") {
		t.Fatalf("expected recovered error text, got %q", text)
	}
}

func TestNamesAndHas(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterSync("b_tool", func(context.Context, map[string]any) (string, error) { return "", nil })
	registry.RegisterAsync("a_tool", func(context.Context, map[string]any) (*Result, error) { return nil, nil })

	names := registry.Names()
	if len(names) != 2 || names[0] != "a_tool" || names[1] != "b_tool" {
		t.Fatalf("expected sorted names, got %v", names)
	}
	if !registry.Has("a_tool") || registry.Has("c_tool") {
		t.Fatalf("unexpected Has results")
	}
}
