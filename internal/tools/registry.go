package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ResearchMind/pkg/logger"
)

// SyncFunc 是同步工具的实现签名，直接返回文本结果。
type SyncFunc func(ctx context.Context, args map[string]any) (string, error)

// AsyncFunc 是异步工具的实现签名，返回结构化结果。
type AsyncFunc func(ctx context.Context, args map[string]any) (*Result, error)

// Result 是统一的工具执行结果信封。无论底层工具成功与否，
// 调用方拿到的都是一个完整的 Result。
type Result struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	RetryCount int            `json:"retry_count"`
	Data       map[string]any `json:"data,omitempty"`
}

const (
	defaultMaxRetries = 2
	defaultRetryDelay = 500 * time.Millisecond
)

// Registry 管理同步与异步两类工具。工具在进程启动时注册，
// 执行期只读，因此查找无需加锁，注册用锁保护以防插件晚注册。
type Registry struct {
	mu         sync.RWMutex
	syncTools  map[string]SyncFunc
	asyncTools map[string]AsyncFunc
	maxRetries int
	retryDelay time.Duration
}

// Option 调整 Registry 行为。
type Option func(*Registry)

// WithMaxRetries 设置异步工具的最大重试次数。
func WithMaxRetries(n int) Option {
	return func(r *Registry) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithRetryDelay 设置两次重试之间的固定等待时间。
func WithRetryDelay(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.retryDelay = d
		}
	}
}

// NewRegistry 创建空的工具注册表。
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		syncTools:  make(map[string]SyncFunc),
		asyncTools: make(map[string]AsyncFunc),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RegisterSync 注册同步工具。同名重复注册以后者为准。
func (r *Registry) RegisterSync(name string, fn SyncFunc) {
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	r.syncTools[name] = fn
	r.mu.Unlock()
}

// RegisterAsync 注册异步工具。
func (r *Registry) RegisterAsync(name string, fn AsyncFunc) {
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	r.asyncTools[name] = fn
	r.mu.Unlock()
}

// Has 判断工具是否存在于任一池中。
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, sok := r.syncTools[name]
	_, aok := r.asyncTools[name]
	return sok || aok
}

// Names 返回所有已注册工具名，便于日志与调试输出。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.syncTools)+len(r.asyncTools))
	for name := range r.syncTools {
		names = append(names, name)
	}
	for name := range r.asyncTools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecuteSync 执行同步工具。未知工具与内部异常都以错误文本返回，
// 不向调用方抛出 panic。
func (r *Registry) ExecuteSync(ctx context.Context, name string, args map[string]any) string {
	r.mu.RLock()
	fn, ok := r.syncTools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("错误：未知工具 '%s'", name)
	}

	text, err := callSync(ctx, fn, args)
	if err != nil {
		logger.Named("tools").Warn("同步工具执行失败", "tool", name, "error", err)
		return fmt.Sprintf("工具执行错误: %v", err)
	}
	return text
}

// Execute 执行异步工具并返回结构化结果。同步工具也可以通过该入口
// 调用，结果会被包装成 Result。异步工具失败时按固定间隔重试。
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *Result {
	r.mu.RLock()
	asyncFn, isAsync := r.asyncTools[name]
	syncFn, isSync := r.syncTools[name]
	r.mu.RUnlock()

	if !isAsync && !isSync {
		return &Result{Success: false, Error: fmt.Sprintf("错误：未知工具 '%s'", name)}
	}

	if !isAsync {
		text, err := callSync(ctx, syncFn, args)
		if err != nil {
			return &Result{Success: false, Error: fmt.Sprintf("工具执行错误: %v", err)}
		}
		return &Result{Success: true, Message: text}
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Named("tools").Info("重试工具", "tool", name, "attempt", attempt)
			select {
			case <-time.After(r.retryDelay):
			case <-ctx.Done():
				return &Result{
					Success:    false,
					Error:      fmt.Sprintf("工具执行错误: %v", ctx.Err()),
					RetryCount: attempt - 1,
				}
			}
		}

		result, err := callAsync(ctx, asyncFn, args)
		if err == nil {
			if result == nil {
				result = &Result{Success: true}
			}
			result.RetryCount = attempt
			return result
		}
		lastErr = err
	}

	logger.Named("tools").Warn("工具重试耗尽", "tool", name, "error", lastErr)
	return &Result{
		Success:    false,
		Error:      fmt.Sprintf("工具执行失败（重试%d次后）: %v", r.maxRetries, lastErr),
		RetryCount: r.maxRetries,
	}
}

func callSync(ctx context.Context, fn SyncFunc, args map[string]any) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("工具内部异常: %v", rec)
		}
	}()
	return fn(ctx, args)
}

func callAsync(ctx context.Context, fn AsyncFunc, args map[string]any) (result *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("工具内部异常: %v", rec)
		}
	}()
	return fn(ctx, args)
}
