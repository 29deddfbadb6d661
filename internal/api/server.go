package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ResearchMind/internal/auth"
	"ResearchMind/internal/observability/metrics"
	"ResearchMind/internal/task"

	"ResearchMind/internal/agent"
)

// Server 负责暴露 REST 接口，供外部提交与查询研究任务。
type Server struct {
	addr    string
	service *task.Service
	authn   *auth.Service
}

// Option 配置 Server 的可选项。
type Option func(*Server)

// WithAuth 启用请求认证。
func WithAuth(service *auth.Service) Option {
	return func(s *Server) {
		s.authn = service
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service *task.Service, opts ...Option) *Server {
	s := &Server{addr: addr, service: service}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tasks", s.instrument("tasks", s.handleTasks))
	mux.HandleFunc("/api/v1/tasks/stats", s.instrument("task_stats", s.handleTaskStats))
	mux.HandleFunc("/api/v1/tasks/", s.instrument("task_detail", s.handleTaskDetail))
	mux.HandleFunc("/healthz", s.handleHealth)

	var handler http.Handler = mux
	if s.authn != nil {
		middleware := s.authn.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{
				http.MethodPost: {"tasks:write"},
				http.MethodGet:  {"tasks:read"},
			},
		})
		handler = middleware(handler)
	}

	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleCreateTask 处理创建研究任务的请求。
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	// 解析请求体。
	var req agent.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	created, err := s.service.Submit(r.Context(), req)
	if err != nil {
		if task.IsTaskError(err, task.CodeTaskValidation) || strings.Contains(err.Error(), "任务目标不能为空") {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	results, err := s.service.List(r.Context(), opts...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}

// handleTaskDetail 查询单个任务的最新状态。
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	id = strings.TrimSpace(strings.Trim(id, "/"))
	if id == "" {
		http.Error(w, "缺少任务 ID", http.StatusBadRequest)
		return
	}

	result, err := s.service.Get(r.Context(), id)
	if err != nil {
		if task.IsTaskError(err, task.CodeTaskNotFound) {
			http.Error(w, "任务不存在", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// handleTaskStats 返回任务状态的聚合统计。
func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := s.service.Stats(r.Context(), opts...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func listOptionsFromQuery(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	opts := make([]task.ListOption, 0, 4)

	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, stdErrors.New("limit 参数无效")
		}
		opts = append(opts, task.WithLimit(parsed))
	}
	if raw := query.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return nil, stdErrors.New("offset 参数无效")
		}
		opts = append(opts, task.WithOffset(parsed))
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]task.Status, 0, 4)
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if status == "" {
				continue
			}
			if !task.IsValidStatus(status) {
				return nil, stdErrors.New("status 参数无效")
			}
			statuses = append(statuses, status)
		}
		if len(statuses) > 0 {
			opts = append(opts, task.WithStatuses(statuses...))
		}
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	if raw := query.Get("order"); raw != "" {
		switch raw {
		case "asc":
			opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
		case "desc":
			opts = append(opts, task.WithSortOrder(task.SortByUpdatedDesc))
		default:
			return nil, stdErrors.New("order 参数无效")
		}
	}
	return opts, nil
}

// instrument 为处理器记录请求指标。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	// 包装处理器以检查上下文状态。
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
