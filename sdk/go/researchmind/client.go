package researchmind

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ResearchMind REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// TaskSubmission represents the payload required to create a new task.
type TaskSubmission struct {
	ID      string         `json:"id,omitempty"`
	Goal    string         `json:"goal"`
	Context map[string]any `json:"context,omitempty"`
}

// ExecutionResult mirrors the final outcome summary stored on a task.
type ExecutionResult struct {
	TaskType     string  `json:"task_type"`
	FinalAnswer  string  `json:"final_answer"`
	Score        float64 `json:"score"`
	Passed       bool    `json:"passed"`
	Iterations   int     `json:"iterations"`
	Observations string  `json:"observations"`
}

// Task contains the server side view of a submitted task.
type Task struct {
	ID         string           `json:"id"`
	Goal       string           `json:"goal"`
	Context    map[string]any   `json:"context,omitempty"`
	Status     string           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

// TaskStats aggregates task counts by status.
type TaskStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListParams filters task listings.
type ListParams struct {
	Limit    int
	Offset   int
	Statuses []string
	Query    string
	Order    string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("researchmind api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ResearchMind API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey stores the API key sent with subsequent requests.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the currently stored API key.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// SubmitTask creates a new task and returns its queued state.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var created Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &created); err != nil {
		return Task{}, err
	}
	return created, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var detail Task
	endpoint := "/api/v1/tasks/" + url.PathEscape(taskID)
	if err := c.get(ctx, endpoint, &detail); err != nil {
		return Task{}, err
	}
	return detail, nil
}

// ListTasks returns recent tasks matching the provided filters.
func (c *Client) ListTasks(ctx context.Context, params ListParams) ([]Task, error) {
	endpoint := "/api/v1/tasks" + params.encode()
	var tasks []Task
	if err := c.get(ctx, endpoint, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Stats returns aggregated task counters.
func (c *Client) Stats(ctx context.Context, params ListParams) (TaskStats, error) {
	endpoint := "/api/v1/tasks/stats" + params.encode()
	var stats TaskStats
	if err := c.get(ctx, endpoint, &stats); err != nil {
		return TaskStats{}, err
	}
	return stats, nil
}

// WaitForCompletion polls the task until it reaches a terminal status.
func (c *Client) WaitForCompletion(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		detail, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if detail.Status == "succeeded" || detail.Status == "failed" {
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p ListParams) encode() string {
	values := url.Values{}
	if p.Limit > 0 {
		values.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		values.Set("offset", strconv.Itoa(p.Offset))
	}
	if len(p.Statuses) > 0 {
		values.Set("status", strings.Join(p.Statuses, ","))
	}
	if p.Query != "" {
		values.Set("q", p.Query)
	}
	if p.Order != "" {
		values.Set("order", p.Order)
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parts := strings.SplitN(endpoint, "?", 2)
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parts[0])}
	if len(parts) == 2 {
		rel.RawQuery = parts[1]
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if key := c.APIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		apiErr.Message = string(bytes.TrimSpace(data))
		return apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
