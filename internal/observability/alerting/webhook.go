package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpDoer 抽象 HTTP 客户端，便于测试替换。
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// DingTalkWebhook 通过钉钉机器人 webhook 发送文本消息。
type DingTalkWebhook struct {
	URL    string
	Client httpDoer
}

// Send 投递一条文本消息。
func (w *DingTalkWebhook) Send(ctx context.Context, content string) error {
	if w == nil || w.URL == "" {
		return errors.New("钉钉 webhook 地址未配置")
	}
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return w.post(ctx, w.URL, payload)
}

func (w *DingTalkWebhook) post(ctx context.Context, url string, payload any) error {
	client := w.Client
	if client == nil {
		client = defaultHTTPClient()
	}
	return postJSON(ctx, client, url, payload)
}

// SlackWebhook 通过 Slack incoming webhook 发送消息。
type SlackWebhook struct {
	URL    string
	Client httpDoer
}

// Send 向指定频道投递消息。
func (w *SlackWebhook) Send(ctx context.Context, channel, content string) error {
	if w == nil || w.URL == "" {
		return errors.New("Slack webhook 地址未配置")
	}
	payload := map[string]string{
		"channel": channel,
		"text":    content,
	}
	client := w.Client
	if client == nil {
		client = defaultHTTPClient()
	}
	return postJSON(ctx, client, w.URL, payload)
}

func postJSON(ctx context.Context, client httpDoer, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化告警消息失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警请求失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("告警请求返回异常状态码 %d", resp.StatusCode)
	}
	return nil
}
