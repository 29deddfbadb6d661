package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "ResearchMind/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (n *recordingNotifier) Channel() Channel { return n.channel }

func (n *recordingNotifier) Notify(_ context.Context, event Event) error {
	n.events = append(n.events, event)
	return n.err
}

func sampleEvent() Event {
	return Event{
		Code:       xerrors.Code("TASK_PROCESSING_FAILED"),
		Message:    "任务执行失败",
		Severity:   xerrors.SeverityCritical,
		TaskID:     "task-1",
		Attempts:   3,
		MaxRetries: 3,
		OccurredAt: time.Now(),
	}
}

func TestFanoutBroadcastsToAllChannels(t *testing.T) {
	dingtalk := &recordingNotifier{channel: ChannelDingTalk}
	slack := &recordingNotifier{channel: ChannelSlack}
	dispatcher := NewFanout(dingtalk, slack, nil)

	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(dingtalk.events) != 1 || len(slack.events) != 1 {
		t.Fatalf("expected both channels notified, got %d/%d", len(dingtalk.events), len(slack.events))
	}
	if dingtalk.events[0].TaskID != "task-1" {
		t.Fatalf("unexpected event: %+v", dingtalk.events[0])
	}
}

func TestFanoutJoinsChannelErrors(t *testing.T) {
	failing := &recordingNotifier{channel: ChannelEmail, err: context.DeadlineExceeded}
	healthy := &recordingNotifier{channel: ChannelSlack}
	dispatcher := NewFanout(failing, healthy)

	err := dispatcher.Notify(context.Background(), sampleEvent())
	if err == nil {
		t.Fatalf("expected joined error from failing channel")
	}
	if !strings.Contains(err.Error(), "channel email") {
		t.Fatalf("expected channel in error, got %v", err)
	}
	if len(healthy.events) != 1 {
		t.Fatalf("healthy channel should still be notified")
	}
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var dispatcher *FanoutDispatcher
	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("nil dispatcher should be a no-op, got %v", err)
	}
}

func TestDingTalkWebhookSendsText(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := &DingTalkWebhook{URL: server.URL, Client: server.Client()}
	if err := webhook.Send(context.Background(), "任务 task-1 终态失败"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if payload["msgtype"] != "text" {
		t.Fatalf("expected text message, got %v", payload)
	}
	text, _ := payload["text"].(map[string]any)
	if text["content"] != "任务 task-1 终态失败" {
		t.Fatalf("unexpected content: %v", payload)
	}
}

func TestSlackWebhookRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	webhook := &SlackWebhook{URL: server.URL, Client: server.Client()}
	err := webhook.Send(context.Background(), "#alerts", "告警内容")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestWebhookRequiresURL(t *testing.T) {
	if err := (&DingTalkWebhook{}).Send(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for missing dingtalk url")
	}
	if err := (&SlackWebhook{}).Send(context.Background(), "#alerts", "x"); err == nil {
		t.Fatalf("expected error for missing slack url")
	}
}
