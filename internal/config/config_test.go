package config

import (
	"os"
	"path/filepath"
	"testing"

	"ResearchMind/internal/auth"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "researchmind.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":8080" || cfg.Metrics.Address != ":9090" {
		t.Fatalf("unexpected addresses: %+v", cfg.Server)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Storage.TaskStore.Driver != "memory" || cfg.Queue.Driver != "memory" || cfg.Queue.Size != 256 {
		t.Fatalf("unexpected storage defaults: %+v %+v", cfg.Storage, cfg.Queue)
	}
	if cfg.LLM.Provider != "disabled" || cfg.LLM.OpenAI.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected llm defaults: %+v", cfg.LLM)
	}
	if cfg.Agent.MaxReflections != 2 || cfg.Agent.WorkerCount != 4 || cfg.Agent.MaxRetries != 3 {
		t.Fatalf("unexpected agent defaults: %+v", cfg.Agent)
	}
	if cfg.Auth.Mode != auth.ModeDisabled {
		t.Fatalf("unexpected auth mode: %s", cfg.Auth.Mode)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir: %s", cfg.Runtime.DataDir)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"agent": {
			"plan_templates_path": "plans.yaml",
			"knowledge_path": "knowledge.json"
		},
		"plugins": {"enabled": true, "config_path": "plugins.yaml"},
		"runtime": {"data_dir": "state"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.PlanTemplatesPath != filepath.Join(dir, "plans.yaml") {
		t.Fatalf("plan templates path not resolved: %s", cfg.Agent.PlanTemplatesPath)
	}
	if cfg.Agent.KnowledgePath != filepath.Join(dir, "knowledge.json") {
		t.Fatalf("knowledge path not resolved: %s", cfg.Agent.KnowledgePath)
	}
	if cfg.Plugins.ConfigPath != filepath.Join(dir, "plugins.yaml") {
		t.Fatalf("plugin config path not resolved: %s", cfg.Plugins.ConfigPath)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "state") {
		t.Fatalf("data dir not resolved: %s", cfg.Runtime.DataDir)
	}
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"server": {"address": ":9000"},
		"queue": {"driver": "redis", "redis": {"address": "127.0.0.1:6379", "queue": "custom:queue"}},
		"alerting": {"enabled": true, "dingtalk": {"webhook": "https://oapi.dingtalk.com/robot/send?access_token=x"}, "slack": {"webhook": "https://hooks.slack.com/services/x", "channel": "#research-alerts"}},
		"agent": {"max_reflections": 1, "worker_count": 16},
		"auth": {"mode": "apikey", "keys": [{"key": "secret", "name": "ci", "permissions": ["tasks:read"]}]}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("explicit address overridden: %s", cfg.Server.Address)
	}
	if cfg.Queue.Driver != "redis" || cfg.Queue.Redis.Queue != "custom:queue" {
		t.Fatalf("queue config lost: %+v", cfg.Queue)
	}
	if cfg.Agent.MaxReflections != 1 || cfg.Agent.WorkerCount != 16 {
		t.Fatalf("agent config lost: %+v", cfg.Agent)
	}
	if cfg.Auth.Mode != auth.ModeAPIKey || len(cfg.Auth.Keys) != 1 {
		t.Fatalf("auth config lost: %+v", cfg.Auth)
	}
	if !cfg.Alerting.Enabled || cfg.Alerting.DingTalk.Webhook == "" || cfg.Alerting.Slack.Channel != "#research-alerts" {
		t.Fatalf("alerting config lost: %+v", cfg.Alerting)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	dir := t.TempDir()
	path := writeConfig(t, dir, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}
