package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ResearchMind/internal/auth"
)

// Config 描述了 ResearchMind 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Metrics  MetricsConfig  `json:"metrics"`
	Logging  LoggingConfig  `json:"logging"`
	Alerting AlertingConfig `json:"alerting"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	LLM      LLMConfig      `json:"llm"`
	Agent    AgentConfig    `json:"agent"`
	Auth     auth.Config    `json:"auth"`
	Plugins  PluginsConfig  `json:"plugins"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// AlertingConfig 控制终态失败告警的派发渠道。
type AlertingConfig struct {
	Enabled  bool                `json:"enabled"`
	DingTalk DingTalkAlertConfig `json:"dingtalk"`
	Slack    SlackAlertConfig    `json:"slack"`
}

// DingTalkAlertConfig 描述钉钉机器人 webhook。
type DingTalkAlertConfig struct {
	Webhook string `json:"webhook"`
}

// SlackAlertConfig 描述 Slack incoming webhook 与目标频道。
type SlackAlertConfig struct {
	Webhook string `json:"webhook"`
	Channel string `json:"channel"`
}

// PluginsConfig 控制工具插件宿主是否启用以及插件清单位置。
type PluginsConfig struct {
	Enabled    bool   `json:"enabled"`
	ConfigPath string `json:"config_path"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// MetricsConfig 控制指标服务的暴露方式。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	AddSource   bool     `json:"add_source"`
	OutputPaths []string `json:"output_paths"`
	Audit       struct {
		Enabled    bool   `json:"enabled"`
		Path       string `json:"path"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
		MaxAgeDays int    `json:"max_age_days"`
	} `json:"audit"`
}

// StorageConfig 统一描述 MySQL 等后端的连接信息。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
	Research  ResearchConfig  `json:"research"`
}

// TaskStoreConfig 描述任务状态存储，支持内存与 MySQL 两种驱动。
type TaskStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// ResearchConfig 描述实验记录与提醒的存储方式。
type ResearchConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 描述任务队列的实现方式。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Size     int            `json:"size"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string             `json:"provider"`
	OpenAI   OpenAIConfig       `json:"openai"`
	Python   PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用参数。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	Enabled          bool   `json:"enabled"`
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// AgentConfig 控制智能体与反思循环的运行参数。
type AgentConfig struct {
	OracleTimeoutSeconds int    `json:"oracle_timeout_seconds"`
	MaxReflections       int    `json:"max_reflections"`
	PlanTemplatesPath    string `json:"plan_templates_path"`
	KnowledgePath        string `json:"knowledge_path"`
	WorkerCount          int    `json:"worker_count"`
	MaxRetries           int    `json:"max_retries"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.Research.Driver == "" {
		c.Storage.Research.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 256
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "disabled"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.LLM.Python.WorkingDir) {
		c.LLM.Python.WorkingDir = filepath.Join(baseDir, c.LLM.Python.WorkingDir)
	}

	if c.Agent.OracleTimeoutSeconds <= 0 {
		c.Agent.OracleTimeoutSeconds = 30
	}
	if c.Agent.MaxReflections < 0 {
		c.Agent.MaxReflections = 0
	} else if c.Agent.MaxReflections == 0 {
		c.Agent.MaxReflections = 2
	}
	if c.Agent.WorkerCount <= 0 {
		c.Agent.WorkerCount = 4
	}
	if c.Agent.MaxRetries <= 0 {
		c.Agent.MaxRetries = 3
	}
	if c.Agent.PlanTemplatesPath != "" && !filepath.IsAbs(c.Agent.PlanTemplatesPath) {
		c.Agent.PlanTemplatesPath = filepath.Join(baseDir, c.Agent.PlanTemplatesPath)
	}
	if c.Agent.KnowledgePath != "" && !filepath.IsAbs(c.Agent.KnowledgePath) {
		c.Agent.KnowledgePath = filepath.Join(baseDir, c.Agent.KnowledgePath)
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = auth.ModeDisabled
	}

	if c.Plugins.ConfigPath != "" && !filepath.IsAbs(c.Plugins.ConfigPath) {
		c.Plugins.ConfigPath = filepath.Join(baseDir, c.Plugins.ConfigPath)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
