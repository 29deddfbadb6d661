package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"ResearchMind/internal/agent"
	"ResearchMind/internal/api"
	"ResearchMind/internal/auth"
	"ResearchMind/internal/config"
	"ResearchMind/internal/knowledge"
	"ResearchMind/internal/llm"
	"ResearchMind/internal/llm/openai"
	"ResearchMind/internal/llm/pythonbridge"
	"ResearchMind/internal/observability/alerting"
	"ResearchMind/internal/observability/metrics"
	"ResearchMind/internal/reflection"
	"ResearchMind/internal/storage/mysql"
	"ResearchMind/internal/task"
	"ResearchMind/internal/tools"
	"ResearchMind/pkg/logger"
	"ResearchMind/pkg/plugin"
)

// main 是 ResearchMind 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("researchmindd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("RESEARCHMIND_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "researchmind.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		AddSource:   cfg.Logging.AddSource,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 初始化大模型客户端。
	oracle, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// 实验记录与提醒存储。
	var experimentRepo mysql.ExperimentRepository
	var reminderRepo mysql.ReminderRepository
	switch cfg.Storage.Research.Driver {
	case "", "memory":
		expRepo, err := mysql.NewMemoryExperimentRepository(dataDir)
		if err != nil {
			return err
		}
		remRepo, err := mysql.NewMemoryReminderRepository(dataDir)
		if err != nil {
			return err
		}
		experimentRepo, reminderRepo = expRepo, remRepo
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{DSN: cfg.Storage.Research.DSN})
		if err != nil {
			return err
		}
		defer db.Close()
		experimentRepo = mysql.NewSQLExperimentRepository(db)
		reminderRepo = mysql.NewSQLReminderRepository(db)
	default:
		return fmt.Errorf("未知的研究存储驱动: %s", cfg.Storage.Research.Driver)
	}

	var taskStore task.Store
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		taskStore = task.NewMemoryStore()
	case "mysql":
		store, err := task.NewMySQLStore(cfg.Storage.TaskStore.DSN)
		if err != nil {
			return err
		}
		taskStore = store
	default:
		return fmt.Errorf("未知的任务存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}
	defer func() {
		if taskStore != nil {
			_ = taskStore.Close()
		}
	}()

	var taskQueue task.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		taskQueue = task.NewMemoryQueue(cfg.Queue.Size)
	case "redis":
		queue, err := task.NewRedisQueue(task.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Address,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Redis.Queue,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    cfg.Queue.RabbitMQ.Queue,
			Prefetch: cfg.Queue.RabbitMQ.Prefetch,
			Durable:  cfg.Queue.RabbitMQ.Durable,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	defer func() {
		if taskQueue != nil {
			if err := taskQueue.Close(); err != nil {
				logger.L().Warn("关闭任务队列失败", slog.Any("error", err))
			}
		}
	}()

	// 工具注册表。
	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, tools.Deps{
		Experiments: experimentRepo,
		Reminders:   reminderRepo,
	})

	// 工具插件宿主,允许外部插件向注册表追加工具。
	if cfg.Plugins.Enabled {
		pluginCfg, err := plugin.LoadManagerConfig(cfg.Plugins.ConfigPath)
		if err != nil {
			return err
		}
		pluginManager, err := plugin.NewManager(pluginCfg,
			plugin.WithResource(plugin.ResourceToolRegistry, registry),
			plugin.WithResource(plugin.ResourceLogger, logger.Named("plugin")),
		)
		if err != nil {
			return err
		}
		if err := pluginManager.StartAll(ctx); err != nil {
			return err
		}
		defer func() {
			if err := pluginManager.StopAll(context.Background()); err != nil {
				logger.L().Warn("停止插件失败", slog.Any("error", err))
			}
		}()
	}

	agentOpts := []agent.Option{
		agent.WithOracleTimeout(time.Duration(cfg.Agent.OracleTimeoutSeconds) * time.Second),
	}
	if cfg.Agent.KnowledgePath != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Agent.KnowledgePath, 3)
		if err != nil {
			return err
		}
		agentOpts = append(agentOpts, agent.WithHintProvider(provider))
	}
	if cfg.Agent.PlanTemplatesPath != "" {
		templates, err := agent.LoadPlanTemplates(cfg.Agent.PlanTemplatesPath)
		if err != nil {
			return err
		}
		agentOpts = append(agentOpts, agent.WithPlanTemplates(templates))
	}

	ag := agent.New(oracle, registry, agentOpts...)
	loop := reflection.NewLoop(ag, oracle, reflection.WithMaxIterations(cfg.Agent.MaxReflections))

	taskService := task.NewService(taskStore, taskQueue, cfg.Agent.MaxRetries)
	processorOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.Agent.WorkerCount),
		task.WithProcessorLogger(logger.Named("processor")),
	}
	if dispatcher := buildAlertDispatcher(cfg.Alerting); dispatcher != nil {
		processorOpts = append(processorOpts, task.WithAlertDispatcher(dispatcher))
	}
	processor := task.NewProcessor(loop, taskStore, taskQueue, taskQueue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	apiOpts := []api.Option{}
	if cfg.Auth.Mode != auth.ModeDisabled {
		authService, err := auth.NewService(cfg.Auth)
		if err != nil {
			return err
		}
		apiOpts = append(apiOpts, api.WithAuth(authService))
	}

	server := api.NewServer(cfg.Server.Address, taskService, apiOpts...)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildAlertDispatcher 按配置装配告警渠道，没有可用渠道时返回 nil。
func buildAlertDispatcher(cfg config.AlertingConfig) *alerting.FanoutDispatcher {
	if !cfg.Enabled {
		return nil
	}
	var notifiers []alerting.Notifier
	if cfg.DingTalk.Webhook != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: &alerting.DingTalkWebhook{URL: cfg.DingTalk.Webhook},
		})
	}
	if cfg.Slack.Webhook != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhook{URL: cfg.Slack.Webhook},
			ChannelID: cfg.Slack.Channel,
		})
	}
	if len(notifiers) == 0 {
		logger.L().Warn("告警已启用但未配置任何渠道")
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "disabled":
		return llm.Disabled(), nil
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或环境变量 OPENAI_API_KEY")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
