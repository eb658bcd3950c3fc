package app

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"acquisition-service/ddd/domain/event"
	"acquisition-service/ddd/domain/gateway"
	"acquisition-service/ddd/domain/port"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/service"
	"acquisition-service/ddd/infrastructure/database/persistence"
	"acquisition-service/ddd/infrastructure/eventbridge"
	"acquisition-service/ddd/infrastructure/executor"
	"acquisition-service/ddd/infrastructure/memory"
	"acquisition-service/ddd/infrastructure/notify"
	"acquisition-service/ddd/infrastructure/provider"
	"acquisition-service/ddd/infrastructure/storage"
	"acquisition-service/internal/resource"
	"acquisition-service/pkg/backoff"
	"acquisition-service/pkg/config"
	"acquisition-service/pkg/kafka"
	"acquisition-service/pkg/logger"
)

// mustLoadConfig 加载配置并初始化全局日志
func mustLoadConfig(service string) (*config.Config, func()) {
	cfgPath := config.ResolvePath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("[ERROR] Failed to load config (%s): %v\n", cfgPath, err)
		os.Exit(1)
	}
	logService := logger.NewLogger(cfg)
	logger.SetGlobalLogger(logService)
	logger.Debug("Logger initialized", map[string]interface{}{
		"level":  cfg.Log.Level,
		"format": cfg.Log.Format,
		"output": cfg.Log.Output,
	})
	logger.Infof("%s starting config=%s", service, cfgPath)
	return cfg, logService.Close
}

// repositories 持久化仓储集合
type repositories struct {
	jobs      repo.JobRepository
	workers   repo.WorkerRepository
	templates repo.TemplateRepository
	execs     repo.ExecutionRepository
	encoders  repo.EncoderRepository
	assigns   repo.AssignmentRepository
	db        *gorm.DB
}

func (r *repositories) Close() {
	resource.CloseMySQL(r.db)
}

// openRepositories memory 驱动只在单进程内共享，多进程部署必须使用 mysql
func openRepositories(cfg config.DatabaseConfig) (*repositories, error) {
	if cfg.Driver == "memory" {
		logger.Warnf("Using in-memory store, state is lost on restart")
		store := memory.NewStore()
		return &repositories{
			jobs:      memory.NewJobRepository(store),
			workers:   memory.NewWorkerRepository(store),
			templates: memory.NewTemplateRepository(store),
			execs:     memory.NewExecutionRepository(store),
			encoders:  memory.NewEncoderRepository(store),
			assigns:   memory.NewAssignmentRepository(store),
		}, nil
	}

	db, err := resource.OpenMySQL(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := persistence.AutoMigrate(db); err != nil {
			resource.CloseMySQL(db)
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return &repositories{
		jobs:      persistence.NewJobRepository(db),
		workers:   persistence.NewWorkerRepository(db),
		templates: persistence.NewTemplateRepository(db),
		execs:     persistence.NewExecutionRepository(db),
		encoders:  persistence.NewEncoderRepository(db),
		assigns:   persistence.NewAssignmentRepository(db),
		db:        db,
	}, nil
}

func newJobQueue(cfg *config.Config, repos *repositories, bus *event.Bus) *service.JobQueueService {
	return service.NewJobQueueService(repos.jobs, repos.workers, bus,
		service.WithBackoff(backoff.NewBackoff(cfg.Queue.BackoffBase, cfg.Queue.BackoffMax, 2)),
		service.WithWorkerGrace(cfg.Queue.WorkerGrace),
		service.WithClaimBatch(cfg.Queue.ClaimBatch),
		service.WithDefaultMaxAttempts(cfg.Queue.DefaultMaxAttempts),
	)
}

// startEventBridge 启用时通过 Redis 在进程间转发事件
func startEventBridge(ctx context.Context, cfg *config.Config, bus *event.Bus) (func(), error) {
	if !cfg.EventBridge.Enabled {
		return func() {}, nil
	}
	redisRes, err := resource.NewRedisResource(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	bridgeCtx, cancel := context.WithCancel(ctx)
	bridge := eventbridge.NewRedisBridge(redisRes.Client(), bus, cfg.EventBridge.Channel)
	bridge.Start(bridgeCtx)
	return func() {
		cancel()
		bridge.Wait()
		redisRes.Close()
	}, nil
}

// stepExecutors 按 worker.job_types 构建非 ENCODE 步骤的执行器
type stepExecutors struct {
	list   []port.StepExecutor
	direct *provider.DirectDownloadClient
}

func (s *stepExecutors) Close() {
	if s.direct != nil {
		s.direct.Abort()
	}
}

// newStepExecutors kafkaClient 为 nil 时通知只写日志
func newStepExecutors(ctx context.Context, cfg *config.Config, kafkaClient *kafka.Client) (*stepExecutors, error) {
	enabled := make(map[string]bool, len(cfg.Worker.JobTypes))
	for _, t := range cfg.Worker.JobTypes {
		enabled[t] = true
	}
	out := &stepExecutors{}

	if enabled["SEARCH"] {
		out.list = append(out.list, executor.NewSearchExecutor(
			provider.NewSearchClient(cfg.Search.BaseURL, cfg.Search.APIKey, cfg.Search.Timeout),
			cfg.Search.DefaultLimit,
		))
	}

	if enabled["DOWNLOAD"] {
		var client gateway.DownloadClient
		if cfg.Download.BaseURL != "" {
			// 下载服务的 HTTP 调用沿用 search 的超时
			client = provider.NewRemoteDownloadClient(cfg.Download.BaseURL, cfg.Download.APIKey, cfg.Search.Timeout)
		} else {
			out.direct = provider.NewDirectDownloadClient(cfg.Download.Dir)
			client = out.direct
		}
		out.list = append(out.list, executor.NewDownloadExecutor(client, cfg.Download.PollInterval, cfg.Download.Timeout))
	}

	if enabled["DELIVER"] {
		var delivery gateway.DeliveryGateway
		if cfg.Minio.Enabled {
			minioRes, err := resource.NewMinioResource(ctx, cfg.Minio)
			if err != nil {
				out.Close()
				return nil, err
			}
			delivery = storage.NewMinioStorage(minioRes)
		} else {
			delivery = storage.NewLocalStorage(cfg.Delivery.LocalDir)
		}
		out.list = append(out.list, executor.NewDeliverExecutor(delivery, cfg.Delivery.KeyPrefix))
	}

	if enabled["NOTIFICATION"] {
		var notifier gateway.Notifier = notify.LogNotifier{}
		if kafkaClient != nil {
			notifier = notify.NewKafkaNotifier(kafkaClient, cfg.Kafka.Topics.Notifications)
		}
		out.list = append(out.list, executor.NewNotificationExecutor(notifier))
	}
	return out, nil
}
