package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"

	"acquisition-service/ddd/adapter/component"
	grpcadapter "acquisition-service/ddd/adapter/grpc"
	httpadapter "acquisition-service/ddd/adapter/http"
	"acquisition-service/ddd/application/app"
	"acquisition-service/ddd/domain/event"
	"acquisition-service/ddd/domain/port"
	"acquisition-service/ddd/domain/service"
	"acquisition-service/ddd/infrastructure/executor"
	"acquisition-service/ddd/infrastructure/worker"
	"acquisition-service/pkg/config"
	"acquisition-service/pkg/kafka"
	"acquisition-service/pkg/logger"
	"acquisition-service/pkg/observability"
	"acquisition-service/pkg/registry"
	"acquisition-service/pkg/task"
	"acquisition-service/proto/encoderpb"
)

const serviceName = "acquisition-service"

// Run 启动调度服务：HTTP API、编码会话 gRPC、后台维护任务，按配置内嵌步骤工作器
func Run() {
	fmt.Println("[STARTUP] Starting acquisition service...")
	cfg, closeLog := mustLoadConfig("Acquisition service")
	defer closeLog()
	fmt.Println("[STARTUP] Config and logger initialized")

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	stopProfiling := observability.StartProfiling(cfg.Profiling, serviceName)
	defer stopProfiling()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 存储
	logger.Infof("Opening store driver=%s", cfg.Database.Driver)
	repos, err := openRepositories(cfg.Database)
	if err != nil {
		logger.Fatal(fmt.Sprintf("Failed to open store error=%v", err))
	}
	defer repos.Close()

	bus := event.NewBus()
	stopBridge, err := startEventBridge(ctx, cfg, bus)
	if err != nil {
		logger.Fatal(fmt.Sprintf("Failed to start event bridge error=%v", err))
	}

	// 领域服务
	queue := newJobQueue(cfg, repos, bus)
	workers := service.NewWorkerService(repos.workers, repos.jobs, nil)
	dispatch := service.NewDispatchService(repos.encoders, repos.assigns, bus,
		service.WithLiveness(cfg.Dispatch.HeartbeatInterval, cfg.Dispatch.MissFactor),
		service.WithAssignmentMaxAttempts(cfg.Dispatch.DefaultMaxAttempts),
	)
	pipeline := service.NewPipelineService(repos.templates, repos.execs, queue, bus)
	defer pipeline.Close()

	if err := pipeline.Reconcile(ctx); err != nil {
		logger.Warnf("Initial pipeline reconcile failed error=%v", err)
	}

	jobApp := app.NewJobApp(queue, workers, cfg.Queue.RetentionDays)
	pipelineApp := app.NewPipelineApp(pipeline)
	encoderApp := app.NewEncoderApp(dispatch)

	var kafkaClient *kafka.Client
	if cfg.Kafka.Enabled {
		kafkaClient = kafka.NewClient(cfg.Kafka)
		defer kafkaClient.Close()
	}

	// 后台任务
	tasks := task.NewManager()
	registerMaintenance(tasks, cfg, queue, pipeline, bus)
	if cfg.Dispatch.Enabled {
		tasks.Register(task.NewPeriodic("encoderLiveness", cfg.Dispatch.LivenessInterval, func(ctx context.Context) {
			if n, err := dispatch.CheckLiveness(ctx); err != nil {
				logger.Warnf("Encoder liveness check failed error=%v", err)
			} else if n > 0 {
				logger.Infof("Encoders marked offline count=%d", n)
			}
		}))
		tasks.Register(worker.NewJobWorker(queue, workers,
			[]port.StepExecutor{executor.NewEncodeExecutor(dispatch, cfg.Worker.CancelCheckInterval)},
			worker.Options{
				Name:                "encodeWorker",
				Hostname:            cfg.Worker.Hostname,
				Concurrency:         cfg.Dispatch.MaxInFlight,
				PollInterval:        cfg.Dispatch.ClaimInterval,
				HeartbeatInterval:   cfg.Worker.HeartbeatInterval,
				CancelCheckInterval: cfg.Worker.CancelCheckInterval,
				ShutdownGracePeriod: cfg.Worker.ShutdownGracePeriod,
				ProgressInterval:    cfg.Worker.ProgressInterval,
			}))
	}
	if cfg.Worker.Enabled {
		steps, err := newStepExecutors(ctx, cfg, kafkaClient)
		if err != nil {
			logger.Fatal(fmt.Sprintf("Failed to build step executors error=%v", err))
		}
		defer steps.Close()
		tasks.Register(newStepWorker(cfg, queue, workers, steps))
	}
	if kafkaClient != nil && cfg.Kafka.Topics.MediaRequests != "" {
		reader := kafkaClient.Reader(cfg.Kafka.Topics.MediaRequests, cfg.Kafka.GroupID)
		tasks.Register(component.NewMediaRequestConsumer(reader, pipelineApp, component.ConsumerOptions{
			CommitOnDecodeError:  cfg.Kafka.CommitOnDecodeError,
			CommitOnProcessError: cfg.Kafka.CommitOnProcessError,
		}))
	}
	if err := tasks.StartAll(ctx); err != nil {
		logger.Fatal(fmt.Sprintf("Failed to start background tasks error=%v", err))
	}

	// 编码节点会话 gRPC
	grpcAddr := cfg.GRPCServer.GRPCAddr()
	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Fatal(fmt.Sprintf("Failed to listen on gRPC port address=%s error=%v", grpcAddr, err))
	}
	grpcServer := grpc.NewServer()
	encoderpb.RegisterEncoderSessionServer(grpcServer, grpcadapter.NewEncoderSessionServer(dispatch))
	go func() {
		logger.Infof("gRPC server started address=%s service=%s", grpcAddr, serviceName)
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Errorf("gRPC server encountered an error error=%v", err)
		}
	}()

	var serviceRegistry *registry.ServiceRegistry
	if cfg.ServiceRegistry.Enabled {
		client, err := registry.NewEtcdClient(cfg.Etcd)
		if err != nil {
			logger.Fatal(fmt.Sprintf("Failed to connect etcd error=%v", err))
		}
		defer client.Close()
		registerAddr := fmt.Sprintf("%s:%d", cfg.ServiceRegistry.RegisterHost, cfg.GRPCServer.Port)
		serviceRegistry = registry.NewServiceRegistry(client, cfg.ServiceRegistry, registerAddr)
		if err := serviceRegistry.Register(); err != nil {
			logger.Fatal(fmt.Sprintf("Failed to register service error=%v", err))
		}
	}

	// HTTP
	engine := gin.New()
	router := httpadapter.NewRouter(jobApp, pipelineApp, encoderApp, bus, cfg.JWT)
	router.SetupMiddleware(engine)
	router.SetupRoutes(engine)

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         httpAddr,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(fmt.Sprintf("Failed to start HTTP server error=%v", err))
		}
	}()
	logger.Infof("HTTP server started address=%s service=%s health_url=%s", httpAddr, serviceName, fmt.Sprintf("http://%s/health", httpAddr))

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("Received shutdown signal, shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server forced to close error=%v", err)
	}

	if serviceRegistry != nil {
		serviceRegistry.Deregister()
	}
	stopGRPC(grpcServer, 5*time.Second)

	logger.Infof("Stopping background tasks...")
	tasks.StopAll()
	cancel()
	stopBridge()

	logger.Infof("Server exited safely")
	fmt.Println("[SHUTDOWN] Acquisition service exited safely")
}

// RunWorker 独立步骤工作器进程：只领取并执行非 ENCODE 步骤
func RunWorker() {
	fmt.Println("[STARTUP] Starting acquisition worker...")
	cfg, closeLog := mustLoadConfig("Acquisition worker")
	defer closeLog()

	stopProfiling := observability.StartProfiling(cfg.Profiling, serviceName+"-worker")
	defer stopProfiling()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.Driver == "memory" {
		logger.Warnf("Standalone worker with in-memory store only sees its own jobs")
	}
	repos, err := openRepositories(cfg.Database)
	if err != nil {
		logger.Fatal(fmt.Sprintf("Failed to open store error=%v", err))
	}
	defer repos.Close()

	bus := event.NewBus()
	stopBridge, err := startEventBridge(ctx, cfg, bus)
	if err != nil {
		logger.Fatal(fmt.Sprintf("Failed to start event bridge error=%v", err))
	}
	defer stopBridge()

	var kafkaClient *kafka.Client
	if cfg.Kafka.Enabled {
		kafkaClient = kafka.NewClient(cfg.Kafka)
		defer kafkaClient.Close()
	}
	steps, err := newStepExecutors(ctx, cfg, kafkaClient)
	if err != nil {
		logger.Fatal(fmt.Sprintf("Failed to build step executors error=%v", err))
	}
	defer steps.Close()

	queue := newJobQueue(cfg, repos, bus)
	workers := service.NewWorkerService(repos.workers, repos.jobs, nil)
	jobWorker := newStepWorker(cfg, queue, workers, steps)
	if err := jobWorker.Start(ctx); err != nil {
		logger.Fatal(fmt.Sprintf("Failed to start worker error=%v", err))
	}
	logger.Infof("Worker started worker_id=%s concurrency=%d types=%v", jobWorker.WorkerID(), cfg.Worker.Concurrency, cfg.Worker.JobTypes)

	<-ctx.Done()
	logger.Infof("Received shutdown signal, stopping worker...")
	if err := jobWorker.Stop(); err != nil {
		logger.Warnf("Worker stop failed error=%v", err)
	}
	stats := jobWorker.GetStats()
	logger.Infof("Worker exited processed=%d succeeded=%d failed=%d", stats.ProcessedJobs, stats.SuccessfulJobs, stats.FailedJobs)
	fmt.Println("[SHUTDOWN] Acquisition worker exited safely")
}

func newStepWorker(cfg *config.Config, queue *service.JobQueueService, workers *service.WorkerService, steps *stepExecutors) worker.JobWorker {
	return worker.NewJobWorker(queue, workers, steps.list, worker.Options{
		Name:                "stepWorker",
		Hostname:            cfg.Worker.Hostname,
		Concurrency:         cfg.Worker.Concurrency,
		PollInterval:        cfg.Worker.PollInterval,
		HeartbeatInterval:   cfg.Worker.HeartbeatInterval,
		CancelCheckInterval: cfg.Worker.CancelCheckInterval,
		ShutdownGracePeriod: cfg.Worker.ShutdownGracePeriod,
		ProgressInterval:    cfg.Worker.ProgressInterval,
	})
}

// registerMaintenance 回收过期租约、清理历史任务、流水线对账与终态事件消费
func registerMaintenance(tasks *task.Manager, cfg *config.Config, queue *service.JobQueueService, pipeline *service.PipelineService, bus *event.Bus) {
	tasks.Register(task.NewPeriodic("staleJobReaper", cfg.Queue.ReaperInterval, func(ctx context.Context) {
		if n, err := queue.ReapStale(ctx); err != nil {
			logger.Warnf("Stale job reap failed error=%v", err)
		} else if n > 0 {
			logger.Infof("Stale jobs reclaimed count=%d", n)
		}
	}))
	tasks.Register(task.NewPeriodic("jobCleanup", cfg.Queue.CleanupInterval, func(ctx context.Context) {
		if n, err := queue.Cleanup(ctx, cfg.Queue.RetentionDays); err != nil {
			logger.Warnf("Job cleanup failed error=%v", err)
		} else if n > 0 {
			logger.Infof("Old jobs removed count=%d retention_days=%d", n, cfg.Queue.RetentionDays)
		}
	}))
	tasks.Register(task.NewPeriodic("pipelineReconcile", cfg.Pipeline.ReconcileInterval, func(ctx context.Context) {
		if err := pipeline.Reconcile(ctx); err != nil {
			logger.Warnf("Pipeline reconcile failed error=%v", err)
		}
	}))

	var (
		unsubscribe func()
		done        chan struct{}
	)
	tasks.Register(&task.FuncTask{
		TaskName: "pipelineEvents",
		StartFunc: func(ctx context.Context) error {
			ch, cancel := bus.Subscribe(func(e event.Event) bool { return e.IsJobTerminal() }, 1024)
			unsubscribe = cancel
			done = make(chan struct{})
			go func() {
				defer close(done)
				pipeline.ConsumeEvents(ctx, ch)
			}()
			return nil
		},
		StopFunc: func() error {
			if unsubscribe != nil {
				unsubscribe()
				<-done
			}
			return nil
		},
	})
}

// stopGRPC 会话是双向流，GracefulStop 会一直等待，超时后强制关闭
func stopGRPC(s *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warnf("gRPC graceful stop timed out, forcing")
		s.Stop()
	}
}
