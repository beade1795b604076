package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codesandbox/internal/common/cache"
	"codesandbox/internal/common/db"
	commonmw "codesandbox/internal/common/http/middleware"
	"codesandbox/internal/common/mq"
	"codesandbox/internal/common/storage"
	"codesandbox/internal/controller"
	"codesandbox/internal/repository"
	"codesandbox/internal/sandbox"
	"codesandbox/internal/sandbox/backend"
	"codesandbox/internal/sandbox/backend/container"
	"codesandbox/internal/sandbox/backend/native"
	"codesandbox/internal/sandbox/config"
	"codesandbox/internal/sandbox/observer"
	"codesandbox/internal/sandbox/selector"
	"codesandbox/internal/service"
	"codesandbox/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/sandbox_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "sandbox service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()
	var closers []func() error
	readiness := map[string]func(context.Context) error{}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()

	langRepo := config.NewLocalRepository(appCfg.Language.Languages)
	logger.Info(ctx, "languages loaded", zap.Strings("languages", langRepo.IDs()))

	sandboxBackend, mode, err := selector.Select(ctx, appCfg.Sandbox.Mode, selector.Factories{
		Native: func(context.Context) (backend.Backend, error) {
			return native.New(appCfg.Sandbox.nativeConfig())
		},
		Docker: func(ctx context.Context) (backend.Backend, error) {
			rt, err := container.NewDockerRuntime(ctx, appCfg.Sandbox.dockerRuntimeConfig())
			if err != nil {
				return nil, err
			}
			closers = append(closers, rt.Close)
			return container.New(appCfg.Sandbox.containerConfig(), rt)
		},
	})
	if err != nil {
		return err
	}

	orchestrator := sandbox.NewOrchestrator(sandboxBackend, langRepo, appCfg.Sandbox.orchestratorConfig())

	registry := prometheus.NewRegistry()
	var recorder observer.Recorder = observer.Noop{}
	if appCfg.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder = observer.NewPrometheusRecorder(registry)
	}
	orchestrator.SetRecorder(recorder)

	var statusStore service.StatusStore
	if appCfg.Status.Enabled {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		closers = append(closers, redisCache.Close)
		readiness["redis"] = redisCache.Ping
		statusStore = repository.NewStatusRepository(redisCache, appCfg.Status.TTL)
	}

	var publisher repository.ReportEventPublisher
	if appCfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		closers = append(closers, producer.Close)
		publisher = repository.NewMQReportEventPublisher(producer, appCfg.Kafka.FinalTopic)
	}

	var archive repository.ReportArchive
	if appCfg.Archive.Enabled {
		minioCfg := appCfg.Archive.MinIO
		objectStore, err := storage.NewMinIOStorage(minioCfg)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
		if err := objectStore.EnsureBucket(ctx, minioCfg.Bucket, minioCfg.Region); err != nil {
			return fmt.Errorf("init archive bucket failed: %w", err)
		}
		archive = repository.NewObjectReportArchive(objectStore, minioCfg.Bucket, appCfg.Archive.Prefix)
	}

	var history service.HistoryStore
	if appCfg.History.Enabled {
		mysqlDB, err := db.NewMySQLWithConfig(&appCfg.History.MySQL)
		if err != nil {
			return fmt.Errorf("init mysql failed: %w", err)
		}
		closers = append(closers, mysqlDB.Close)
		readiness["mysql"] = mysqlDB.Ping
		historyRepo := repository.NewHistoryRepository(mysqlDB)
		if appCfg.History.Migrate {
			if err := historyRepo.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		history = historyRepo
	}

	judgeSvc, err := service.NewService(service.Config{
		Judger:         orchestrator,
		Languages:      langRepo,
		StatusStore:    statusStore,
		Publisher:      publisher,
		Archive:        archive,
		History:        history,
		Recorder:       recorder,
		WorkerPoolSize: appCfg.Worker.PoolSize,
		AcquireTimeout: appCfg.Worker.AcquireTimeout,
		JudgeTimeout:   appCfg.Worker.Timeout,
		StatusTimeout:  appCfg.Status.Timeout,
		PublishTimeout: appCfg.Kafka.PublishTimeout,
		MaxSourceBytes: appCfg.Worker.MaxSourceBytes,
		MaxTests:       appCfg.Worker.MaxTests,
	})
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}
	orchestrator.SetStatusReporter(judgeSvc)

	httpServer := buildHTTPServer(appCfg, judgeSvc, registry, readiness)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "sandbox http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("mode", string(mode)),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server stopped: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	// In-flight judges finish or are cancelled by their request contexts.
	stopCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(stopCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}

func buildHTTPServer(appCfg *AppConfig, judgeSvc controller.JudgeService, registry *prometheus.Registry, readiness map[string]func(context.Context) error) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContext())
	router.Use(commonmw.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		failed := gin.H{}
		for name, check := range readiness {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if appCfg.Metrics.Enabled {
		router.GET(appCfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	controller.NewSandboxController(judgeSvc).RegisterRoutes(router)

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}
