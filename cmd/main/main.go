package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/agent"
	"github.com/kailera/acertaia-api/internal/api"
	"github.com/kailera/acertaia-api/internal/cache"
	"github.com/kailera/acertaia-api/internal/config"
	"github.com/kailera/acertaia-api/internal/dlqworker"
	"github.com/kailera/acertaia-api/internal/evolution"
	"github.com/kailera/acertaia-api/internal/healthcheck"
	"github.com/kailera/acertaia-api/internal/ingestion"
	"github.com/kailera/acertaia-api/internal/ingress"
	"github.com/kailera/acertaia-api/internal/jetstream"
	"github.com/kailera/acertaia-api/internal/lock"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/observer"
	"github.com/kailera/acertaia-api/internal/storage"
	"github.com/kailera/acertaia-api/internal/usecase"
	"github.com/kailera/acertaia-api/pkg/logger"
	"github.com/kailera/acertaia-api/pkg/utils"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(logger.Options{
		Level:       cfg.LogLevel,
		Service:     "acertaia-api",
		Environment: cfg.Environment,
		Console:     cfg.Environment == "development",
	}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting acertaia API",
		zap.String("environment", cfg.Environment),
		zap.String("version", version),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
	)

	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.Database.Schema)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	bindingRepo := storage.NewBindingRepoAdapter(postgresRepo)
	messageRepo := storage.NewInboundMessageRepoAdapter(postgresRepo)
	agentRepo := storage.NewAgentRepoAdapter(postgresRepo)
	ownerRepo := storage.NewOwnerRepoAdapter(postgresRepo)
	exhaustedRepo := storage.NewExhaustedWebhookRepoAdapter(postgresRepo)

	health := healthcheck.NewChecker(version, logger.Log)
	health.Register("postgres", postgresRepo)

	var rdb *redis.Client
	var history agent.History
	var resolverOpts []usecase.ResolverOption
	if cfg.Redis.Enabled {
		rdb, err = initRedis(cfg.Redis.URL)
		if err != nil {
			logger.Log.Fatal("Failed to initialize Redis", zap.Error(err))
		}
		health.Register("redis", healthcheck.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
		history = agent.NewRedisHistory(rdb, cfg.Redis.HistorySize, cfg.Redis.HistoryTTL)
		if cfg.Redis.LockEnabled {
			resolverOpts = append(resolverOpts, usecase.WithLocker(lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, cfg.Redis.LockWait)))
		}
	}

	var jsClient *jetstream.Client
	if cfg.NATS.Enabled {
		jsClient, err = jetstream.NewClient(cfg.NATS.URL, "acertaia-api",
			jetstream.WithLogger(logger.Log.Named("nats")),
			jetstream.WithPublishTimeout(cfg.NATS.PublishTimeout),
			jetstream.WithReconnectWait(cfg.NATS.ReconnectWait),
		)
		if err != nil {
			logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
		}
		health.Register("nats", jsClient)

		publisher := jetstream.NewRoutingPublisher(jsClient, cfg.NATS.RoutingSubject)
		if err := jsClient.SetupStream(context.Background(), publisher.StreamConfig("routing_events", cfg.NATS.Webhook.MaxAge)); err != nil {
			logger.Log.Fatal("Failed to set up routing event stream", zap.Error(err))
		}
		resolverOpts = append(resolverOpts, usecase.WithEventPublisher(publisher))
	}

	llm := agent.NewLLMClient(cfg.Agent)
	factory := agent.NewFactory(agentRepo, llm, history, cfg.Agent.Model)
	resolver := usecase.NewResolver(bindingRepo, agentRepo, factory, cfg.Agent.Timeout, resolverOpts...)

	seen := cache.NewSeenMessageCache(
		cfg.Cache.SeenMessages.ExpectedItems,
		cfg.Cache.SeenMessages.FalsePositiveRate,
		cfg.Cache.SeenMessages.ResetInterval,
	)
	ingestor := ingress.NewAdapter(messageRepo, seen)
	sender := evolution.NewClient(cfg.Evolution.URL, cfg.Evolution.APIKey, cfg.Evolution.Timeout)

	deliveryWorker, err := usecase.NewDeliveryWorker(cfg.WorkerPools.Delivery, sender, messageRepo, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize delivery worker pool", zap.Error(err))
	}

	chatService := usecase.NewChatService(resolver, factory)
	webhookService := usecase.NewWebhookService(ingestor, ownerRepo, resolver, deliveryWorker)
	bindingService := usecase.NewBindingService(bindingRepo, agentRepo)
	instanceService := usecase.NewInstanceService(ownerRepo, messageRepo, sender)

	handler := api.NewHandler(chatService, webhookService, bindingService, instanceService)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(cfg, handler, health),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var consumer ingestion.ConsumerInterface
	var dlqWorker *dlqworker.Worker
	if jsClient != nil {
		router := ingestion.NewRouter()
		webhookHandler := ingestion.WebhookEventHandler(webhookService)
		router.Register(model.EventMessagesUpsert, webhookHandler)
		router.Register(model.EventSendMessage, webhookHandler)

		consumer = ingestion.NewWebhookConsumer(jsClient, router, cfg.NATS.Webhook, cfg.NATS.DLQSubject)
		if err := consumer.Setup(); err != nil {
			logger.Log.Fatal("Failed to set up webhook consumer", zap.Error(err))
		}
		if err := consumer.Start(); err != nil {
			logger.Log.Fatal("Failed to start webhook consumer", zap.Error(err))
		}

		if cfg.NATS.DLQ.Enabled {
			dlqWorker, err = dlqworker.NewWorker(cfg.NATS.DLQ, cfg.NATS.DLQSubject, logger.Log, jsClient, router, exhaustedRepo)
			if err != nil {
				logger.Log.Fatal("Failed to initialize DLQ worker", zap.Error(err))
			}
			go func() {
				if err := dlqWorker.Start(mainCtx); err != nil {
					logger.Log.Error("DLQ worker failed, initiating shutdown", zap.Error(err))
					select {
					case sigChan <- syscall.SIGTERM:
					default:
					}
				}
			}()
		}
	}

	go func() {
		logger.Log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("HTTP server failed, initiating shutdown", zap.Error(err))
			select {
			case sigChan <- syscall.SIGTERM:
			default:
			}
		}
	}()

	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))
	mainCancel()

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", shutdownTimeout))

	// HTTP first so no new turn is queued while the pools drain
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("[shutdown] Error stopping HTTP server", zap.Error(err))
	}

	var wg sync.WaitGroup
	stop := func(name string, fn func()) {
		wg.Add(1)
		utils.SafeGo(func() {
			defer wg.Done()
			logger.Log.Info("[shutdown] Stopping " + name)
			start := time.Now()
			fn()
			logger.Log.Info("[shutdown] Stopped "+name, zap.Duration("duration", time.Since(start)))
		}, func(r interface{}, stack []byte) {
			// the deferred Done above already ran while unwinding
			logger.Log.Error("[shutdown] Panic while stopping "+name,
				zap.Any("panic", r),
				zap.ByteString("stack", stack),
			)
		})
	}

	if consumer != nil {
		stop("webhook consumer", consumer.Stop)
	}
	if dlqWorker != nil {
		stop("DLQ worker", dlqWorker.Stop)
	}
	stop("delivery worker pool", deliveryWorker.Stop)

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] Workers stopped")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, closing connections anyway")
	}

	if jsClient != nil {
		jsClient.Close()
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logger.Log.Error("[shutdown] Failed to close Redis client", zap.Error(err))
		}
	}
	if err := postgresRepo.Close(shutdownCtx); err != nil {
		logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
	}

	logger.Log.Info("acertaia API shutdown complete")
}

func initPostgresRepo(dsn string, autoMigrate bool, schema string) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

func initRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Log.Info("Initialized Redis client")
	return rdb, nil
}
