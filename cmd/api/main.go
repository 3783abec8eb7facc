package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/student-support/internal/api/http"
	"github.com/spec-kit/student-support/internal/api/http/handlers"
	"github.com/spec-kit/student-support/internal/auth"
	"github.com/spec-kit/student-support/internal/config"
	"github.com/spec-kit/student-support/internal/events"
	"github.com/spec-kit/student-support/internal/observability"
	"github.com/spec-kit/student-support/internal/persistence"
	"github.com/spec-kit/student-support/internal/realtime"
	"github.com/spec-kit/student-support/internal/reply"
	"github.com/spec-kit/student-support/internal/repository"
	"github.com/spec-kit/student-support/internal/service"
	"github.com/spec-kit/student-support/internal/store"
	"github.com/spec-kit/student-support/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var storeOpts []store.Option
	var persister *repository.PostgresPersister
	if pg.Enabled() {
		persister = repository.NewPostgresPersister(pg.PoolHandle())
		if cfg.Realtime.RelayEnabled {
			// other instances write the same tables
			storeOpts = append(storeOpts, store.WithSharedPersister(persister))
		} else {
			storeOpts = append(storeOpts, store.WithPersister(persister))
		}
	}
	if cfg.Realtime.RelayEnabled && !pg.Enabled() {
		logger.Warn("realtime relay enabled without postgres; each instance keeps its own threads")
	}
	threadStore := store.New(storeOpts...)
	if persister != nil {
		if err := threadStore.Hydrate(ctx, persister); err != nil {
			logger.Fatal("failed to load threads", zap.Error(err))
		}
		logger.Info("thread store hydrated")
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	threadService := service.NewThreadService(service.ThreadDependencies{
		Store:      threadStore,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	service.NewNotificationService(dispatcher, logger).RegisterHandlers()

	registry := realtime.NewRegistry(cfg.Realtime.SendBuffer, metrics)
	bus := realtime.NewBus(registry, logger, metrics)
	bus.Register(dispatcher)

	if cfg.Realtime.RelayEnabled {
		if err := redis.Ping(ctx); err != nil {
			logger.Warn("realtime relay disabled; redis unavailable", zap.Error(err))
		} else {
			relay := realtime.NewRedisRelay(redis.Client, cfg.Realtime.RelayChannel, cfg.Realtime.InstanceID, bus, logger)
			if err := relay.Start(ctx); err != nil {
				logger.Warn("realtime relay disabled", zap.Error(err))
			} else {
				bus.SetRelay(relay)
				defer relay.Close() //nolint:errcheck
				logger.Info("realtime relay started", zap.String("channel", cfg.Realtime.RelayChannel), zap.String("instance_id", cfg.Realtime.InstanceID))
			}
		}
	}

	routing := worker.NewRoutingWorker(worker.Dependencies{
		Threads:   threadStore,
		Poster:    threadService,
		Generator: reply.NewGenerator(cfg.Reply, logger),
		Config:    cfg.Routing,
		Logger:    logger,
		Metrics:   metrics,
	})
	routing.Register(dispatcher)
	routing.Start(ctx)
	defer routing.Stop()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, registry.Count),
		Threads:        handlers.NewThreadsHandler(threadService),
		Departments:    handlers.NewDepartmentsHandler(service.NewDepartmentService(threadStore, logger)),
		Realtime:       handlers.NewRealtimeHandler(registry, threadService, logger),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
