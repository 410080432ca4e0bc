package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-triage/internal/api/http"
	"github.com/spec-kit/ticket-triage/internal/api/http/handlers"
	"github.com/spec-kit/ticket-triage/internal/auth"
	"github.com/spec-kit/ticket-triage/internal/config"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/mail"
	"github.com/spec-kit/ticket-triage/internal/observability"
	"github.com/spec-kit/ticket-triage/internal/persistence"
	"github.com/spec-kit/ticket-triage/internal/repository"
	"github.com/spec-kit/ticket-triage/internal/service"
	"github.com/spec-kit/ticket-triage/internal/triage"
	"github.com/spec-kit/ticket-triage/internal/worker"
	"github.com/spec-kit/ticket-triage/internal/workflow"
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var (
		userRepo   repository.UserRepository
		ticketRepo repository.TicketRepository
	)
	if pg.Enabled() {
		userRepo = repository.NewUserRepository(pg.PoolHandle())
		ticketRepo = repository.NewTicketRepository(pg.PoolHandle())
	} else {
		userRepo = repository.NewMemoryUserRepository()
		ticketRepo = repository.NewMemoryTicketRepository()
	}

	dispatcher, err := newDispatcher(cfg, redis, logger)
	if err != nil {
		logger.Fatal("failed to init trigger queue", zap.Error(err))
	}

	authService := service.NewAuthService(service.AuthDependencies{
		Config:     cfg.Auth,
		UserRepo:   userRepo,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if cfg.Auth.BootstrapAdminEmail != "" {
		if _, err := authService.EnsureAdmin(ctx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPassword); err != nil {
			logger.Fatal("failed to bootstrap admin", zap.Error(err))
		}
	}
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: ticketRepo,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})
	assignmentService := service.NewAssignmentService(userRepo, logger)
	notificationService := service.NewNotificationService(mail.NewSender(cfg.Mail, logger), logger)

	engine := workflow.NewEngine(workflow.Dependencies{
		Tickets:    ticketRepo,
		Classifier: triage.NewClassifier(cfg.Classifier, logger),
		Assigner:   assignmentService,
		Notifier:   notificationService,
		Logger:     logger,
		Metrics:    metrics,
		MaxRetries: cfg.Workflow.MaxRetries,
		Backoff:    cfg.Workflow.RetryBackoff(),
	})
	worker.StartTriageWorker(dispatcher, engine, logger)
	worker.StartSignupWorker(dispatcher, notificationService, logger)
	if err := dispatcher.Start(ctx); err != nil {
		logger.Fatal("failed to start trigger consumers", zap.Error(err))
	}

	reconciler := worker.NewReconciler(ticketService, cfg.Workflow.ReconcileInterval(), cfg.Workflow.ReconcileGrace(), logger)
	go reconciler.Run(ctx)

	dependencies := map[string]handlers.Pinger{
		"postgres": pg,
		"redis":    redis,
	}
	if queue, ok := dispatcher.(handlers.Pinger); ok {
		dependencies["queue"] = queue
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, dependencies),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), userRepo),
		Gatherer:       registry,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	if err := dispatcher.Close(); err != nil {
		logger.Warn("trigger queue shutdown", zap.Error(err))
	}
}

func newDispatcher(cfg *config.Config, redis *persistence.Redis, logger *zap.Logger) (events.Dispatcher, error) {
	workers := cfg.Workflow.Workers
	switch cfg.Queue.Transport {
	case config.QueueTransportRedis:
		logger.Info("using redis trigger queue", zap.String("key", cfg.Queue.RedisKey))
		return events.NewRedisDispatcher(redis.Client, cfg.Queue.RedisKey, workers, logger), nil
	case config.QueueTransportAMQP:
		logger.Info("using amqp trigger queue", zap.String("exchange", cfg.Queue.AMQPExchange), zap.String("queue", cfg.Queue.AMQPQueue))
		return events.NewAMQPDispatcher(cfg.Queue.AMQPURL, cfg.Queue.AMQPExchange, cfg.Queue.AMQPQueue, workers, logger)
	default:
		logger.Info("using in-memory trigger queue")
		return events.NewInMemoryDispatcher(cfg.Queue.BufferSize, workers, logger), nil
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
