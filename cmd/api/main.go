package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-service/internal/api/http"
	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/routing"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/worker"
	"github.com/spec-kit/helpdesk-service/internal/workflow"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations && pg.PoolHandle() != nil {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	defaults, err := workflow.LoadDefaults(cfg.Workflow.DefaultsPath)
	if err != nil {
		logger.Fatal("failed to load workflow defaults", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	policy := workflow.NewPolicy()
	workflow.RegisterStandardPredicates(policy)

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	staffRepo := repository.NewStaffRepository(pool)
	teamRepo := repository.NewTeamRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	messageRepo := repository.NewTicketMessageRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)
	workflowConfigRepo := repository.NewWorkflowConfigRepository(pool)
	configs := service.NewWorkflowConfigResolver(workflowConfigRepo, defaults)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:     userRepo,
		StaffRepo:    staffRepo,
		TokenManager: tokens,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  ticketRepo,
		MessageRepo: messageRepo,
		TeamRepo:    teamRepo,
		HistoryRepo: historyRepo,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	workflowService := service.NewWorkflowService(service.WorkflowDependencies{
		TicketRepo:  ticketRepo,
		MessageRepo: messageRepo,
		HistoryRepo: historyRepo,
		Configs:     configs,
		Policy:      policy,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo:  ticketRepo,
		StaffRepo:   staffRepo,
		TeamRepo:    teamRepo,
		HistoryRepo: historyRepo,
		Configs:     configs,
		Balancer:    routing.Balancer{StrictTeams: cfg.Routing.StrictTeams},
		Locker:      redis,
		LockTTL:     cfg.Routing.LockTTL(),
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	directoryService := service.NewDirectoryService(service.DirectoryDependencies{
		TeamRepo:  teamRepo,
		StaffRepo: staffRepo,
	})

	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, logger, cfg.Notification))

	if cfg.Broker.URL != "" {
		publisher, err := events.NewAMQPPublisher(ctx, events.AMQPOptions{
			URL:           cfg.Broker.URL,
			Exchange:      cfg.Broker.Exchange,
			RetryAttempts: cfg.Broker.RetryAttempts,
			RetryDelay:    cfg.Broker.RetryDelay(),
		}, logger)
		if err != nil {
			logger.Fatal("failed to connect broker", zap.Error(err))
		}
		defer publisher.Close() //nolint:errcheck
		events.Forward(dispatcher, publisher)
	}

	autoClose := worker.NewAutoCloseWorker(worker.AutoCloseOptions{
		Closer:   workflowService,
		Configs:  workflowConfigRepo,
		Defaults: defaults,
		Batch:    cfg.Workflow.AutoCloseBatch,
		Logger:   logger,
	})
	if err := autoClose.Start(cfg.Workflow.AutoCloseSchedule); err != nil {
		logger.Fatal("failed to schedule auto close", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Auth:         handlers.NewAuthHandler(authService),
		Tickets:      handlers.NewTicketsHandler(ticketService, workflowService),
		StaffTickets: handlers.NewStaffTicketsHandler(ticketService, workflowService),
		Assignments:  handlers.NewAssignmentHandler(assignmentService),
		Directory:    handlers.NewDirectoryHandler(directoryService),
		Authenticate: auth.NewAuthMiddleware(tokens, userRepo, staffRepo).Handle,
	})

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	autoClose.Stop(shutdownCtx)
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
