package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/helpdesk-kit/ticket-lifecycle/internal/api/http"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/auth"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/config"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/events"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/notify"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/observability"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/persistence"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/repository"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/service"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/worker"
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

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	commentRepo := repository.NewCommentRepository(pool)
	attachmentRepo := repository.NewAttachmentRepository(pool)
	directoryRepo := repository.NewDirectoryRepository(pool)

	bus := events.NewInMemoryDispatcher()

	resolver := notify.NewResolver(directoryRepo, logger)
	notifier := notify.NewDispatcher(
		resolver,
		notify.TextRenderer{},
		notify.NewLogMailer(logger),
		logger,
		metrics,
		cfg.Notification,
	)
	worker.StartNotificationWorker(notifier, bus)

	lifecycle := service.NewLifecycleService(service.LifecycleDependencies{
		TicketRepo:     ticketRepo,
		CommentRepo:    commentRepo,
		AttachmentRepo: attachmentRepo,
		DirectoryRepo:  directoryRepo,
		Dispatcher:     bus,
		Guard:          redis,
		Logger:         logger,
		Config:         cfg.Ticket,
	})

	authService := service.NewAuthService(cfg.Auth, directoryRepo)
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), directoryRepo)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(lifecycle, cfg.Ticket.UploadDir),
		Approvals:      handlers.NewApprovalHandler(lifecycle),
		AuthMiddleware: authMiddleware,
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
