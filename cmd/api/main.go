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

	"github.com/spec-kit/crm-service/internal/ai"
	httptransport "github.com/spec-kit/crm-service/internal/api/http"
	"github.com/spec-kit/crm-service/internal/api/http/handlers"
	"github.com/spec-kit/crm-service/internal/auth"
	"github.com/spec-kit/crm-service/internal/channels"
	"github.com/spec-kit/crm-service/internal/config"
	"github.com/spec-kit/crm-service/internal/events"
	"github.com/spec-kit/crm-service/internal/observability"
	"github.com/spec-kit/crm-service/internal/persistence"
	"github.com/spec-kit/crm-service/internal/repository"
	"github.com/spec-kit/crm-service/internal/repository/memory"
	"github.com/spec-kit/crm-service/internal/service"
	"github.com/spec-kit/crm-service/internal/worker"
	"github.com/spec-kit/crm-service/migrations"
)

// repositories is the Store the services run on.
type repositories struct {
	customers     repository.CustomerRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	cases         repository.CaseRepository
	activities    repository.ActivityRepository
	operators     repository.OperatorRepository
	mode          string
}

func openRepositories(pg *persistence.Postgres) repositories {
	if !pg.Enabled() {
		store := memory.New()
		return repositories{
			customers:     store.Customers,
			conversations: store.Conversations,
			messages:      store.Messages,
			cases:         store.Cases,
			activities:    store.Activities,
			operators:     store.Operators,
			mode:          "memory",
		}
	}
	pool := pg.PoolHandle()
	return repositories{
		customers:     repository.NewCustomerRepository(pool),
		conversations: repository.NewConversationRepository(pool),
		messages:      repository.NewMessageRepository(pool),
		cases:         repository.NewCaseRepository(pool),
		activities:    repository.NewActivityRepository(pool),
		operators:     repository.NewOperatorRepository(pool),
		mode:          "postgres",
	}
}

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

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), migrations.Files, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	repos := openRepositories(pg)
	logger.Info("store selected", zap.String("mode", repos.mode))

	dispatcher := events.NewAsyncDispatcher(events.NewInMemoryDispatcher(logger), cfg.Worker.EventQueueSize, logger)
	if cfg.NATS.URL != "" {
		sink, err := events.NewNATSSink(ctx, cfg.NATS, logger)
		if err != nil {
			logger.Warn("nats audit sink unavailable; logging audit events", zap.Error(err))
			events.AttachAuditSink(dispatcher, events.NewLogSink(logger))
		} else {
			defer sink.Close()
			events.AttachAuditSink(dispatcher, sink)
		}
	} else {
		events.AttachAuditSink(dispatcher, events.NewLogSink(logger))
	}

	emailSender := channels.NewLogEmailSender(logger)
	whatsappSender := channels.NewLogWhatsAppSender(logger)

	activities := service.NewActivityRecorder(service.ActivityDependencies{
		ActivityRepo: repos.activities,
		Dispatcher:   dispatcher,
		Logger:       logger,
	})
	customers := service.NewCustomerResolver(service.CustomerDependencies{
		CustomerRepo: repos.customers,
		Logger:       logger,
	})
	conversations := service.NewConversationService(service.ConversationDependencies{
		ConversationRepo: repos.conversations,
		MessageRepo:      repos.messages,
		Customers:        customers,
		Activities:       activities,
		Logger:           logger,
	})
	outbound := service.NewOutboundDispatcher(service.DispatcherDependencies{
		ConversationRepo: repos.conversations,
		MessageRepo:      repos.messages,
		Email:            emailSender,
		WhatsApp:         whatsappSender,
		Activities:       activities,
		Logger:           logger,
		EmailFrom:        cfg.Channels.EmailFrom,
		SendTimeout:      cfg.Channels.SendTimeout(),
		WhatsAppWindow:   cfg.Channels.WhatsAppWindow(),
	})
	cases := service.NewCaseService(service.CaseDependencies{
		CaseRepo:      repos.cases,
		Conversations: conversations,
		Customers:     customers,
		Activities:    activities,
		Logger:        logger,
	})
	drafts := service.NewDraftService(conversations, ai.NewGenerator(cfg.AI), logger)

	authService := service.NewAuthService(cfg.Auth, repos.operators, logger)
	if err := authService.Bootstrap(ctx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPass); err != nil {
		logger.Fatal("failed to bootstrap admin", zap.Error(err))
	}
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), repos.operators)

	notifications := service.NewNotificationService(dispatcher, emailSender, logger, cfg.Channels.EmailFrom, cfg.Channels.NotifyEmail)
	worker.StartNotificationWorker(notifications)

	sweeper := worker.NewSnoozeWorker(conversations, redis, cfg.Worker.SnoozeSweepInterval(), cfg.Worker.LockTTL(), logger)
	go sweeper.Run(ctx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger),
	})
	httptransport.RegisterMiddlewares(app, logger, cfg.App.RequestTimeout())

	deps := map[string]handlers.Pinger{"redis": redis}
	if pg.Enabled() {
		deps["postgres"] = pg
	}
	if redis.Client == nil {
		deps["redis"] = nil
	}

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, repos.mode, deps),
		Auth:           handlers.NewAuthHandler(authService),
		Conversations:  handlers.NewConversationsHandler(conversations, outbound, drafts),
		Cases:          handlers.NewCasesHandler(cases),
		Customers:      handlers.NewCustomersHandler(customers, activities),
		Webhooks:       handlers.NewWebhooksHandler(conversations, cfg.Channels.WebhookSecret),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Warn("event delivery shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
