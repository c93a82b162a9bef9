package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/travel-workflow/internal/api/http"
	"github.com/spec-kit/travel-workflow/internal/api/http/handlers"
	"github.com/spec-kit/travel-workflow/internal/auth"
	"github.com/spec-kit/travel-workflow/internal/config"
	"github.com/spec-kit/travel-workflow/internal/domain"
	"github.com/spec-kit/travel-workflow/internal/events"
	"github.com/spec-kit/travel-workflow/internal/notify"
	"github.com/spec-kit/travel-workflow/internal/observability"
	"github.com/spec-kit/travel-workflow/internal/persistence"
	"github.com/spec-kit/travel-workflow/internal/repository"
	"github.com/spec-kit/travel-workflow/internal/service"
	"github.com/spec-kit/travel-workflow/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:          "travel-workflow",
	Short:        "Approval routing for travel and expense requests",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the notification worker",
	RunE: func(_ *cobra.Command, _ []string) error {
		return serve()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		pg, err := persistence.NewPostgres(cmd.Context(), cfg.Postgres, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		return persistence.RunMigrations(cmd.Context(), pg.Pool, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func serve() error {
	cfg, logger, err := bootstrap()
	if err != nil {
		log.Printf("startup failed: %v", err)
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect postgres", zap.Error(err))
		return err
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, logger); err != nil {
			logger.Error("failed to run migrations", zap.Error(err))
			return err
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.Pool
	requestRepo := repository.NewRequestRepository(pool)
	historyRepo := repository.NewHistoryRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	departmentRepo := repository.NewDepartmentRepository(pool)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	sink := notify.NewStreamSink(redis.Client, cfg.Notification.Stream, cfg.Notification.StreamMax)
	service.NewNotificationService(dispatcher, sink, logger).RegisterHandlers()

	availability := service.NewAvailabilityChecker(requestRepo)
	engine := service.NewTransitionEngine(cfg.Workflow, service.TransitionDependencies{
		TxManager:      repository.NewTxManager(pool),
		RequestRepo:    requestRepo,
		HistoryRepo:    historyRepo,
		UserRepo:       userRepo,
		DepartmentRepo: departmentRepo,
		Resolver:       service.NewApproverResolver(userRepo, domain.Role(cfg.Workflow.DefaultNextRole), logger),
		Availability:   availability,
		Dispatcher:     dispatcher,
		Guard:          notify.NewRedisGuard(redis.Client, cfg.Workflow.IdempotencyTTL()),
		Metrics:        metrics,
		Logger:         logger,
	})

	directory := service.NewApproverDirectory(userRepo, cfg.Workflow.ApproverCacheTTL())
	defer directory.Close()

	if cfg.Notification.WorkerEnabled {
		w := worker.NewNotificationWorker(redis.Client, cfg.Notification.Stream, cfg.Notification.Group,
			cfg.Notification.Consumer, nil, logger)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("notification worker stopped", zap.Error(err))
			}
		}()
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Transitions:  handlers.NewTransitionsHandler(engine),
		Availability: handlers.NewAvailabilityHandler(availability),
		Approvers:    handlers.NewApproversHandler(directory),
		History:      handlers.NewHistoryHandler(service.NewHistoryService(requestRepo, historyRepo)),
		Actor:        auth.NewActorMiddleware(userRepo),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.App.Addr())
	}()

	select {
	case err := <-errCh:
		logger.Error("fiber listen", zap.Error(err))
		return err
	case sig := <-waitForSignal():
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	cancel()
	return app.ShutdownWithTimeout(10 * time.Second)
}

func waitForSignal() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}
