package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/post-scheduler/internal/activity"
	"github.com/cuongbtq/post-scheduler/internal/api/handler"
	"github.com/cuongbtq/post-scheduler/internal/api/router"
	apistorage "github.com/cuongbtq/post-scheduler/internal/api/storage"
	"github.com/cuongbtq/post-scheduler/internal/config"
	"github.com/cuongbtq/post-scheduler/internal/publisher"
	"github.com/cuongbtq/post-scheduler/internal/scheduler"
	"github.com/cuongbtq/post-scheduler/internal/scheduler/storage"
	"github.com/cuongbtq/post-scheduler/shared/logger"
	"github.com/cuongbtq/post-scheduler/shared/postgresql"
	"github.com/cuongbtq/post-scheduler/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("SCHEDULER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/scheduler-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	instanceID := uuid.NewString()
	appLogger.Info("Starting scheduler service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("instance_id", instanceID),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	recorder := activity.NewRecorder(&activity.Config{
		Sink:         activity.NewPostgresSink(dbClient.GetDB()),
		Fallback:     appLogger.Logger.With(slog.String("component", "activity")),
		BufferSize:   cfg.Scheduler.Activity.BufferSize,
		WriteTimeout: cfg.Scheduler.Activity.WriteTimeout,
	})

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)

	sched, err := scheduler.New(&scheduler.Config{
		Logger:         appLogger.Logger.With(slog.String("component", "scheduler")),
		Store:          store,
		Credentials:    store,
		Publisher:      publisher.NewAMQPPublisher(rabbitClient, appLogger.Logger),
		Activity:       recorder,
		Schedule:       cfg.Scheduler.Schedule,
		Tiers:          tierPolicies(&cfg.Scheduler.Tiers),
		RatePerSecond:  cfg.Scheduler.RateLimit.PerSecond,
		RateBurst:      cfg.Scheduler.RateLimit.Burst,
		PublishTimeout: cfg.Scheduler.PublishTimeout,
		InstanceID:     instanceID,
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	r := initRouter(cfg, appLogger.Logger, dbClient, sched)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	appLogger.Info("Operations HTTP server listening",
		slog.String("address", addr),
	)

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	appLogger.Info("Scheduler service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Service error", slog.Any("error", runErr))
	}

	// Stop ticking first so in-flight ticks can still reach the database and broker
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
	defer stopCancel()
	if err := sched.Stop(stopCtx); err != nil {
		appLogger.Warn("Scheduler shutdown timeout exceeded", slog.Any("error", err))
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	if err := recorder.Close(stopCtx); err != nil {
		appLogger.Warn("Activity log not fully flushed", slog.Any("error", err))
	}

	appLogger.Info("Scheduler service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router for the operations API
func initRouter(cfg *config.Config, logger *slog.Logger, dbClient *postgresql.Client, sched *scheduler.Scheduler) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		ServiceName: cfg.App.Name,
		Logger:      logger,
		Health:      dbClient,
		Posts:       apistorage.NewStorage(dbClient.GetDB()),
		Scheduler:   sched,
	})
}

func tierPolicies(cfg *config.TiersConfig) scheduler.TierPolicies {
	return scheduler.TierPolicies{
		OnTime:            scheduler.BatchPolicy{Concurrency: cfg.OnTime.Concurrency, Delay: cfg.OnTime.BatchDelay},
		RecentlyOverdue:   scheduler.BatchPolicy{Concurrency: cfg.RecentlyOverdue.Concurrency, Delay: cfg.RecentlyOverdue.BatchDelay},
		ModeratelyOverdue: scheduler.BatchPolicy{Concurrency: cfg.ModeratelyOverdue.Concurrency, Delay: cfg.ModeratelyOverdue.BatchDelay},
		SeverelyOverdue:   scheduler.BatchPolicy{Concurrency: cfg.SeverelyOverdue.Concurrency, Delay: cfg.SeverelyOverdue.BatchDelay},
	}
}
