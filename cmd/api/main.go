package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/zlovtnik/clm-ingest/config"
	contractrepo "github.com/zlovtnik/clm-ingest/internal/repositories/contract"
	customerrepo "github.com/zlovtnik/clm-ingest/internal/repositories/customer"
	idempotencyrepo "github.com/zlovtnik/clm-ingest/internal/repositories/idempotency"
	sessionrepo "github.com/zlovtnik/clm-ingest/internal/repositories/session"
	stagedrecordrepo "github.com/zlovtnik/clm-ingest/internal/repositories/stagedrecord"
	"github.com/zlovtnik/clm-ingest/pkg/database"
	"github.com/zlovtnik/clm-ingest/pkg/kafka"
	"github.com/zlovtnik/clm-ingest/pkg/logger"
	appmiddleware "github.com/zlovtnik/clm-ingest/pkg/middleware"
	"github.com/zlovtnik/clm-ingest/pkg/models"
	"github.com/zlovtnik/clm-ingest/pkg/promotion"
	"github.com/zlovtnik/clm-ingest/pkg/redis"
	"github.com/zlovtnik/clm-ingest/pkg/router"
	"github.com/zlovtnik/clm-ingest/pkg/routes/health"
	"github.com/zlovtnik/clm-ingest/pkg/routes/message"
	"github.com/zlovtnik/clm-ingest/pkg/routes/session"
	"github.com/zlovtnik/clm-ingest/pkg/sessionmgr"
	"github.com/zlovtnik/clm-ingest/pkg/tracing"
	"github.com/zlovtnik/clm-ingest/pkg/tracing/exporters"
	"github.com/zlovtnik/clm-ingest/pkg/transform"
)

const version = "1.0.0"

func main() {
	ctx := context.Background()

	// .env is optional; real deployments inject the environment.
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporters.NewConsoleExporter(log)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.AppName))),
	)
	otel.SetTracerProvider(tp)
	tracing.SetTracer(otel.Tracer(cfg.AppName))
	err := run(ctx, cfg, log)
	if shutdownErr := tp.Shutdown(ctx); shutdownErr != nil {
		log.WithError(shutdownErr).Error("Failed to shut down tracer provider")
	}
	if err != nil {
		log.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log ectologger.Logger) error {
	connectCfg := database.ConnectConfig{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}

	// The database often comes up after the service in orchestrated
	// deployments; retry before giving up.
	attempts := cfg.StartupMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var db database.DB
	var err error
	for attempt := 1; ; attempt++ {
		db, err = database.Connect(ctx, connectCfg, log)
		if err == nil {
			break
		}
		if attempt >= attempts {
			return err
		}
		log.WithError(err).WithFields(map[string]any{"attempt": attempt, "max_attempts": attempts}).Warn("Database not ready, retrying")
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer db.Close()

	driver, err := migratepg.WithInstance(db.Unsafe().DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	migrations := database.NewMigrationService(log, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Promotion locks come from redis when configured, otherwise in-process.
	var locker promotion.KeyLocker
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient, err = redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		locker = redis.NewLocker(redisClient, "promote:")
	} else {
		locker = promotion.NewMutexLocker()
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, log)
	defer producer.Close()

	contracts := contractrepo.NewRepository(db, log)
	customers := customerrepo.NewRepository(db, log)
	sessions := sessionrepo.NewRepository(db, log)
	staged := stagedrecordrepo.NewRepository(db, log)
	ledger := idempotencyrepo.NewRepository(db, log, cfg.LedgerStaleAfter)

	transformer := transform.NewTransformer(log)
	promoter := promotion.NewPromoter(contracts, customers, locker, cfg.PromotionLockTTL, producer, log)
	manager := sessionmgr.NewManager(sessions, staged, contracts, transformer, promoter, producer, cfg.SessionWorkerCount, log)

	handlers := router.DefaultHandlers(manager, log)
	msgRouter := router.NewRouter(ledger, handlers, []models.EventType{models.EventContractStatusChanged}, cfg.AggregationWindow, log)

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, log); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[database.DB](container, db); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*sessionmgr.Manager](container, manager); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*router.Router](container, msgRouter); err != nil {
		return err
	}

	var consumer *kafka.Consumer
	if cfg.KafkaConsumerEnabled {
		consumer = kafka.NewConsumer(cfg, log, func(ctx context.Context, msg models.IntegrationMessage) error {
			_, err := msgRouter.Route(ctx, msg)
			return err
		})
		if err := consumer.Start(ctx); err != nil {
			return err
		}
		defer consumer.Stop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = appmiddleware.Error(log)
	e.Use(
		echomiddleware.Recover(),
		echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
			AllowOrigins: cfg.AllowOrigins,
			AllowMethods: cfg.AllowMethods,
		}),
		otelecho.Middleware(cfg.AppName),
		appmiddleware.Context(),
		appmiddleware.Logger(log),
	)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Nil pointers must not reach the checker as non-nil interfaces.
	var redisCheck health.Pinger
	if redisClient != nil {
		redisCheck = redisClient
	}
	var consumerCheck interface{ Health() bool }
	if consumer != nil {
		consumerCheck = consumer
	}
	checker := health.NewChecker(db, redisCheck, consumerCheck, version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	session.Register(api.Group("/sessions"))
	message.Register(api.Group("/messages"))

	server := &http.Server{
		Addr:           ":" + strconv.Itoa(cfg.Port),
		ReadTimeout:    time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:   time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:    time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		checker.SetReady(true)
		log.WithFields(map[string]any{"port": cfg.Port}).Info("HTTP server starting")
		if err := e.StartServer(server); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.WithFields(map[string]any{"signal": sig.String()}).Info("Shutting down")
	}

	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
