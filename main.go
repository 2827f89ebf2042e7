package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/Ramsey-B/sunflower/config"
	"github.com/Ramsey-B/sunflower/internal/handlers"
	"github.com/Ramsey-B/sunflower/pkg/alerts"
	"github.com/Ramsey-B/sunflower/pkg/database"
	"github.com/Ramsey-B/sunflower/pkg/feed"
	"github.com/Ramsey-B/sunflower/pkg/health"
	"github.com/Ramsey-B/sunflower/pkg/httpclient"
	"github.com/Ramsey-B/sunflower/pkg/ingestion"
	"github.com/Ramsey-B/sunflower/pkg/kafka"
	"github.com/Ramsey-B/sunflower/pkg/middleware"
	"github.com/Ramsey-B/sunflower/pkg/redis"
	"github.com/Ramsey-B/sunflower/pkg/repositories"
	"github.com/Ramsey-B/sunflower/pkg/scheduler"
	"github.com/Ramsey-B/sunflower/pkg/selector"
	"github.com/Ramsey-B/sunflower/pkg/startup"
	"github.com/Ramsey-B/sunflower/pkg/tracing"
	"github.com/Ramsey-B/sunflower/pkg/tracing/exporters"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, syncLogs, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer syncLogs()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("sunflower exited with error")
		syncLogs()
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (ectologger.Logger, func(), error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	zapConfig.Level = level

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}

func newExporter(ctx context.Context, cfg *config.Config) (sdktrace.SpanExporter, error) {
	if !cfg.OTLPEnabled {
		return exporters.NoopExporter{}, nil
	}
	return exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
	})
}

// app holds everything the startup dependencies share.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger

	db        *database.DatabaseInstance
	redis     *redis.Client
	producer  *kafka.Producer
	scheduler *scheduler.Scheduler
	checker   *health.Checker
	server    *echo.Echo

	records  *repositories.DemandRecordRepository
	recorder *ingestion.Recorder
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}
	shutdownTracing := tracing.Setup(cfg.AppName, exporter)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		checker: health.NewChecker(cfg.Version),
	}

	s := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	s.AddDependency(&startup.Func{Name: "database", StartFunc: a.startDatabase, StopFunc: a.stopDatabase})

	ingestionRequires := []string{"database"}
	if cfg.RedisEnabled {
		s.AddDependency(&startup.Func{Name: "redis", StartFunc: a.startRedis, StopFunc: a.stopRedis})
		ingestionRequires = append(ingestionRequires, "redis")
	}
	if cfg.KafkaEnabled {
		s.AddDependency(&startup.Func{Name: "kafka", StartFunc: a.startKafka, StopFunc: a.stopKafka})
		ingestionRequires = append(ingestionRequires, "kafka")
	}
	s.AddDependency(&startup.Func{Name: "ingestion", Requires: ingestionRequires, StartFunc: a.startIngestion, StopFunc: a.stopIngestion})
	s.AddDependency(&startup.Func{Name: "http", Requires: []string{"ingestion"}, StartFunc: a.startServer, StopFunc: a.stopServer})

	if err := s.Start(ctx); err != nil {
		_ = s.Stop(context.Background())
		_ = shutdownTracing(context.Background())
		return err
	}
	a.checker.SetReady(true)

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	a.checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	stopErr := s.Stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}
	return stopErr
}

func (a *app) startDatabase(ctx context.Context) error {
	db, err := database.Connect(ctx, database.Config{
		Driver:          a.cfg.DatabaseDriver,
		Host:            a.cfg.DatabaseHost,
		Port:            a.cfg.DatabasePort,
		UserName:        a.cfg.DatabaseUserName,
		Password:        a.cfg.DatabasePassword,
		Name:            a.cfg.DatabaseName,
		SSLMode:         a.cfg.DatabaseSSLMode,
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}

	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(a.cfg.DatabaseName, db); err != nil {
		_ = db.Close()
		return err
	}

	a.db = db
	a.records = repositories.NewDemandRecordRepository(db, a.logger)
	a.checker.AddCheck("database", db.PingContext, true)
	return nil
}

func (a *app) stopDatabase(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *app) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}

	a.redis = client
	a.checker.AddCheck("redis", client.Ping, false)
	return nil
}

func (a *app) stopRedis(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *app) startKafka(ctx context.Context) error {
	a.producer = kafka.NewProducer(kafka.ParseConfig(a.cfg.KafkaBrokers, a.cfg.KafkaRecordTopic, a.cfg.KafkaAlertTopic), a.logger)
	return nil
}

func (a *app) stopKafka(ctx context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

func (a *app) startIngestion(ctx context.Context) error {
	regions, err := a.cfg.Regions()
	if err != nil {
		return err
	}
	location, err := a.cfg.Location()
	if err != nil {
		return err
	}
	threshold, err := a.cfg.AlertThreshold()
	if err != nil {
		return err
	}

	clientConfig := httpclient.DefaultConfig()
	clientConfig.Timeout = a.cfg.FeedTimeout
	client := httpclient.NewClient(clientConfig, a.logger)

	fetcher := feed.NewFetcher(client, feed.Config{
		URL:         a.cfg.FeedURL,
		Referer:     a.cfg.FeedReferer,
		Origin:      a.cfg.FeedOrigin,
		RegionParam: a.cfg.FeedRegionParam,
		RateLimit:   float64(a.cfg.FeedRateLimit),
		Burst:       a.cfg.FeedBurst,
	}, a.logger)

	notifiers := alerts.MultiNotifier{alerts.NewLogNotifier(a.logger)}
	if a.cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(client, a.cfg.AlertWebhookURL))
	}

	var publisher ingestion.RecordPublisher
	if a.producer != nil {
		publisher = a.producer
		notifiers = append(notifiers, alerts.NewKafkaNotifier(a.producer))
	}

	a.recorder = ingestion.NewRecorder(a.records, publisher, notifiers, ingestion.AlertConfig{
		Threshold: threshold,
		Channel:   a.cfg.AlertChannel,
	}, a.logger).WithSideEffectTimeout(a.cfg.IngestionSideEffectTimeout)

	orchestrator := ingestion.NewOrchestrator(fetcher, selector.NewSelector(location, a.logger), a.recorder, ingestion.Config{
		Regions:       regions,
		Workers:       a.cfg.IngestionWorkers,
		RegionTimeout: a.cfg.IngestionRegionTimeout,
	}, a.logger)

	var locker scheduler.PassLocker
	if a.redis != nil {
		locker = redis.NewLocker(a.redis, a.cfg.AppName+":")
	}

	a.scheduler = scheduler.NewScheduler(orchestrator, locker, scheduler.Config{
		Interval:   a.cfg.SchedulerInterval,
		LockTTL:    a.cfg.SchedulerLockTTL,
		RunOnStart: a.cfg.SchedulerRunOnStart,
	}, a.logger)

	if !a.cfg.SchedulerEnabled {
		a.logger.Info("Scheduler disabled, passes run only through POST /api/v1/ingestion/run")
		return nil
	}
	return a.scheduler.Start(ctx)
}

func (a *app) stopIngestion(ctx context.Context) error {
	if a.scheduler == nil {
		return nil
	}
	return a.scheduler.Stop(ctx)
}

func (a *app) startServer(ctx context.Context) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	a.checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	handlers.NewDemandHandler(a.recorder, a.records, a.logger).RegisterRoutes(api)
	handlers.NewIngestionHandler(a.scheduler, a.logger).RegisterRoutes(api)

	e.Server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}
	a.server = e

	go func() {
		a.logger.Infof("HTTP server listening on :%d", a.cfg.Port)
		if err := e.StartServer(e.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()
	return nil
}

func (a *app) stopServer(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
