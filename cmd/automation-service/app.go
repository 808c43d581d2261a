package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"beacon/internal/audit"
	"beacon/internal/config"
	"beacon/internal/constants"
	"beacon/internal/deadletter"
	"beacon/internal/engine"
	"beacon/internal/executor"
	"beacon/internal/logger"
	"beacon/internal/rules"
	"beacon/internal/scheduler"
	"beacon/internal/trigger"
	"beacon/pkg/bootstrap"
	"beacon/pkg/circuitbreaker"
	"beacon/pkg/health"
	"beacon/pkg/metrics"
	"beacon/pkg/middleware"
	"beacon/pkg/migrations"
	"beacon/pkg/ratelimit"
	"beacon/pkg/tracing"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const serviceName = "automation-service"

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redisClient    *redis.Client
	mongoClient    *mongo.Client
	mongoDB        *mongo.Database
	engine         *engine.Engine
	sweeper        *deadletter.Sweeper
	scheduler      *scheduler.Scheduler
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initPipeline(); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterEngineMetrics()
	metrics.RegisterRetryMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterManagementMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("postgres configuration is required")
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(a.db, "migrations/postgres"); err != nil {
			return err
		}
		a.Logger.Info("PostgreSQL migrations applied")
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	if mongoClient == nil {
		return fmt.Errorf("mongodb configuration is required")
	}
	a.mongoClient = mongoClient

	dbName := a.Config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	a.mongoDB = mongoClient.Database(dbName)

	if err := migrations.EnsureMongoCollections(ctx, a.mongoDB); err != nil {
		return err
	}

	if a.Config.Database.Redis.Host != "" {
		redisClient, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return err
		}
		a.redisClient = redisClient
	}

	return nil
}

func (a *App) initPipeline() error {
	rulesRepo := rules.NewRepository(a.db)

	stateProvider := trigger.NewMongoStateProvider(a.mongoDB)
	evaluator, err := trigger.NewEvaluator(rulesRepo, stateProvider, a.Logger)
	if err != nil {
		return err
	}

	sink := executor.NewMongoStateSink(a.mongoDB)
	runners := executor.NewRunnerRegistry(sink, a.circuitBreakerConfig(), a.Logger)

	actionTimeout := a.Config.Engine.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = constants.DefaultHTTPTimeout
	}
	exec := executor.New(runners, actionTimeout, a.Logger)

	dlqRepo := deadletter.NewRepository(a.mongoDB)
	dlqService := deadletter.NewService(dlqRepo, a.Config.Retry, a.Logger)

	auditService := audit.NewService(
		audit.NewLogRepository(a.mongoDB),
		audit.NewSnapshotRepository(a.mongoDB),
		audit.NewTenantMetricsProvider(a.mongoDB),
		a.Logger,
		audit.WithDeadLetterCounts(func(ctx context.Context, tenantID string, window audit.Window) (int64, error) {
			return dlqRepo.CountDeadLettered(ctx, tenantID, window.Start, window.End)
		}),
	)

	var dedup engine.Deduper
	if a.redisClient != nil {
		dedup = engine.NewRedisDeduper(a.redisClient, a.Config.Engine.DedupTTLSeconds)
		dedup = engine.WithFallback(dedup, a.Config.Engine.OnRedisError, a.Logger)
	} else {
		a.Logger.Warnw("Redis not configured, stimulus dedup disabled")
		dedup = engine.NewNoopDeduper()
	}

	notificationTopic := a.Config.Broker.Kafka.NotificationTopic
	if notificationTopic == "" {
		notificationTopic = constants.DefaultNotificationTopic
	}
	notifier := engine.NewBrokerNotifier(a.Producer, notificationTopic)

	a.engine = engine.New(
		dedup,
		evaluator,
		exec,
		rulesRepo,
		auditService,
		dlqService,
		notifier,
		a.Config.Engine,
		a.Logger,
	)

	a.sweeper = deadletter.NewSweeper(dlqService, dlqRepo, a.engine.ResubmitItem, a.Config.Retry, a.Logger)

	if a.Config.Scheduler.Enabled {
		stimulusTopic := a.Config.Broker.Kafka.StimulusTopic
		if stimulusTopic == "" {
			stimulusTopic = constants.DefaultStimulusTopic
		}
		a.scheduler = scheduler.New(
			scheduler.NewPostgresTenantSource(a.db),
			a.Producer,
			stimulusTopic,
			a.Config.Scheduler,
			a.Logger,
		)
	}

	return nil
}

func (a *App) circuitBreakerConfig() circuitbreaker.Config {
	cbCfg := circuitbreaker.DefaultConfig("webhook-actions")
	if !a.Config.CircuitBreaker.Enabled {
		return cbCfg
	}

	if a.Config.CircuitBreaker.MaxRequests > 0 {
		cbCfg.MaxRequests = a.Config.CircuitBreaker.MaxRequests
	}
	if a.Config.CircuitBreaker.Interval > 0 {
		cbCfg.Interval = a.Config.CircuitBreaker.Interval
	}
	if a.Config.CircuitBreaker.Timeout > 0 {
		cbCfg.Timeout = a.Config.CircuitBreaker.Timeout
	}
	if a.Config.CircuitBreaker.FailureRatio > 0 && a.Config.CircuitBreaker.MinRequests > 0 {
		failureRatio := a.Config.CircuitBreaker.FailureRatio
		minRequests := a.Config.CircuitBreaker.MinRequests
		cbCfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && ratio >= failureRatio
		}
	}

	return cbCfg
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.Management.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.Config.Management.RateLimit.RPS,
			Burst:           a.Config.Management.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.Management.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.Management.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	rulesRepo := rules.NewRepository(a.db)
	versioningRepo := rules.NewVersioningRepository(a.db)
	rulesService := rules.NewService(rulesRepo, rules.WithVersioning(versioningRepo))
	rulesHandler := rules.NewHandler(rulesService, a.Logger)
	rulesHandler.RegisterRoutes(router)

	dlqRepo := deadletter.NewRepository(a.mongoDB)
	dlqService := deadletter.NewService(dlqRepo, a.Config.Retry, a.Logger)
	dlqHandler := deadletter.NewHandler(dlqService, a.Logger)
	dlqHandler.RegisterRoutes(router)

	auditService := audit.NewService(
		audit.NewLogRepository(a.mongoDB),
		audit.NewSnapshotRepository(a.mongoDB),
		audit.NewTenantMetricsProvider(a.mongoDB),
		a.Logger,
		audit.WithDeadLetterCounts(func(ctx context.Context, tenantID string, window audit.Window) (int64, error) {
			return dlqRepo.CountDeadLettered(ctx, tenantID, window.Start, window.End)
		}),
	)
	auditHandler := audit.NewHandler(auditService, a.Logger)
	auditHandler.RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	stimulusTopic := a.Config.Broker.Kafka.StimulusTopic
	if stimulusTopic == "" {
		stimulusTopic = constants.DefaultStimulusTopic
	}
	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Starting stimulus consumer", "topic", stimulusTopic)
		return a.Consumer.Consume(gCtx, stimulusTopic, a.engine.ProcessStimulus)
	})

	g.Go(func() error {
		a.sweeper.Start(gCtx)
		return nil
	})

	if a.scheduler != nil {
		g.Go(func() error {
			a.scheduler.Start(gCtx)
			return nil
		})
	}

	select {
	case <-ctx.Done():
		err := a.Shutdown(ctx)
		if werr := g.Wait(); werr != nil && err == nil {
			err = werr
		}
		return err
	case <-gCtx.Done():
		gErr := g.Wait()
		if err := a.Shutdown(ctx); err != nil {
			return err
		}
		return gErr
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down automation service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
