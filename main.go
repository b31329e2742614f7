package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redisv9 "github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fleetcore-ai/compass/internal/activities"
	"github.com/fleetcore-ai/compass/internal/auth"
	"github.com/fleetcore-ai/compass/internal/config"
	"github.com/fleetcore-ai/compass/internal/constants"
	"github.com/fleetcore-ai/compass/internal/conversation"
	"github.com/fleetcore-ai/compass/internal/db"
	"github.com/fleetcore-ai/compass/internal/degradation"
	"github.com/fleetcore-ai/compass/internal/health"
	"github.com/fleetcore-ai/compass/internal/httpapi"
	"github.com/fleetcore-ai/compass/internal/llm"
	"github.com/fleetcore-ai/compass/internal/policy"
	"github.com/fleetcore-ai/compass/internal/search"
	"github.com/fleetcore-ai/compass/internal/server"
	"github.com/fleetcore-ai/compass/internal/streaming"
	"github.com/fleetcore-ai/compass/internal/temporal"
	"github.com/fleetcore-ai/compass/internal/tracing"
	"github.com/fleetcore-ai/compass/internal/workflows"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infraCfg := config.Load()
	if err := infraCfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := newLogger(infraCfg.LogLevel, infraCfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting compass",
		zap.String("environment", infraCfg.Environment),
		zap.String("temporal_host", infraCfg.Temporal.Host),
		zap.String("task_queue", infraCfg.Temporal.TaskQueue),
	)

	// Behavior configuration with hot reload. A missing config directory is
	// fine; the built-in defaults apply and nothing watches.
	compassCfg := config.DefaultCompassConfig()
	var (
		cfgMgr     *config.Manager
		compassMgr *config.CompassConfigManager
	)
	configDir := getEnvOrDefault("CONFIG_DIR", "/app/config")
	if mgr, err := config.NewManager(configDir, logger); err != nil {
		logger.Warn("Config manager init failed, using defaults", zap.Error(err))
	} else if err := mgr.Start(); err != nil {
		logger.Warn("Config watch failed, using defaults", zap.Error(err))
	} else {
		cfgMgr = mgr
		defer cfgMgr.Stop()
		compassMgr = config.NewCompassConfigManager(cfgMgr, logger)
		if err := compassMgr.Initialize(); err != nil {
			logger.Warn("Compass config init failed", zap.Error(err))
		}
		compassCfg = compassMgr.GetConfig()
	}

	// ------------------------------------------------------------------
	// Bring up the health manager and admin endpoints early so probes
	// respond while the heavier dependencies are still connecting.
	// ------------------------------------------------------------------
	healthMgr := health.NewManager(compassCfg.Health, logger)
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(healthMgr, logger).RegisterRoutes(adminMux)
	if infraCfg.Metrics.Enabled {
		adminMux.Handle("/metrics", promhttp.Handler())
	}
	adminPort := config.MetricsPort(compassCfg.Service.AdminPort)
	adminSrv := &http.Server{
		Addr:         ":" + strconv.Itoa(adminPort),
		Handler:      adminMux,
		ReadTimeout:  compassCfg.Service.ReadTimeout,
		WriteTimeout: compassCfg.Service.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.Int("port", adminPort))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	if compassMgr != nil {
		compassMgr.RegisterCallback(func(_, newCfg *config.CompassConfig) error {
			healthMgr.ApplyConfig(newCfg.Health)
			return nil
		})
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:      infraCfg.Tracing.Enabled,
		ServiceName:  infraCfg.Tracing.ServiceName,
		OTLPEndpoint: infraCfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing init failed", zap.Error(err))
	}

	// Archive database.
	dbClient, err := db.NewClient(&db.Config{
		Host:     infraCfg.Postgres.Host,
		Port:     infraCfg.Postgres.Port,
		User:     infraCfg.Postgres.User,
		Password: infraCfg.Postgres.Password,
		Database: infraCfg.Postgres.Database,
		SSLMode:  infraCfg.Postgres.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to archive database", zap.Error(err))
	}
	defer dbClient.Close()
	healthMgr.Register(health.NewDatabaseHealthChecker(dbClient.Wrapper(), true, 5*time.Second, logger))

	archive := db.NewArchiveWriter(dbClient, 0, 0, logger)
	archive.Start()

	// Conversation memory.
	redisClient := redis.NewClient(&redis.Options{
		Addr:         infraCfg.Redis.Addr(),
		Password:     infraCfg.Redis.Password,
		DB:           infraCfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	conversations := conversation.NewManagerWithClient(redisClient, logger)
	conversations.Configure(compassCfg.Conversation.TTL, compassCfg.Conversation.CacheSize)
	defer conversations.Close()
	healthMgr.Register(health.NewRedisHealthChecker(conversations.RedisWrapper(), true, 5*time.Second, logger))

	// Provider clients.
	searchClient := search.NewHTTPClient(infraCfg.Search, logger)
	llmClient := llm.NewHTTPClient(infraCfg.LLM, logger)
	healthMgr.Register(health.NewSearchHealthChecker(infraCfg.Search.BaseURL, false, 5*time.Second, logger))

	// Admission policies. A load failure is fatal only in fail-closed mode.
	policyEngine, err := policy.NewOPAEngine(policy.FromConfig(infraCfg.OPA, infraCfg.Environment), logger)
	if err != nil {
		logger.Fatal("Failed to initialize policy engine", zap.Error(err))
	}
	if cfgMgr != nil {
		cfgMgr.RegisterPolicyHandler(func() error {
			logger.Info("Reloading policies after .rego change")
			return policyEngine.LoadPolicies()
		})
	}

	// Degradation watches the breakers and downgrades query modes.
	degrade := degradation.NewManager(compassCfg.Degradation, logger)
	degrade.RegisterProbe("database", dbClient.Wrapper())
	degrade.RegisterProbe("redis", conversations.RedisWrapper())
	degrade.RegisterProbe(degradation.ProbeSearch, degradation.ProbeFunc(searchClient.IsOpen))
	degrade.RegisterProbe("llm", degradation.ProbeFunc(llmClient.IsOpen))
	degrade.Start(ctx)

	// Research event streaming.
	stream := streaming.NewManager(compassCfg.Streaming.RingCapacity, logger)
	stream.Start()

	// Temporal is the research backbone; block startup until it answers.
	temporalClient := dialTemporal(infraCfg.Temporal, logger)
	defer temporalClient.Close()
	healthMgr.Register(health.NewTemporalHealthChecker(temporalClient, true, 5*time.Second, logger))
	healthMgr.Start(ctx)

	// Worker hosting the research workflows and their activities.
	w := worker.New(temporalClient, infraCfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     getEnvOrDefaultInt("WORKER_ACTIVITIES", 10),
		MaxConcurrentWorkflowTaskExecutionSize: getEnvOrDefaultInt("WORKER_WORKFLOWS", 10),
	})
	registerWorker(w, activities.NewActivities(activities.Deps{
		Search:        searchClient,
		LLM:           llmClient,
		Conversations: conversations,
		Archive:       archive,
		Stream:        stream,
		Logger:        logger,
	}))
	go func() {
		logger.Info("Temporal worker started", zap.String("queue", infraCfg.Temporal.TaskQueue))
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Error("Temporal worker exited with error", zap.Error(err))
		}
	}()

	// Authentication and rate limiting for the REST surface.
	authService := auth.NewService(dbClient.Wrapper().DB(), logger, compassCfg.Auth.JWTSecret,
		compassCfg.Auth.AccessTokenExpiry, compassCfg.Auth.RefreshTokenExpiry)
	authMW := auth.NewMiddleware(authService, authService.JWTManager(), compassCfg.Auth.SkipAuth)
	logger.Info("Auth middleware initialized",
		zap.Bool("skip_auth", compassCfg.Auth.SkipAuth),
		zap.Bool("enabled", compassCfg.Auth.Enabled),
	)
	limiterRedis := redisv9.NewClient(&redisv9.Options{
		Addr:     infraCfg.Redis.Addr(),
		Password: infraCfg.Redis.Password,
		DB:       infraCfg.Redis.DB,
	})
	defer limiterRedis.Close()
	limiter := httpapi.NewRateLimiter(limiterRedis, 0, compassCfg.Auth.APIKeyRateLimit, logger)

	// The decision pipeline behind the REST surface.
	svc := server.NewService(temporalClient, conversations, llmClient, policyEngine, degrade, stream, archive, logger, server.Options{
		TaskQueue:           infraCfg.Temporal.TaskQueue,
		Environment:         infraCfg.Environment,
		MaxIterations:       compassCfg.Research.MaxIterations,
		MaxSourcesPerSearch: compassCfg.Research.MaxResultsPerSearch,
	})
	api := httpapi.NewAPI(svc, stream, authService, authMW, limiter, logger)

	// SSE and WebSocket connections stay open for the life of a research
	// run, so only the request headers carry a read deadline here.
	apiSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(compassCfg.Service.Port),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    compassCfg.Service.MaxHeaderBytes,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", compassCfg.Service.Port))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down compass")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), compassCfg.Service.GracefulTimeout)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", zap.Error(err))
	}
	w.Stop()
	healthMgr.Stop()
	degrade.Stop()
	stream.Stop()
	archive.Close()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown incomplete", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown incomplete", zap.Error(err))
	}
}

// registerWorker binds the workflows and activities under the names the
// workflows invoke them by.
func registerWorker(w worker.Worker, acts *activities.Activities) {
	w.RegisterWorkflowWithOptions(workflows.ResearchWorkflow,
		workflow.RegisterOptions{Name: constants.ResearchWorkflowName})
	w.RegisterWorkflowWithOptions(workflows.VerificationWorkflow,
		workflow.RegisterOptions{Name: constants.VerificationWorkflowName})

	w.RegisterActivityWithOptions(acts.SearchVesselSources,
		activity.RegisterOptions{Name: constants.SearchSourcesActivity})
	w.RegisterActivityWithOptions(acts.AnalyzeResearchGaps,
		activity.RegisterOptions{Name: constants.AnalyzeGapsActivity})
	w.RegisterActivityWithOptions(acts.SynthesizeAnswer,
		activity.RegisterOptions{Name: constants.SynthesizeAnswerActivity})
	w.RegisterActivityWithOptions(acts.EnforceCitations,
		activity.RegisterOptions{Name: constants.EnforceCitationsActivity})
	w.RegisterActivityWithOptions(acts.RecordTurn,
		activity.RegisterOptions{Name: constants.RecordTurnActivity})
	w.RegisterActivityWithOptions(acts.ArchiveRun,
		activity.RegisterOptions{Name: constants.ArchiveRunActivity})
	w.RegisterActivityWithOptions(acts.PublishProgress,
		activity.RegisterOptions{Name: constants.PublishProgressActivity})
}

// dialTemporal waits for the Temporal frontend and dials it with capped
// backoff. Before the first worker connects there is nothing useful this
// process can do, so the retry loop never gives up on its own; SIGTERM
// still kills the process through the default signal disposition.
func dialTemporal(cfg config.TemporalConfig, logger *zap.Logger) client.Client {
	for i := 1; i <= 60; i++ {
		c, err := net.DialTimeout("tcp", cfg.Host, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("Waiting for Temporal TCP endpoint",
			zap.String("host", cfg.Host), zap.Int("attempt", i))
		time.Sleep(1 * time.Second)
	}

	for attempt := 1; ; attempt++ {
		tc, err := client.Dial(client.Options{
			HostPort:  cfg.Host,
			Namespace: cfg.Namespace,
			Logger:    temporal.NewLogger(logger),
		})
		if err == nil {
			logger.Info("Temporal client connected",
				zap.String("host", cfg.Host), zap.String("namespace", cfg.Namespace))
			return tc
		}
		delay := time.Duration(attempt) * time.Second
		if delay > 15*time.Second {
			delay = 15 * time.Second
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host", cfg.Host),
			zap.Duration("sleep", delay),
			zap.Error(err),
		)
		time.Sleep(delay)
	}
}

// newLogger builds the process logger: console encoding in development,
// JSON everywhere else.
func newLogger(level, environment string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if environment == "development" {
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
