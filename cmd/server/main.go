package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dreamweaver-server/internal/config"
	"dreamweaver-server/internal/handler"
	"dreamweaver-server/internal/lock"
	"dreamweaver-server/internal/logger"
	"dreamweaver-server/internal/messaging"
	"dreamweaver-server/internal/middleware"
	"dreamweaver-server/internal/realtime"
	"dreamweaver-server/internal/repository"
	"dreamweaver-server/internal/service"
	"dreamweaver-server/internal/stage"
	"dreamweaver-server/internal/tracing"
	"dreamweaver-server/internal/validator"
	"dreamweaver-server/internal/world"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: could not load .env file: %v\n", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
		Service:  cfg.Tracing.ServiceName,
		Env:      cfg.Env,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	log.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("store", cfg.Store.Driver),
		zap.String("lockPolicy", cfg.Lock.Policy),
		zap.String("aiClient", cfg.AI.ClientType),
	)

	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		log.Fatal("Failed to set up tracing", zap.Error(err))
	}

	model := world.NewModel(cfg.Turn.MemoryLimit)

	store, closeStore, err := setupStore(ctx, cfg, model, log)
	if err != nil {
		log.Fatal("Failed to set up world store", zap.Error(err))
	}

	policy, err := lock.ParsePolicy(cfg.Lock.Policy)
	if err != nil {
		log.Fatal("Invalid lock policy", zap.Error(err))
	}
	var locker lock.Locker = lock.NewManager(policy, log)
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		locker = lock.Chain{locker, lock.NewRedisLocker(redisClient, policy, cfg.Lock.RedisTTL, log)}
		log.Info("Distributed world lock enabled", zap.String("addr", cfg.Redis.Addr))
	}

	hub := realtime.NewHub(cfg.GetAllowedOrigins(), log)
	notifiers := []service.TurnNotifier{hub}

	var publisher *messaging.TurnEventPublisher
	if cfg.RabbitMQ.URL != "" {
		conn, err := messaging.Connect(cfg.RabbitMQ.URL, 5, 5*time.Second, log)
		if err != nil {
			log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer conn.Close()
		publisher, err = messaging.NewTurnEventPublisher(conn, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			log.Fatal("Failed to create turn event publisher", zap.Error(err))
		}
		notifiers = append(notifiers, publisher)
	}

	adapter, err := setupAdapter(cfg, log)
	if err != nil {
		log.Fatal("Failed to set up stage adapter", zap.Error(err))
	}
	outputValidator, err := validator.New(log)
	if err != nil {
		log.Fatal("Failed to load stage output contracts", zap.Error(err))
	}
	executor := validator.NewExecutor(adapter, outputValidator, cfg.Turn.StageTimeout, cfg.Turn.MaxRetries, log)

	orchestrator := service.NewTurnOrchestrator(
		store,
		locker,
		model,
		executor,
		service.NewPresenceTracker(cfg.Presence.SessionTimeout),
		log,
		notifiers...,
	)

	// --- HTTP ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(middleware.ZapLoggingMiddlewareForGin(log))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if origins := cfg.GetAllowedOrigins(); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", middleware.RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	handler.NewTurnHandler(orchestrator, log).RegisterRoutes(router, http.HandlerFunc(hub.ServeWS))

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// A turn runs six model calls with retries.
		WriteTimeout: cfg.HTTP.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server listen error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	hub.Close()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Warn("Failed to close turn publisher", zap.Error(err))
		}
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	closeStore()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("Failed to flush traces", zap.Error(err))
	}
	log.Info("Server exiting")
}

// setupStore opens the store selected by cfg.Store.Driver. The returned func
// releases its resources.
func setupStore(ctx context.Context, cfg *config.Config, model *world.Model, log *zap.Logger) (repository.WorldStateStore, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := repository.OpenSQLiteWorldStateStore(cfg.Store.SQLitePath, model, log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		dsn := cfg.GetDSN()
		if cfg.Store.MigrateOnStart {
			if err := repository.RunMigrations(dsn, log); err != nil {
				return nil, nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		pool, err := setupPostgres(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPgWorldStateRepository(pool, model, log), pool.Close, nil
	default:
		s, err := repository.NewFileWorldStateStore(cfg.Store.Dir, model, log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}

// setupPostgres creates the pool, retrying while the database comes up.
func setupPostgres(ctx context.Context, cfg *config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Store.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.Store.DBIdleTimeout

	const maxRetries = 10
	const retryDelay = 3 * time.Second
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
		if err == nil {
			err = pool.Ping(connectCtx)
			if err != nil {
				pool.Close()
			}
		}
		cancel()
		if err == nil {
			log.Info("Connected to PostgreSQL", zap.Int("attempt", attempt))
			return pool, nil
		}
		lastErr = err
		log.Warn("Postgres connection failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("connect to postgres after %d attempts: %w", maxRetries, lastErr)
}

func setupAdapter(cfg *config.Config, log *zap.Logger) (stage.Adapter, error) {
	if cfg.AI.ClientType == "" || strings.EqualFold(cfg.AI.ClientType, "offline") {
		log.Info("Using offline stage adapter")
		return stage.OfflineAdapter{}, nil
	}
	client, err := stage.NewAIClient(cfg.AI, log)
	if err != nil {
		return nil, err
	}
	temperature := cfg.AI.Temperature
	maxTokens := cfg.AI.MaxTokens
	return stage.NewLLMAdapter(client, stage.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		JSONMode:    true,
	}, cfg.AI.TokenBudget, log), nil
}
