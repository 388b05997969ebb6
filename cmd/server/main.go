package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CalmLexi/karin-plugin-manage/internal/cache"
	"github.com/CalmLexi/karin-plugin-manage/internal/config"
	"github.com/CalmLexi/karin-plugin-manage/internal/handler"
	"github.com/CalmLexi/karin-plugin-manage/internal/pkg/password"
	"github.com/CalmLexi/karin-plugin-manage/internal/plugincfg"
	"github.com/CalmLexi/karin-plugin-manage/internal/stats"
	"github.com/CalmLexi/karin-plugin-manage/internal/store"
	"github.com/CalmLexi/karin-plugin-manage/internal/user"
	"github.com/CalmLexi/karin-plugin-manage/pkg/logger"
	"github.com/CalmLexi/karin-plugin-manage/pkg/metrics"
	"github.com/CalmLexi/karin-plugin-manage/pkg/ratelimit"
	pkgredis "github.com/CalmLexi/karin-plugin-manage/pkg/redis"
)

const serviceName = "karin-plugin-manage"

func main() {
	configPath := flag.String("config", "config/config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	// Загружаем конфигурацию
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализируем логгер
	baseLogger, err := logger.NewLogger(cfg.Environment, cfg.Logger.Level, serviceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer baseLogger.Sync()

	baseLogger.Info("Starting control panel backend",
		logger.String("version", stats.Version),
		logger.String("service", serviceName))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Подключаемся к Redis
	redisConfig := pkgredis.NewConfig()
	redisConfig.Addr = cfg.Redis.Addr
	redisConfig.Password = cfg.Redis.Password
	redisConfig.DB = cfg.Redis.DB
	redisConfig.PoolSize = cfg.Redis.PoolSize
	redisConfig.MinIdleConn = cfg.Redis.MinIdleConn
	redisConfig.MaxRetries = cfg.Redis.MaxRetries
	redisConfig.RetryInterval = cfg.RedisRetryInterval()

	redisClient, err := pkgredis.Connect(ctx, redisConfig)
	if err != nil {
		baseLogger.Error("Failed to connect to Redis", logger.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// Инициализируем компоненты
	metricsInstance := metrics.NewMetrics(serviceName)
	sessionCache := cache.NewRedisCache(redisClient.Client)
	recordStore := store.NewYamlStore(cfg.Data.UserFile, cfg.Data.LegacyConfigFile)
	hasher := password.NewBcryptHasher(cfg.Auth.BcryptCost)

	users := user.NewManager(recordStore, sessionCache, hasher, baseLogger, cfg.TokenTTL(), cfg.OTPTTL())

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := users.Initialize(initCtx); err != nil {
		baseLogger.Error("Failed to initialize user manager", logger.Error(err))
		os.Exit(1)
	}

	plugins := plugincfg.NewService(cfg.Data.PluginConfigDir, baseLogger)
	statsService := stats.NewService(redisClient.Client, cfg.Data.LogFile, baseLogger)
	limiter := ratelimit.NewRedisRateLimiter(redisClient.Client)

	// Собираем HTTP обработчик
	httpHandler := handler.NewHTTPHandler(
		baseLogger,
		users,
		plugins,
		statsService,
		metricsInstance,
		limiter,
		cfg.RateLimiting.LoginPerMinute,
		redisClient,
	)

	mux := http.NewServeMux()
	httpHandler.RegisterRoutes(mux)

	chain := httpHandler.CORSMiddleware(
		httpHandler.LoggingMiddleware(
			metricsInstance.Middleware(mux)))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		baseLogger.Info("HTTP server listening", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		baseLogger.Info("Received shutdown signal")
	case err := <-errChan:
		baseLogger.Error("HTTP server failed", logger.Error(err))
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("Error during server shutdown", logger.Error(err))
	}

	baseLogger.Info("Service shutdown completed")
}
