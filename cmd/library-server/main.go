package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/api"
	"github.com/MorseWayne/library_api/internal/config"
	"github.com/MorseWayne/library_api/internal/database"
	"github.com/MorseWayne/library_api/internal/limiter"
	"github.com/MorseWayne/library_api/internal/logger"
	"github.com/MorseWayne/library_api/internal/repo"
	"github.com/MorseWayne/library_api/internal/router"
	"github.com/MorseWayne/library_api/internal/service"
)

const redisPingTimeout = 2 * time.Second

// initConfigAndLogger 初始化配置和日志器
func initConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, cfg.App.Name, cfg.App.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, lg, nil
}

// initDatabase 初始化数据库连接并执行迁移，迁移在 HTTP 服务启动前完成
func initDatabase(cfg *config.Config, lg *zap.Logger) (*database.DB, error) {
	db, err := database.New(cfg, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	return db, nil
}

// initRedis 在限流启用时创建 Redis 客户端，未启用时返回 nil。
// 启动时 Redis 不可达只记录告警，请求级别按放行处理。
func initRedis(cfg *config.Config, lg *zap.Logger) *redis.Client {
	if !cfg.RateLimit.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		lg.Warn("redis unreachable, auth rate limiting will fail open",
			zap.String("addr", cfg.Redis.Addr()),
			zap.Error(err),
		)
	}
	return client
}

// initAuthLimiter 创建认证接口限流器，未启用时返回 nil
func initAuthLimiter(cfg *config.Config, client *redis.Client, lg *zap.Logger) (limiter.Limiter, error) {
	if !cfg.RateLimit.Enabled || client == nil {
		lg.Info("auth rate limiting disabled")
		return nil, nil
	}

	l, err := limiter.NewFixedWindowLimiter(client, limiter.Config{
		Limit:     int64(cfg.RateLimit.AuthLimit),
		Window:    cfg.RateLimit.AuthWindow,
		KeyPrefix: cfg.App.Name + ":rl:auth",
	})
	if err != nil {
		return nil, fmt.Errorf("create auth limiter: %w", err)
	}

	lg.Info("auth rate limiting enabled",
		zap.Int("limit", cfg.RateLimit.AuthLimit),
		zap.Duration("window", cfg.RateLimit.AuthWindow),
	)
	return l, nil
}

// initDependencies 初始化依赖注入链：仓储 -> 服务 -> API处理器
func initDependencies(cfg *config.Config, db *database.DB, authLimiter limiter.Limiter, lg *zap.Logger) *router.Dependencies {
	userRepo := repo.NewUserRepository(db)
	bookRepo := repo.NewBookRepository(db)
	categoryRepo := repo.NewCategoryRepository(db)
	loanRepo := repo.NewLoanRepository(db)

	jwtService := service.NewJWTService(cfg, lg)
	userService := service.NewUserService(userRepo, loanRepo, jwtService, lg)
	bookService := service.NewBookService(bookRepo, loanRepo, lg)
	categoryService := service.NewCategoryService(categoryRepo, lg)
	loanService := service.NewLoanService(loanRepo, lg)

	return &router.Dependencies{
		UserHandler:     api.NewUserHandler(userService, lg),
		BookHandler:     api.NewBookHandler(bookService, lg),
		CategoryHandler: api.NewCategoryHandler(categoryService, lg),
		LoanHandler:     api.NewLoanHandler(loanService, lg),
		JWTService:      jwtService,
		Users:           userService,
		AuthLimiter:     authLimiter,
	}
}

// startServer 启动服务器并处理优雅关闭
func startServer(cfg *config.Config, handler http.Handler, lg *zap.Logger) error {
	addr := fmt.Sprintf(":%d", cfg.App.Port)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	serverErrCh := make(chan error, 1)
	go func() {
		lg.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.App.Env))
		serverErrCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-quit:
		lg.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	lg.Info("server exited")
	return nil
}

func main() {
	cfg, lg, err := initConfigAndLogger()
	if err != nil {
		log.Fatalf("failed to initialize config and logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	db, err := initDatabase(cfg, lg)
	if err != nil {
		lg.Fatal("failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			lg.Error("failed to close database connection", zap.Error(err))
		}
	}()

	redisClient := initRedis(cfg, lg)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	authLimiter, err := initAuthLimiter(cfg, redisClient, lg)
	if err != nil {
		lg.Fatal("failed to initialize rate limiter", zap.Error(err))
	}

	deps := initDependencies(cfg, db, authLimiter, lg)
	handler := router.New().Setup(cfg, deps, lg)

	if err := startServer(cfg, handler, lg); err != nil {
		lg.Error("server stopped with error", zap.Error(err))
	}
}
