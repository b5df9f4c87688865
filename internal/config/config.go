// Package config 负责从 .env 与环境变量加载应用配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Config 应用整体配置
type Config struct {
	App       AppConfig
	Log       LogConfig
	Database  DatabaseConfig `envconfig:"DB"`
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig `split_words:"true"`
	CORS      CORSConfig
}

// AppConfig 服务基础配置
type AppConfig struct {
	Name            string        `split_words:"true" default:"library-api"`
	Env             string        `split_words:"true" default:"dev"`
	Version         string        `split_words:"true" default:"0.1.0"`
	Port            int           `split_words:"true" default:"3000"`
	RequestTimeout  time.Duration `split_words:"true" default:"15s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string `split_words:"true" default:"info"`
	Encoding string `split_words:"true" default:""`
}

// DatabaseConfig MySQL 连接配置
type DatabaseConfig struct {
	Host         string `split_words:"true" default:"127.0.0.1"`
	Port         int    `split_words:"true" default:"3306"`
	User         string `split_words:"true" default:"root"`
	Password     string `split_words:"true" default:""`
	Name         string `split_words:"true" default:"library"`
	MaxOpenConns int    `split_words:"true" default:"25"`
	MaxIdleConns int    `split_words:"true" default:"10"`
}

// RedisConfig Redis 连接配置，用于认证限流
type RedisConfig struct {
	Host     string `split_words:"true" default:"127.0.0.1"`
	Port     int    `split_words:"true" default:"6379"`
	Password string `split_words:"true" default:""`
	DB       int    `split_words:"true" default:"0"`
}

// Addr 返回 host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// JWTConfig 令牌配置，访问令牌与刷新令牌使用不同密钥
type JWTConfig struct {
	Secret          string        `split_words:"true" default:"dev-access-secret"`
	RefreshSecret   string        `split_words:"true" default:"dev-refresh-secret"`
	AccessTokenTTL  time.Duration `split_words:"true" default:"15m"`
	RefreshTokenTTL time.Duration `split_words:"true" default:"168h"`
}

// RateLimitConfig 认证接口限流配置
type RateLimitConfig struct {
	Enabled    bool          `split_words:"true" default:"true"`
	AuthLimit  int           `split_words:"true" default:"10"`
	AuthWindow time.Duration `split_words:"true" default:"15m"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins []string `split_words:"true" default:"*"`
	AllowedMethods []string `split_words:"true" default:"GET,POST,PUT,PATCH,DELETE,OPTIONS"`
	AllowedHeaders []string `split_words:"true" default:"Authorization,Content-Type,X-Request-ID"`
}

// Load 先加载 .env（若存在），再从环境变量解析配置并校验
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProd 是否生产环境
func (c *Config) IsProd() bool {
	return strings.EqualFold(c.App.Env, EnvProd)
}

// Validate 校验配置的合法性
func (c *Config) Validate() error {
	var problems []string

	if c.App.Port <= 0 || c.App.Port > 65535 {
		problems = append(problems, "APP_PORT must be in 1..65535")
	}
	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0 {
		problems = append(problems, "JWT token TTLs must be positive")
	}
	if c.JWT.Secret == "" || c.JWT.RefreshSecret == "" {
		problems = append(problems, "JWT_SECRET and JWT_REFRESH_SECRET are required")
	}
	if c.IsProd() && (strings.HasPrefix(c.JWT.Secret, "dev-") || strings.HasPrefix(c.JWT.RefreshSecret, "dev-")) {
		problems = append(problems, "development JWT secrets are not allowed in prod")
	}
	if c.JWT.Secret != "" && c.JWT.Secret == c.JWT.RefreshSecret {
		problems = append(problems, "JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.RateLimit.Enabled && (c.RateLimit.AuthLimit <= 0 || c.RateLimit.AuthWindow <= 0) {
		problems = append(problems, "RATE_LIMIT_AUTH_LIMIT and RATE_LIMIT_AUTH_WINDOW must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
