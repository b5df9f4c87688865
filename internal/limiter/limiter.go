// Package limiter 提供基于 Redis 的固定窗口限流，用于保护认证接口。
package limiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result 限流结果
type Result struct {
	Allowed    bool          // 是否允许通过
	Limit      int64         // 窗口内允许的请求数
	Remaining  int64         // 剩余配额
	RetryAfter time.Duration // 被拒绝时建议的重试时间
}

// Limiter 限流器接口
type Limiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
}

// Scripter 执行 Lua 脚本所需的最小 Redis 能力，*redis.Client 满足该接口
type Scripter interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Config 限流配置
type Config struct {
	Limit     int64         // 每个窗口允许的请求数
	Window    time.Duration // 窗口长度，按秒取整
	KeyPrefix string
}
