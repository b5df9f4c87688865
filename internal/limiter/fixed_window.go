package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultKeyPrefix = "library:rl"

// fixedWindowScript 原子地检查并累加当前窗口计数。
// KEYS[1] 计数器前缀；ARGV: limit, window(秒), now(秒)
// 返回 {allowed, remaining, retry_after}
const fixedWindowScript = `
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local window_start = math.floor(now / window) * window
local window_key = KEYS[1] .. ":" .. window_start

local current = tonumber(redis.call('GET', window_key) or 0)
if current + 1 > limit then
    return {0, 0, window_start + window - now}
end

local count = redis.call('INCR', window_key)
if count == 1 then
    redis.call('EXPIRE', window_key, window)
end
return {1, limit - count, 0}
`

// FixedWindowLimiter 固定窗口限流器
type FixedWindowLimiter struct {
	client Scripter
	config Config
	now    func() time.Time
}

// NewFixedWindowLimiter 创建固定窗口限流器
func NewFixedWindowLimiter(client Scripter, cfg Config) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", cfg.Limit)
	}
	if cfg.Window < time.Second {
		return nil, fmt.Errorf("window must be at least 1s, got %s", cfg.Window)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return &FixedWindowLimiter{client: client, config: cfg, now: time.Now}, nil
}

// Allow 检查并记录一次请求
func (fw *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	redisKey := fmt.Sprintf("%s:%s", fw.config.KeyPrefix, key)

	values, err := fw.client.Eval(ctx, fixedWindowScript,
		[]string{redisKey},
		fw.config.Limit,
		int64(fw.config.Window/time.Second),
		fw.now().Unix(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("run fixed window script: %w", err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected fixed window result: %v", values)
	}

	remaining := values[1]
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:    values[0] == 1,
		Limit:      fw.config.Limit,
		Remaining:  remaining,
		RetryAfter: time.Duration(values[2]) * time.Second,
	}, nil
}
