// Package middleware 提供 HTTP 中间件：请求 ID、恢复、超时、CORS、访问日志与认证。
package middleware

import (
	"context"

	"github.com/MorseWayne/library_api/internal/domain"
)

// contextKey 用于在上下文中存取特定键，避免与外部键冲突。
type contextKey string

// 约定的上下文键集合。
const (
	contextKeyRequestID contextKey = "request_id"
	contextKeyUser      contextKey = "user"
)

// withRequestID 将请求 ID 写入上下文。
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext 从上下文中读取请求 ID（可能为空）。
func RequestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return s
	}
	return ""
}

// WithUser 将已认证用户写入上下文，测试中也用它模拟登录态。
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, contextKeyUser, user)
}

// UserFromContext 从请求上下文中获取当前用户信息
func UserFromContext(ctx context.Context) *domain.User {
	if user, ok := ctx.Value(contextKeyUser).(*domain.User); ok {
		return user
	}
	return nil
}
