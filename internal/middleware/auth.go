package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/authz"
	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/resp"
	"github.com/MorseWayne/library_api/internal/service"
)

const bearerPrefix = "Bearer "

// UserLoader 认证中间件按令牌中的用户 ID 加载最新的用户记录
type UserLoader interface {
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
}

// AuthMiddleware JWT 认证中间件。
// 令牌缺失返回 401 UNAUTHORIZED，过期返回 401 TOKEN_EXPIRED，其余无效令牌返回 403 INVALID_TOKEN。
// 用户从数据库重新加载，角色变更即时生效。
func AuthMiddleware(jwtService service.JWTService, users UserLoader, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := RequestIDFromContext(c.Request.Context())

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			logger.Debug("missing bearer token", zap.String("request_id", reqID))
			abort(c, resp.CodeUnauthorized, "access token required")
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
		if tokenString == "" {
			abort(c, resp.CodeUnauthorized, "access token required")
			return
		}

		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			logger.Warn("token validation failed", zap.String("request_id", reqID), zap.Error(err))
			if errors.Is(err, service.ErrTokenExpired) {
				abort(c, resp.CodeTokenExpired, "access token expired")
				return
			}
			abort(c, resp.CodeInvalidToken, "invalid access token")
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				logger.Warn("token subject no longer exists",
					zap.String("request_id", reqID),
					zap.Int64("user_id", claims.UserID),
				)
				abort(c, resp.CodeUnauthorized, "user no longer exists")
				return
			}
			logger.Error("failed to load token subject", zap.String("request_id", reqID), zap.Error(err))
			resp.ServerError(c.Writer, err, gin.Mode() != gin.ReleaseMode, reqID)
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(WithUser(c.Request.Context(), user))
		c.Next()
	}
}

// RequireCapability 路由级授权，仅用于与资源归属无关的管理员能力；
// 归属相关的判断在服务层完成。
func RequireCapability(capability authz.Capability, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := UserFromContext(c.Request.Context())
		if err := authz.Authorize(user, capability, 0); err != nil {
			if errors.Is(err, authz.ErrUnauthenticated) {
				abort(c, resp.CodeUnauthorized, "authentication required")
				return
			}
			logger.Warn("insufficient permissions",
				zap.String("request_id", RequestIDFromContext(c.Request.Context())),
				zap.Int64("user_id", user.ID),
				zap.String("user_role", string(user.Role)),
				zap.String("capability", string(capability)),
			)
			abort(c, resp.CodeForbidden, "insufficient permissions")
			return
		}
		c.Next()
	}
}

// CurrentUser 处理器中获取当前用户
func CurrentUser(c *gin.Context) *domain.User {
	return UserFromContext(c.Request.Context())
}

func abort(c *gin.Context, code resp.Code, message string) {
	resp.Error(c.Writer, resp.HTTPStatusFromCode(code), code, message, RequestIDFromContext(c.Request.Context()))
	c.Abort()
}
