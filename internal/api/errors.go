package api

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/authz"
	"github.com/MorseWayne/library_api/internal/middleware"
	"github.com/MorseWayne/library_api/internal/resp"
	"github.com/MorseWayne/library_api/internal/service"
)

// errorMapping 业务错误到响应错误码的映射
type errorMapping struct {
	target error
	code   resp.Code
}

// errorTable 所有业务错误在这里统一映射，处理器不单独判断
var errorTable = []errorMapping{
	{authz.ErrUnauthenticated, resp.CodeUnauthorized},
	{authz.ErrForbidden, resp.CodeForbidden},

	{service.ErrInvalidCredentials, resp.CodeUnauthorized},
	{service.ErrTokenExpired, resp.CodeTokenExpired},
	{service.ErrInvalidToken, resp.CodeInvalidToken},
	{service.ErrTokenNotReady, resp.CodeInvalidToken},
	{service.ErrInvalidRefreshToken, resp.CodeInvalidToken},

	{service.ErrEmptyUpdate, resp.CodeValidation},
	{service.ErrInvalidRole, resp.CodeValidation},
	{service.ErrInvalidDueDays, resp.CodeValidation},

	{service.ErrUserNotFound, resp.CodeNotFound},
	{service.ErrBookNotFound, resp.CodeNotFound},
	{service.ErrCategoryNotFound, resp.CodeNotFound},
	{service.ErrLoanNotFound, resp.CodeNotFound},

	{service.ErrUserExists, resp.CodeConflict},
	{service.ErrEmailTaken, resp.CodeConflict},
	{service.ErrCategoryExists, resp.CodeConflict},
	{service.ErrCategoryInUse, resp.CodeConflict},
	{service.ErrBookHasLoans, resp.CodeConflict},

	{service.ErrBookUnavailable, resp.CodeNoStock},
	{service.ErrDuplicateLoan, resp.CodeLoanState},
	{service.ErrLoanNotActive, resp.CodeLoanState},
	{service.ErrLoanPastDue, resp.CodeLoanState},

	{context.DeadlineExceeded, resp.CodeTimeout},
}

// codeFor 返回错误对应的错误码与响应消息；未知错误返回 false
func codeFor(err error) (resp.Code, string, bool) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			msg := m.target.Error()
			if m.code == resp.CodeTimeout {
				msg = "request timeout"
			}
			return m.code, msg, true
		}
	}
	return "", "", false
}

// exposeDetail 非 release 模式下在 500 响应中附带错误详情
func exposeDetail() bool {
	return gin.Mode() != gin.ReleaseMode
}

// writeError 将服务层错误写成统一响应
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	reqID := middleware.RequestIDFromContext(c.Request.Context())
	if code, msg, ok := codeFor(err); ok {
		resp.Error(c.Writer, resp.HTTPStatusFromCode(code), code, msg, reqID)
		return
	}

	logger.Error("request failed",
		zap.String("request_id", reqID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	resp.ServerError(c.Writer, err, exposeDetail(), reqID)
}

// writeValidation 400 VALIDATION_ERROR
func writeValidation(c *gin.Context, message string, fields []resp.FieldError) {
	resp.ValidationError(c.Writer, message, fields, middleware.RequestIDFromContext(c.Request.Context()))
}

