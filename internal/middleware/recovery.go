package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/resp"
)

// Recovery 捕获 panic，记录堆栈并返回统一的 500 响应；堆栈只写日志不返回给客户端。
func Recovery(logger *zap.Logger, exposeDetail bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// 客户端断开时 net/http 用 ErrAbortHandler 中止，原样抛出
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				reqID := RequestIDFromContext(r.Context())
				logger.Error("panic recovered",
					zap.String("request_id", reqID),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				resp.ServerError(w, fmt.Errorf("panic: %v", rec), exposeDetail, reqID)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
