package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MorseWayne/library_api/internal/resp"
)

// Timeout 为请求上下文设置截止时间。
// 下游的数据库调用随上下文取消；处理器超时后仍未写出响应时，这里补写 TIMEOUT。
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			if !rec.wroteHeader && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				WriteTimeout(rec, r)
			}
		})
	}
}

// WriteTimeout 写出统一的超时响应
func WriteTimeout(w http.ResponseWriter, r *http.Request) {
	resp.Error(w, resp.HTTPStatusFromCode(resp.CodeTimeout), resp.CodeTimeout, "request timeout", RequestIDFromContext(r.Context()))
}
