package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"

	// 超长的外部请求 ID 直接丢弃，避免污染日志
	maxRequestIDLength = 128
)

// RequestID 确保每个请求都有请求 ID：
// 优先沿用请求头 X-Request-ID，缺失或不合法时生成 UUID，
// 并写入响应头与请求上下文。
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if rid == "" || len(rid) > maxRequestIDLength {
			rid = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, rid)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), rid)))
	})
}
