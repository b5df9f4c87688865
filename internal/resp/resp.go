// Package resp 定义统一的 JSON 响应信封。
//
// 成功响应：{"success": true, "message": "...", "data": ...}
// 失败响应：{"success": false, "message": "...", "code": "...", "errors"?: [...]}
package resp

import (
	"encoding/json"
	"math"
	"net/http"
)

// Code 机器可读的错误码
type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeTokenExpired Code = "TOKEN_EXPIRED"
	CodeInvalidToken Code = "INVALID_TOKEN"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeLoanState    Code = "LOAN_STATE_CONFLICT"
	CodeNoStock      Code = "INSUFFICIENT_STOCK"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeTimeout      Code = "TIMEOUT"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// FieldError 单个字段的校验错误
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Pagination 分页信息
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// NewPagination 根据总数计算页数
func NewPagination(page, limit int, total int64) *Pagination {
	pages := 0
	if limit > 0 {
		pages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return &Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

// Envelope 响应信封
type Envelope struct {
	Success    bool         `json:"success"`
	Message    string       `json:"message,omitempty"`
	Code       Code         `json:"code,omitempty"`
	Data       any          `json:"data,omitempty"`
	Pagination *Pagination  `json:"pagination,omitempty"`
	Filters    any          `json:"filters,omitempty"`
	Errors     []FieldError `json:"errors,omitempty"`
	Error      string       `json:"error,omitempty"`
	RequestID  string       `json:"request_id,omitempty"`
}

// WriteJSON 写出任意信封
func WriteJSON(w http.ResponseWriter, status int, body *Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// OK 200 成功响应
func OK(w http.ResponseWriter, message string, data any, reqID string) {
	WriteJSON(w, http.StatusOK, &Envelope{Success: true, Message: message, Data: data, RequestID: reqID})
}

// Created 201 成功响应
func Created(w http.ResponseWriter, message string, data any, reqID string) {
	WriteJSON(w, http.StatusCreated, &Envelope{Success: true, Message: message, Data: data, RequestID: reqID})
}

// Page 分页列表响应，filters 可为 nil
func Page(w http.ResponseWriter, message string, data any, pagination *Pagination, filters any, reqID string) {
	WriteJSON(w, http.StatusOK, &Envelope{
		Success:    true,
		Message:    message,
		Data:       data,
		Pagination: pagination,
		Filters:    filters,
		RequestID:  reqID,
	})
}

// Error 失败响应
func Error(w http.ResponseWriter, status int, code Code, message, reqID string) {
	WriteJSON(w, status, &Envelope{Success: false, Message: message, Code: code, RequestID: reqID})
}

// ValidationError 400 字段校验失败
func ValidationError(w http.ResponseWriter, message string, fields []FieldError, reqID string) {
	WriteJSON(w, http.StatusBadRequest, &Envelope{
		Success:   false,
		Message:   message,
		Code:      CodeValidation,
		Errors:    fields,
		RequestID: reqID,
	})
}

// ServerError 500 响应；detail 仅在非生产模式下输出
func ServerError(w http.ResponseWriter, err error, exposeDetail bool, reqID string) {
	body := &Envelope{Success: false, Message: "internal server error", Code: CodeInternal, RequestID: reqID}
	if exposeDetail && err != nil {
		body.Error = err.Error()
	}
	WriteJSON(w, http.StatusInternalServerError, body)
}

// HTTPStatusFromCode 错误码对应的默认 HTTP 状态码
func HTTPStatusFromCode(code Code) int {
	switch code {
	case CodeValidation, CodeLoanState, CodeNoStock:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeTokenExpired:
		return http.StatusUnauthorized
	case CodeInvalidToken, CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
