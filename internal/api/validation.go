package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/MorseWayne/library_api/internal/resp"
)

// passwordSymbols 强密码要求至少包含其中一个符号
const passwordSymbols = "@$!%*?&"

var registerOnce sync.Once

// RegisterValidators 在 gin 的校验引擎上注册自定义规则，并让错误字段使用 json 名称。
// 可重复调用。
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("strongpwd", strongPassword)
	})
}

// ValidateStruct 用与 HTTP 请求相同的规则校验结构体，供命令行工具复用
func ValidateStruct(obj any) error {
	RegisterValidators()
	return binding.Validator.ValidateStruct(obj)
}

// strongPassword 至少包含小写字母、大写字母、数字和一个 @$!%*?& 符号
func strongPassword(fl validator.FieldLevel) bool {
	var lower, upper, digit, symbol bool
	for _, r := range fl.Field().String() {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	return lower && upper && digit && symbol
}

// bindJSON 解析并校验请求体；失败时已写出 400 响应并返回 false
func bindJSON(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		writeValidation(c, "validation failed", fieldErrors(verrs))
		return false
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		writeValidation(c, "validation failed", []resp.FieldError{{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("must be of type %s", typeErr.Type),
		}})
		return false
	}

	writeValidation(c, "invalid request body", nil)
	return false
}

func fieldErrors(verrs validator.ValidationErrors) []resp.FieldError {
	out := make([]resp.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, resp.FieldError{Field: fieldName(fe), Message: fieldMessage(fe)})
	}
	return out
}

// fieldName 去掉顶层结构体名，保留嵌套路径，例如 categories[0]
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "alphanum":
		return "must contain only letters and digits"
	case "strongpwd":
		return "must contain a lowercase letter, an uppercase letter, a digit and one of " + passwordSymbols
	case "min":
		if isString {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid"
	}
}

// queryParser 收集查询参数解析错误，统一以 VALIDATION_ERROR 返回
type queryParser struct {
	c      *gin.Context
	errors []resp.FieldError
}

func newQueryParser(c *gin.Context) *queryParser {
	return &queryParser{c: c}
}

func (p *queryParser) fail(field, message string) {
	p.errors = append(p.errors, resp.FieldError{Field: field, Message: message})
}

// intValue 分页等可选整数，缺省或非法时返回 0 交给 Normalize 处理
func (p *queryParser) intValue(name string) int {
	v, err := strconv.Atoi(p.c.Query(name))
	if err != nil {
		return 0
	}
	return v
}

// optionalInt 过滤条件中的整数，非法时记录错误
func (p *queryParser) optionalInt(name string, min int) *int {
	raw := strings.TrimSpace(p.c.Query(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		p.fail(name, fmt.Sprintf("must be an integer >= %d", min))
		return nil
	}
	return &v
}

func (p *queryParser) optionalID(name string) *int64 {
	raw := strings.TrimSpace(p.c.Query(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		p.fail(name, "must be a positive integer")
		return nil
	}
	return &v
}

// optionalTime 支持 RFC3339 与 YYYY-MM-DD；endOfDay 为 true 时日期取当天最后一刻
func (p *queryParser) optionalTime(name string, endOfDay bool) *time.Time {
	raw := strings.TrimSpace(p.c.Query(name))
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		p.fail(name, "must be an RFC3339 timestamp or YYYY-MM-DD date")
		return nil
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t
}

// ok 无解析错误时返回 true，否则写出 400
func (p *queryParser) ok() bool {
	if len(p.errors) == 0 {
		return true
	}
	writeValidation(p.c, "invalid query parameters", p.errors)
	return false
}

// pathID 解析路径中的正整数 ID；失败时已写出 400
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		writeValidation(c, "invalid id", []resp.FieldError{{Field: name, Message: "must be a positive integer"}})
		return 0, false
	}
	return id, true
}
