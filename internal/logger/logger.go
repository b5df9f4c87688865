// Package logger 基于 zap 构建应用日志器。
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 根据运行环境构建日志器：prod 默认 JSON 编码，其余环境默认 console 编码。
// encoding 为空时按环境选择；service 与 version 作为固定字段写入每条日志。
func New(env, level, encoding, service, version string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(env, "prod") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	switch strings.ToLower(encoding) {
	case "":
	case "json", "console":
		cfg.Encoding = strings.ToLower(encoding)
		if cfg.Encoding == "json" {
			cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		}
	default:
		return nil, fmt.Errorf("unsupported log encoding %q", encoding)
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]any{
		"service": service,
		"version": version,
	}

	return cfg.Build()
}
