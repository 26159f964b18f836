// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"stockflow/internal/pkg/tracing"
)

// Init 配置全局 zerolog logger。level 为空或无法解析时使用 info。
func Init(serviceName, level string) {
	InitWithWriter(os.Stdout, serviceName, level)
}

// InitWithWriter 与 Init 相同，但允许指定输出 (测试使用)。
func InitWithWriter(w io.Writer, serviceName, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zlog.Logger = zerolog.New(w).With().Timestamp().Str("service", serviceName).Logger()
}

// Ctx 返回一个带有当前 trace_id / span_id 的 logger。
// 如果 ctx 中已经通过 WithContext 注入了 logger，则以它为基础。
func Ctx(ctx context.Context) *zerolog.Logger {
	base := zerolog.Ctx(ctx)
	if base.GetLevel() == zerolog.Disabled || base == zerolog.DefaultContextLogger {
		base = &zlog.Logger
	}
	traceID := tracing.GetTraceIDFromContext(ctx)
	if traceID == "" {
		return base
	}
	l := base.With().
		Str("trace_id", traceID).
		Str("span_id", tracing.GetSpanIDFromContext(ctx)).
		Logger()
	return &l
}
