// Package logger holds the process-wide zerolog logger.
package logger

import (
	"context"
	"github.com/rs/zerolog"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type contextKey string

const loggerKey contextKey = "logger"

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

func init() {
	Init("info", "json", nil)
}

// Init configures the global logger. format is "json" or "console".
func Init(level, format string, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339

	writer := out
	if format == "console" {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	mu.Lock()
	defer mu.Unlock()
	log = zerolog.New(writer).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func Get() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

// WithContext stores l in ctx so request-scoped fields follow the request.
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// Ctx returns the request logger from ctx, falling back to the global one.
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
			return &l
		}
	}
	return Get()
}
