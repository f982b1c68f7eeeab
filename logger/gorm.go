package logger

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"time"
)

const slowQueryThreshold = 200 * time.Millisecond

// GormLogger sends gorm's SQL log through zerolog.
type GormLogger struct {
	level gormlogger.LogLevel
}

func NewGormLogger(level gormlogger.LogLevel) *GormLogger {
	return &GormLogger{level: level}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &GormLogger{level: level}
}

func (l *GormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		Ctx(ctx).Info().Str("component", "gorm").Msg(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		Ctx(ctx).Warn().Str("component", "gorm").Msg(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		Ctx(ctx).Error().Str("component", "gorm").Msg(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	log := Ctx(ctx)

	switch {
	// record-not-found is a normal branch in handlers
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		log.Error().Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query failed")
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		log.Warn().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("slow query")
	case l.level >= gormlogger.Info:
		log.Debug().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query")
	}
}
