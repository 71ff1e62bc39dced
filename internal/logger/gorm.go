package logger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SlowQueryThreshold is the duration above which queries are logged at warn level.
const SlowQueryThreshold = 200 * time.Millisecond

// GormLogger routes gorm's SQL logging through the context logger so query
// lines carry the request and user fields of the call that issued them.
type GormLogger struct {
	level gormlogger.LogLevel
}

// NewGormLogger creates a gorm logger at the given level.
func NewGormLogger(level gormlogger.LogLevel) *GormLogger {
	return &GormLogger{level: level}
}

// LogMode implements gormlogger.Interface.
func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &GormLogger{level: level}
}

// Info implements gormlogger.Interface.
func (g *GormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Info {
		FromContext(ctx).WithField(FieldComponent, "gorm").Infof(msg, args...)
	}
}

// Warn implements gormlogger.Interface.
func (g *GormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Warn {
		FromContext(ctx).WithField(FieldComponent, "gorm").Warnf(msg, args...)
	}
}

// Error implements gormlogger.Interface.
func (g *GormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Error {
		FromContext(ctx).WithField(FieldComponent, "gorm").Errorf(msg, args...)
	}
}

// Trace implements gormlogger.Interface. Missing rows are expected lookups and
// are not reported as errors.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && g.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		g.entry(ctx, elapsed, rows).WithError(err).Errorf("Query failed: %s", sql)
	case elapsed > SlowQueryThreshold && g.level >= gormlogger.Warn:
		sql, rows := fc()
		g.entry(ctx, elapsed, rows).Warnf("Slow query: %s", sql)
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		g.entry(ctx, elapsed, rows).Debugf("Query: %s", sql)
	}
}

func (g *GormLogger) entry(ctx context.Context, elapsed time.Duration, rows int64) *Logger {
	return FromContext(ctx).WithFields(Fields{
		FieldComponent:  "gorm",
		FieldDurationMs: elapsed.Milliseconds(),
		FieldCount:      rows,
	})
}
