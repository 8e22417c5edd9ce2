package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	slowQueryThreshold = time.Second
	maxSQLLogLength    = 200
	poolStatsInterval  = time.Minute
)

// gormLogger routes GORM's logging into slog. Query text is only rendered
// when a record will actually be emitted.
type gormLogger struct {
	log   *slog.Logger
	level logger.LogLevel
	pool  *sql.DB

	mu            sync.Mutex
	lastPoolStats time.Time
}

var levelsByName = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

func newGormLogger(level string, log *slog.Logger) *gormLogger {
	lvl, ok := levelsByName[level]
	if !ok {
		lvl = logger.Warn
	}
	return &gormLogger{log: log, level: lvl}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &gormLogger{log: l.log, level: level, pool: l.pool}
}

func (l *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.log.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.log.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.log.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)

	var lvl slog.Level
	var msg string
	switch {
	case failed && l.level >= logger.Error:
		lvl, msg = slog.LevelError, "database error"
	case elapsed > slowQueryThreshold && l.level >= logger.Warn:
		lvl, msg = slog.LevelWarn, "slow query"
	case l.level >= logger.Info:
		lvl, msg = slog.LevelDebug, "database query"
	default:
		return
	}
	if !l.log.Enabled(ctx, lvl) {
		return
	}

	query, rows := fc()
	attrs := []slog.Attr{
		slog.String("sql", truncateSQL(query)),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}
	if failed {
		attrs = append(attrs, slog.String("error", err.Error()))
		if strings.Contains(err.Error(), "database is locked") {
			l.logPoolStats(ctx)
		}
	}
	l.log.LogAttrs(ctx, lvl, msg, attrs...)
}

// logPoolStats reports pool pressure on lock contention, rate limited.
func (l *gormLogger) logPoolStats(ctx context.Context) {
	if l.pool == nil {
		return
	}
	l.mu.Lock()
	if time.Since(l.lastPoolStats) < poolStatsInterval {
		l.mu.Unlock()
		return
	}
	l.lastPoolStats = time.Now()
	l.mu.Unlock()

	s := l.pool.Stats()
	l.log.WarnContext(ctx, "database pool stats on lock contention",
		slog.Int("open_conns", s.OpenConnections),
		slog.Int("in_use", s.InUse),
		slog.Int64("wait_count", s.WaitCount),
		slog.Duration("wait_duration", s.WaitDuration),
	)
}

func truncateSQL(query string) string {
	if len(query) <= maxSQLLogLength {
		return query
	}
	return query[:maxSQLLogLength] + "... (truncated)"
}
