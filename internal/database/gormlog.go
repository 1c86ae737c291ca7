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
	slowQuery     = time.Second
	maxLoggedSQL  = 200
	poolStatsGap  = time.Minute
	truncatedMark = "... (truncated)"
)

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// gormSlog routes GORM's logging through slog. Statements are logged at
// debug, slow ones at warn and failures at error.
type gormSlog struct {
	log   *slog.Logger
	level logger.LogLevel

	// pool is consulted when sqlite reports lock contention.
	pool      *sql.DB
	mu        *sync.Mutex
	lastStats *time.Time
}

func newGormLogger(level string, log *slog.Logger) *gormSlog {
	return &gormSlog{
		log:       log,
		level:     gormLogLevel(level),
		mu:        &sync.Mutex{},
		lastStats: new(time.Time),
	}
}

// SetSQLDB attaches the pool whose stats are logged on lock contention.
func (g *gormSlog) SetSQLDB(db *sql.DB) { g.pool = db }

func (g *gormSlog) LogMode(level logger.LogLevel) logger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

func (g *gormSlog) Info(ctx context.Context, msg string, args ...any) {
	if g.level >= logger.Info {
		g.log.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormSlog) Warn(ctx context.Context, msg string, args ...any) {
	if g.level >= logger.Warn {
		g.log.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormSlog) Error(ctx context.Context, msg string, args ...any) {
	if g.level >= logger.Error {
		g.log.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormSlog) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var level slog.Level
	switch {
	case err != nil && g.level >= logger.Error:
		level = slog.LevelError
	case elapsed > slowQuery && g.level >= logger.Warn:
		level = slog.LevelWarn
	case g.level >= logger.Info:
		level = slog.LevelDebug
	default:
		return
	}
	// fc interpolates the whole statement; skip it when nothing is written.
	if !g.log.Enabled(ctx, level) {
		return
	}

	stmt, rows := fc()
	attrs := []slog.Attr{
		slog.String("sql", clipSQL(stmt)),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}

	switch level {
	case slog.LevelError:
		kind := errorKind(err)
		if kind == "SQLITE_BUSY" {
			g.logPoolStats(ctx)
		}
		attrs = append(attrs, slog.String("error_type", kind), slog.String("error", err.Error()))
		g.log.LogAttrs(ctx, level, "database error", attrs...)
	case slog.LevelWarn:
		g.log.LogAttrs(ctx, level, "slow query", attrs...)
	default:
		g.log.LogAttrs(ctx, level, "database query", attrs...)
	}
}

func errorKind(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database is locked"):
		return "SQLITE_BUSY"
	case errors.Is(err, context.Canceled):
		return "CONTEXT_CANCELED"
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "NOT_FOUND"
	default:
		return "OTHER"
	}
}

func clipSQL(stmt string) string {
	if len(stmt) <= maxLoggedSQL {
		return stmt
	}
	return stmt[:maxLoggedSQL] + truncatedMark
}

// logPoolStats writes the pool state at most once per poolStatsGap.
func (g *gormSlog) logPoolStats(ctx context.Context) {
	if g.pool == nil {
		return
	}
	g.mu.Lock()
	if time.Since(*g.lastStats) < poolStatsGap {
		g.mu.Unlock()
		return
	}
	*g.lastStats = time.Now()
	g.mu.Unlock()

	st := g.pool.Stats()
	g.log.WarnContext(ctx, "sqlite lock contention",
		slog.Int("max_open_conns", st.MaxOpenConnections),
		slog.Int("open_conns", st.OpenConnections),
		slog.Int("in_use", st.InUse),
		slog.Int("idle", st.Idle),
		slog.Int64("wait_count", st.WaitCount),
		slog.Duration("wait_duration", st.WaitDuration),
	)
}
