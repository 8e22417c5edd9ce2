// Package observability holds the structured logging conventions audex uses:
// handler construction from configuration, attribute helpers and context
// carriers for loggers and request IDs.
package observability

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/jmylchreest/audex/internal/config"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	loggerKey
)

// Redacted replaces the value of any masked attribute.
const Redacted = "[REDACTED]"

// levelAliases accepts the spellings users put in config files and flags.
var levelAliases = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// NewLoggerWithWriter builds a logger writing cfg.Format records to w.
// Attributes named in cfg.Redact are masked before they reach the handler.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: replaceAttr(cfg),
	}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	if l, ok := levelAliases[strings.ToLower(strings.TrimSpace(level))]; ok {
		return l
	}
	return slog.LevelInfo
}

// replaceAttr formats the top-level timestamp and masks redacted fields.
// It returns nil when neither applies.
func replaceAttr(cfg config.LoggingConfig) func([]string, slog.Attr) slog.Attr {
	var redact func([]string, slog.Attr) slog.Attr
	if len(cfg.Redact) > 0 {
		opts := []masq.Option{masq.WithRedactMessage(Redacted)}
		for _, field := range cfg.Redact {
			opts = append(opts, masq.WithFieldName(strings.ToLower(field)))
		}
		redact = masq.New(opts...)
	}
	if redact == nil && cfg.TimeFormat == "" {
		return nil
	}

	return func(groups []string, a slog.Attr) slog.Attr {
		if cfg.TimeFormat != "" && len(groups) == 0 && a.Key == slog.TimeKey {
			if t, ok := a.Value.Any().(time.Time); ok {
				return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
			}
			return a
		}
		if redact != nil {
			return redact(groups, a)
		}
		return a
	}
}

// WithApp tags every record with the application name.
func WithApp(logger *slog.Logger, app string) *slog.Logger {
	return logger.With(slog.String("app", app))
}

// WithComponent tags records with the subsystem that emitted them.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithOperation tags records with a named operation, such as a scheduled task.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String("operation", operation))
}

// WithJob tags records with an extraction job ID.
func WithJob(logger *slog.Logger, jobID string) *slog.Logger {
	return logger.With(slog.String("job_id", jobID))
}

// WithError tags records with err. A nil err returns logger unchanged.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// LoggerFromContext returns the logger stored by ContextWithLogger, or the
// default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// RequestIDFromContext returns the request ID, or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// SetDefault installs logger as the process-wide slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// TimedOperationWithError logs the start of operation and returns a func
// that logs its outcome. The outcome is read from *errPtr when the func runs,
// so it is meant to be deferred:
//
//	var err error
//	defer observability.TimedOperationWithError(ctx, logger, "preload_engine", &err)()
//	err = doSomething()
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	logger = WithOperation(logger, operation)
	start := time.Now()
	logger.DebugContext(ctx, "operation started")

	return func() {
		elapsed := slog.Duration("duration", time.Since(start))
		if errPtr != nil && *errPtr != nil {
			WithError(logger, *errPtr).ErrorContext(ctx, "operation failed", elapsed)
			return
		}
		logger.InfoContext(ctx, "operation completed", elapsed)
	}
}

// SanitizeURL masks userinfo and drops the query and fragment of a URL so it
// can be logged. Strings without a scheme are returned as given.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	if u.Scheme == "" {
		return raw
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery, u.ForceQuery, u.Fragment, u.RawFragment = "", false, "", ""
	return u.String()
}
