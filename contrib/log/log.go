// Package log is the structured logging facade used throughout the
// tree. It mirrors the key-value Logger/Helper shape so call sites can
// do log.NewHelper(logger).Infof("...") or the package-level
// log.Infof("...") against a swappable global logger, backed by
// zap with lumberjack-rotated output.
package log

import (
	"context"
	"fmt"
	"os"
)

// Level is a logging severity.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// DefaultMessageKey is the key under which Errorw/Infow etc. file the
// free-text message argument.
const DefaultMessageKey = "msg"

// Logger is the minimal structured-logging sink: a leveled slice of
// alternating key/value pairs, keyvals[0] conventionally being "msg".
type Logger interface {
	Log(level Level, keyvals ...any) error
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(level Level, keyvals ...any) error

func (f LoggerFunc) Log(level Level, keyvals ...any) error { return f(level, keyvals...) }

var (
	globalLogger Logger = NewStdLogger(os.Stderr)
	globalFilter       = LevelDebug
)

// SetLogger installs the process-wide Logger.
func SetLogger(l Logger) { globalLogger = l }

// GetLogger returns the process-wide Logger.
func GetLogger() Logger { return globalLogger }

// DefaultLogger is the Logger installed before SetLogger is ever called.
var DefaultLogger = globalLogger

// With returns a Logger that prepends the given key/value pairs to
// every call.
func With(l Logger, keyvals ...any) Logger {
	return LoggerFunc(func(level Level, kv ...any) error {
		return l.Log(level, append(append([]any{}, keyvals...), kv...)...)
	})
}

// Timestamp returns layout itself as a plain string value for use with
// With(). This Logger doesn't special-case Valuer functions, so the
// logged value is the layout string, not the current time.
func Timestamp(layout string) any {
	return layout
}

// Enabled reports whether level passes the current global filter.
func Enabled(level Level) bool { return level >= globalFilter }

// NewFilter wraps l so that only levels at or above opt's threshold
// are actually logged.
func NewFilter(l Logger, opts ...FilterOption) Logger {
	f := &filter{next: l, level: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type filter struct {
	next  Logger
	level Level
}

func (f *filter) Log(level Level, keyvals ...any) error {
	if level < f.level {
		return nil
	}
	return f.next.Log(level, keyvals...)
}

type FilterOption func(*filter)

// FilterLevel sets the minimum level a NewFilter-wrapped Logger emits.
func FilterLevel(level Level) FilterOption {
	return func(f *filter) { f.level = level }
}

// Helper is the call-site ergonomic wrapper most code actually uses:
// Debugf/Infof/Warnf/Errorf/Fatalf plus the structured *w variants.
type Helper struct {
	logger Logger
}

func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) log(level Level, msg string) {
	_ = h.logger.Log(level, DefaultMessageKey, msg)
}

func (h *Helper) Debugf(format string, args ...any) { h.log(LevelDebug, fmt.Sprintf(format, args...)) }
func (h *Helper) Infof(format string, args ...any)  { h.log(LevelInfo, fmt.Sprintf(format, args...)) }
func (h *Helper) Warnf(format string, args ...any)  { h.log(LevelWarn, fmt.Sprintf(format, args...)) }
func (h *Helper) Errorf(format string, args ...any) { h.log(LevelError, fmt.Sprintf(format, args...)) }
func (h *Helper) Fatalf(format string, args ...any) {
	h.log(LevelFatal, fmt.Sprintf(format, args...))
	os.Exit(1)
}

func (h *Helper) Debug(args ...any) { h.log(LevelDebug, fmt.Sprint(args...)) }
func (h *Helper) Info(args ...any)  { h.log(LevelInfo, fmt.Sprint(args...)) }
func (h *Helper) Warn(args ...any)  { h.log(LevelWarn, fmt.Sprint(args...)) }
func (h *Helper) Error(args ...any) { h.log(LevelError, fmt.Sprint(args...)) }
func (h *Helper) Fatal(args ...any) {
	h.log(LevelFatal, fmt.Sprint(args...))
	os.Exit(1)
}

// Errorw logs a structured error entry: key "msg" carries the first
// positional message argument, remaining keyvals are appended as-is.
func (h *Helper) Errorw(keyvals ...any) { _ = h.logger.Log(LevelError, keyvals...) }
func (h *Helper) Infow(keyvals ...any)  { _ = h.logger.Log(LevelInfo, keyvals...) }
func (h *Helper) Warnw(keyvals ...any)  { _ = h.logger.Log(LevelWarn, keyvals...) }

type ctxKey struct{}

// WithContext returns a context carrying helper, retrievable with Context.
func WithContext(ctx context.Context, helper *Helper) context.Context {
	return context.WithValue(ctx, ctxKey{}, helper)
}

// Context returns the *Helper stashed in ctx by WithContext, or a
// fresh Helper over the global logger if none was stashed.
func Context(ctx context.Context) *Helper {
	if h, ok := ctx.Value(ctxKey{}).(*Helper); ok {
		return h
	}
	return NewHelper(GetLogger())
}

// Package-level convenience functions route through GetLogger().
func Debugf(format string, args ...any) { NewHelper(GetLogger()).Debugf(format, args...) }
func Infof(format string, args ...any)  { NewHelper(GetLogger()).Infof(format, args...) }
func Warnf(format string, args ...any)  { NewHelper(GetLogger()).Warnf(format, args...) }
func Errorf(format string, args ...any) { NewHelper(GetLogger()).Errorf(format, args...) }
func Fatalf(format string, args ...any) { NewHelper(GetLogger()).Fatalf(format, args...) }
func Debug(args ...any)                 { NewHelper(GetLogger()).Debug(args...) }
func Info(args ...any)                  { NewHelper(GetLogger()).Info(args...) }
func Warn(args ...any)                  { NewHelper(GetLogger()).Warn(args...) }
func Error(args ...any)                 { NewHelper(GetLogger()).Error(args...) }
func Fatal(args ...any)                 { NewHelper(GetLogger()).Fatal(args...) }
func Errorw(keyvals ...any)             { NewHelper(GetLogger()).Errorw(keyvals...) }
