package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapLogger adapts *zap.Logger to Logger, translating the alternating
// keyvals slice into zap.Any fields.
type ZapLogger struct {
	z *zap.Logger
}

func NewZapLogger(z *zap.Logger) *ZapLogger {
	return &ZapLogger{z: z}
}

func (l *ZapLogger) Log(level Level, keyvals ...any) error {
	msg := ""
	fields := make([]zap.Field, 0, len(keyvals)/2)

	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		if key == DefaultMessageKey {
			msg, _ = keyvals[i+1].(string)
			continue
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	if msg == "" && len(keyvals) > 0 {
		if s, ok := keyvals[len(keyvals)-1].(string); ok {
			msg = s
		}
	}

	switch level {
	case LevelDebug:
		l.z.Debug(msg, fields...)
	case LevelInfo:
		l.z.Info(msg, fields...)
	case LevelWarn:
		l.z.Warn(msg, fields...)
	case LevelError:
		l.z.Error(msg, fields...)
	case LevelFatal:
		l.z.Fatal(msg, fields...)
	}
	return nil
}

// RotatingWriter builds a lumberjack-backed zapcore.WriteSyncer: size
// in MB, age/backups in days/count, matching the configured rotation policy
// (Logger.Path/MaxSize/MaxAge/MaxBackups/Compress).
func RotatingWriter(path string, maxSizeMB, maxAgeDays, maxBackups int, compress bool) io.Writer {
	if path == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
		Compress:   compress,
	}
}

// NewProductionZap builds a *zap.Logger writing JSON lines to w (or
// stderr if w is nil) at the given minimum level.
func NewProductionZap(w io.Writer, level Level, caller bool) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})

	var ws zapcore.WriteSyncer
	if w != nil {
		ws = zapcore.AddSync(w)
	} else {
		ws = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(enc, ws, toZapLevel(level))

	opts := []zap.Option{}
	if caller {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...)
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
