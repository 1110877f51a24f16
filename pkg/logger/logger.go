package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger

// project specific keys
const (
	RequestIDKey = "request_id"
	UserIdKey    = "user_id"
	SessionKey   = "session"
	ComponentKey = "component"
	EnvKey       = "env"
	ErrorKey     = "error"
)

func init() {
	Log = build(zap.NewProductionConfig())
}

// Init rebuilds the global logger for env. Anything other than "production"
// gets debug level so stale-response drops show up locally.
func Init(env string) {
	cfg := zap.NewProductionConfig()
	if env != "production" {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	Log = build(cfg).With(zap.String(EnvKey, env))
}

func build(config zap.Config) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	encoderConfig.CallerKey = "caller"
	encoderConfig.MessageKey = "message"
	encoderConfig.LevelKey = "level"

	config.EncoderConfig = encoderConfig
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	l, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	return l
}

type Fields map[string]interface{}

func Info(msg string, fields ...Fields) {
	Log.Info(msg, flatten(fields)...)
}

func Error(msg string, fields ...Fields) {
	Log.Error(msg, flatten(fields)...)
}

func Debug(msg string, fields ...Fields) {
	Log.Debug(msg, flatten(fields)...)
}

func Warn(msg string, fields ...Fields) {
	Log.Warn(msg, flatten(fields)...)
}

func Fatal(msg string, fields ...Fields) {
	Log.Fatal(msg, flatten(fields)...)
}

func Sync() {
	_ = Log.Sync()
}

// WithError adds an error field to the log entry
func WithError(err error) Fields {
	return Fields{
		ErrorKey: err.Error(),
	}
}

func Merge(fields ...Fields) Fields {
	merged := make(Fields)
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	return merged
}

func flatten(fields []Fields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	return getZapFields(Merge(fields...))
}

func getZapFields(fields Fields) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return zapFields
}
