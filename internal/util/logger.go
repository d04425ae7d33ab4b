package util

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "passwordless-auth"

var (
	mu           sync.RWMutex
	globalLogger *zap.Logger
)

// Init builds the process-wide logger. Only the first call has effect;
// later calls return the existing logger.
func Init(environment, level, format string) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		return globalLogger
	}

	logger, err := newConfig(environment, level, format).Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	globalLogger = logger
	zap.ReplaceGlobals(logger)
	return logger
}

func newConfig(environment, level, format string) zap.Config {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.DisableStacktrace = true
		config.Sampling = &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		}
	} else {
		config = zap.NewDevelopmentConfig()
		if format != "json" {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	}

	config.Level = zap.NewAtomicLevelAt(parseLogLevel(level))
	config.Encoding = "console"
	if format == "json" {
		config.Encoding = "json"
	}
	config.InitialFields = map[string]interface{}{"service": serviceName}
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	return config
}

// Get returns the process-wide logger, building a production logger on
// first use if Init was never called.
func Get() *zap.Logger {
	mu.RLock()
	logger := globalLogger
	mu.RUnlock()

	if logger == nil {
		return Init("production", "info", "json")
	}
	return logger
}

// Replace swaps the process-wide logger, e.g. for zap.NewNop in tests.
func Replace(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = logger
	zap.ReplaceGlobals(logger)
}

func Sync() {
	_ = Get().Sync()
}

func parseLogLevel(level string) zapcore.Level {
	if level == "warning" {
		return zapcore.WarnLevel
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func Debug(msg string, fields ...zap.Field) {
	Get().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	Get().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Get().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	Get().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	Get().Fatal(msg, fields...)
}

func String(key, value string) zap.Field {
	return zap.String(key, value)
}

func Bool(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}

func Int(key string, value int) zap.Field {
	return zap.Int(key, value)
}

func Strings(key string, values []string) zap.Field {
	return zap.Strings(key, values)
}

func Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}

func Any(key string, value interface{}) zap.Field {
	return zap.Any(key, value)
}

// ErrorField is zap.Error under a name that does not clash with Error.
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

// Subject logs a subject key with the mailbox masked.
func Subject(key string) zap.Field {
	return zap.String("subject", MaskEmail(key))
}

// MaskEmail keeps the first character of the mailbox and the domain:
// "alice@example.com" becomes "a***@example.com".
func MaskEmail(addr string) string {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}
