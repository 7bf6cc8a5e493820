// Package logging wraps a zap.SugaredLogger behind the same package-level
// call shape the teacher's hand-rolled logger exposed — Init once, then call
// Debug/Info/Warn/Error with a flat field map — so every call site in this
// repo reads the way the teacher's did, backed by a real structured logger.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	sugar *zap.SugaredLogger
	once  sync.Once
)

// Options configures the process-wide logger.
type Options struct {
	Level     string // debug, info, warn, error
	Format    string // json, console
	Service   string // service name attached to every entry
}

// Init builds the global logger. Safe to call more than once; only the first
// call takes effect, matching the teacher's sync.Once singleton pattern.
func Init(opts Options) {
	once.Do(func() {
		sugar = build(opts)
	})
}

func build(opts Options) *zap.SugaredLogger {
	level := parseLevel(opts.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(opts.Format) == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), level)
	logger := zap.New(core).Sugar()
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	return logger
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func ensure() *zap.SugaredLogger {
	if sugar == nil {
		Init(Options{Level: "info", Format: "json"})
	}
	return sugar
}

func toArgs(fields map[string]interface{}) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// Debug logs at debug level with an optional flat field map.
func Debug(message string, fields ...map[string]interface{}) {
	l := ensure()
	if len(fields) > 0 {
		l.Debugw(message, toArgs(fields[0])...)
		return
	}
	l.Debug(message)
}

// Info logs at info level with an optional flat field map.
func Info(message string, fields ...map[string]interface{}) {
	l := ensure()
	if len(fields) > 0 {
		l.Infow(message, toArgs(fields[0])...)
		return
	}
	l.Info(message)
}

// Warn logs at warn level with an optional flat field map.
func Warn(message string, fields ...map[string]interface{}) {
	l := ensure()
	if len(fields) > 0 {
		l.Warnw(message, toArgs(fields[0])...)
		return
	}
	l.Warn(message)
}

// Error logs at error level, attaching err under the "error" key.
func Error(message string, err error, fields map[string]interface{}) {
	l := ensure()
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Errorw(message, toArgs(fields)...)
}

// Sync flushes buffered log entries; call before process exit.
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}
