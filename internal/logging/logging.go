package logging

import (
	"io"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures a logger.
type Options struct {
	// Level is a LOG_LEVEL value. Empty falls back to DefaultLevel.
	Level        string
	DefaultLevel zapcore.Level

	// File enables an additional rotating JSON log.
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int

	// Console receives human-readable output. Nil means stderr.
	Console io.Writer
}

// ParseLevel maps LOG_LEVEL values onto zap levels. Unknown values yield def.
func ParseLevel(s string, def zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development", "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error", "production", "prod":
		return zapcore.ErrorLevel
	default:
		return def
	}
}

// New builds a logger writing to the console and, when configured, a file.
func New(opts Options) *zap.Logger {
	level := ParseLevel(opts.Level, opts.DefaultLevel)

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder(), zapcore.Lock(zapcore.AddSync(console)), level),
	}
	if opts.File != "" {
		cores = append(cores, zapcore.NewCore(jsonEncoder(), fileWriter(opts), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// Init builds a logger from LOG_LEVEL and installs it as the zap global.
func Init(def zapcore.Level, file string) *zap.Logger {
	l := New(Options{Level: os.Getenv("LOG_LEVEL"), DefaultLevel: def, File: file})
	zap.ReplaceGlobals(l)
	return l
}

func consoleEncoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeDuration = zapcore.SecondsDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(cfg)
}

func fileWriter(opts Options) zapcore.WriteSyncer {
	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = 100
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		LocalTime:  true,
	})
}
