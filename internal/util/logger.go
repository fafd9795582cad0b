//nolint:revive // util is a common package name for shared utilities
package util

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"blockyard/internal/config"
)

// LogFileName is the blockyard log file inside paths.logs.
const LogFileName = "blockyard.log"

// NewLogger configures zap logging based on debug mode and config settings.
// The console core writes to stderr; the file core rotates through lumberjack.
func NewLogger(cfg *config.Config) *zap.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg *config.Config, console io.Writer) *zap.Logger {
	level := parseLogLevel(cfg.Logging.Level)
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Logging.Format == "json" {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		if f, ok := console.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	}
	newEncoder := func(ec zapcore.EncoderConfig) zapcore.Encoder {
		if cfg.Logging.Format == "json" {
			return zapcore.NewJSONEncoder(ec)
		}
		return zapcore.NewConsoleEncoder(ec)
	}

	var cores []zapcore.Core
	if cfg.Logging.ConsoleEnabled {
		cores = append(cores, zapcore.NewCore(newEncoder(encoderConfig), zapcore.AddSync(console), level))
	}
	if cfg.Logging.FileEnabled && cfg.Paths.Logs != "" {
		if err := os.MkdirAll(cfg.Paths.Logs, 0o750); err == nil {
			fileConfig := encoderConfig
			fileConfig.EncodeLevel = zapcore.CapitalLevelEncoder
			rotating := &lumberjack.Logger{
				Filename:   filepath.Join(cfg.Paths.Logs, LogFileName),
				MaxSize:    cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				MaxAge:     cfg.Logging.MaxAgeDays,
				Compress:   true,
			}
			cores = append(cores, zapcore.NewCore(newEncoder(fileConfig), zapcore.AddSync(rotating), level))
		}
	}

	if len(cores) == 0 {
		return zap.NewNop()
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// parseLogLevel safely converts a string to a zap log level
func parseLogLevel(levelStr string) zapcore.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "CRITICAL":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
