package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger.
type Options struct {
	Level string
	// File is the path of the rotated log file. Empty disables file output.
	File string
}

// New builds a logger writing JSON to stdout and, when configured, to a rotated file.
func New(opts Options) *zap.Logger {
	level := zap.NewAtomicLevelAt(parseLevel(opts.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}
	if file := strings.TrimSpace(opts.File); file != "" {
		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(encoder, writer, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).With(zap.String("service", "sweepstake-bot"))
}

func parseLevel(raw string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(raw)))); err != nil {
		return zapcore.InfoLevel
	}
	return level
}
