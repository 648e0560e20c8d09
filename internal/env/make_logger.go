package env

import (
	"fmt"

	zap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level string

	// File sends logs to a rotated file instead of stderr
	File string
}

const (
	logMaxSizeMB  = 100
	logMaxBackups = 5
	logMaxAgeDays = 28
)

func MakeLogger(config LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if config.Level != "" {
		if err := level.UnmarshalText([]byte(config.Level)); err != nil {
			return nil, fmt.Errorf("Invalid log level '%s': %w", config.Level, err)
		}
	}

	if config.File == "" {
		logConfig := zap.NewProductionConfig()
		logConfig.Level = level
		logConfig.Encoding = "json"

		return logConfig.Build()
	}

	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   config.File,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	})

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		sink,
		level,
	)

	return zap.New(core, zap.AddCaller()), nil
}
