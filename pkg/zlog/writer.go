package zlog

import (
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// buildWriteSyncer stdout 和/或 lumberjack 轮转文件
func buildWriteSyncer(cfg Config) zapcore.WriteSyncer {
	var out []zapcore.WriteSyncer
	if cfg.Stdout {
		out = append(out, zapcore.Lock(os.Stdout))
	}
	if cfg.File.Path != "" {
		out = append(out, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxAge:     cfg.File.MaxAgeDay,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
			LocalTime:  true,
		}))
	}
	return zapcore.NewMultiWriteSyncer(out...)
}
