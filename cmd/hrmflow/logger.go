package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/BaSui01/hrmflow/config"
)

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// parseLevel 解析日志级别，未知值回退为 info
func parseLevel(s string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func encoderFor(format string) zapcore.Encoder {
	if format == "console" {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(ec)
}

// sinkFor maps an output path to a writer. stdout and stderr are used as-is;
// any other path is a file rotated by lumberjack.
func sinkFor(path string, rot config.RotationConfig) zapcore.WriteSyncer {
	switch path {
	case "stdout":
		return zapcore.Lock(os.Stdout)
	case "stderr":
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	})
}

// newLogger builds the process logger. The returned level can be changed at
// runtime by config hot reload.
func newLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	paths := cfg.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stdout"}
	}
	sinks := make([]zapcore.WriteSyncer, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			return nil, level, fmt.Errorf("empty log output path")
		}
		sinks = append(sinks, sinkFor(p, cfg.Rotation))
	}

	core := zapcore.NewCore(encoderFor(cfg.Format), zapcore.NewMultiWriteSyncer(sinks...), level)
	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(core, opts...), level, nil
}
