package logger

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"ai-image-detector/internal/config"
)

// New builds the service logger: JSON to stdout plus a rotated, buffered log file.
// It also replaces zap's globals so library code logging through zap.L() lands in
// the same sinks. The returned cleanup flushes the file buffer, stops its flush
// goroutine and closes the file; call it once the logger is no longer used.
func New(cfg config.LogConfig) (*zap.Logger, func(), error) {
	level := new(zapcore.Level)
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, err
	}

	ws, closeFile := newWriteSyncer(cfg)
	log := zap.New(zapcore.NewCore(newEncoder(), ws, level), zap.AddCaller())
	zap.ReplaceGlobals(log)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			_ = log.Sync()
			closeFile()
		})
	}
	return log, cleanup, nil
}

func newEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func newWriteSyncer(cfg config.LogConfig) (zapcore.WriteSyncer, func()) {
	consoleSyncer := zapcore.AddSync(os.Stdout)
	if cfg.Filename == "" {
		return consoleSyncer, func() {}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	bufferedFileSyncer := &zapcore.BufferedWriteSyncer{
		WS:            zapcore.AddSync(rotator),
		Size:          256 * 1024,
		FlushInterval: 5 * time.Second,
	}
	closeFile := func() {
		_ = bufferedFileSyncer.Stop()
		_ = rotator.Close()
	}
	return zapcore.NewMultiWriteSyncer(consoleSyncer, bufferedFileSyncer), closeFile
}
