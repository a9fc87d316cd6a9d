package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger writes JSON entries to the file at path and human readable
// entries to stderr.
func NewLogger(path string) (*zap.Logger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	return New(zapcore.AddSync(file), zapcore.Lock(os.Stderr), zapcore.InfoLevel), nil
}

func New(fileSink, consoleSink zapcore.WriteSyncer, level zapcore.Level) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleConfig := zap.NewDevelopmentEncoderConfig()
	consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), fileSink, level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), consoleSink, level),
	)
	return zap.New(core, zap.AddCaller())
}
