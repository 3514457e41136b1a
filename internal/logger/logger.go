// internal/logger/logger.go
package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New 创建带轮转的结构化日志器
// 日志同时写入文件（JSON，带lumberjack轮转）与控制台
func New(logDir string, debugMode bool) *zap.Logger {
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "engine.log"),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     30, // 天
		Compress:   true,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)

	fileCore := zapcore.NewCore(
		jsonEncoder,
		zapcore.AddSync(rotator),
		zap.InfoLevel,
	)

	consoleLevel := zap.InfoLevel
	var consoleEncoder zapcore.Encoder
	if debugMode {
		consoleLevel = zap.DebugLevel
		consoleEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		consoleEncoder = jsonEncoder
	}

	consoleCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.Lock(os.Stdout),
		consoleLevel,
	)

	core := zapcore.NewTee(fileCore, consoleCore)

	return zap.New(core, zap.AddCaller())
}

// NewNop 返回不输出任何内容的日志器，测试用
func NewNop() *zap.Logger {
	return zap.NewNop()
}
