package log

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger = newLogger(os.Stderr)
)

func newLogger(w zapcore.WriteSyncer) *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(w), level)
	return zap.New(core).Sugar()
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w zapcore.WriteSyncer) {
	logger = newLogger(w)
}

func SetDebug(on bool) {
	if on {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
}

func DebugOn() bool {
	return level.Enabled(zapcore.DebugLevel)
}

func Errorf(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	logger.Warnf(format, args...)
}

func Debugf(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

func Info(args ...interface{}) {
	logger.Info(fmt.Sprint(args...))
}

func Error(args ...interface{}) {
	logger.Error(fmt.Sprint(args...))
}

func Debug(args ...interface{}) {
	logger.Debug(fmt.Sprint(args...))
}

func Sync() {
	_ = logger.Sync()
}
