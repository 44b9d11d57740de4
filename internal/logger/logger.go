package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger. Production gets JSON output, anything else gets a
// colored console encoder. level is one of debug, info, warn, error.
func New(environment, level string) (*zap.Logger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = "stacktrace"

	return config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
}

// Sync flushes buffered entries, ignoring the error stdout returns on some platforms.
func Sync(l *zap.Logger) {
	if l != nil {
		_ = l.Sync()
	}
}

// GooseAdapter routes goose migration output through zap.
type GooseAdapter struct {
	l *zap.SugaredLogger
}

func NewGooseAdapter(l *zap.Logger) *GooseAdapter {
	return &GooseAdapter{l: l.Named("migrations").Sugar()}
}

func (g *GooseAdapter) Printf(format string, v ...interface{}) {
	g.l.Infof(format, v...)
}

func (g *GooseAdapter) Fatalf(format string, v ...interface{}) {
	g.l.Fatalf(format, v...)
}
