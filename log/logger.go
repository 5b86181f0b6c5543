// Package log builds the zap loggers used by funtonic processes. Every
// subsystem gets a component-tagged JSON logger on stderr so server,
// executor and commander logs can be merged and filtered.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a component-tagged logger writing JSON to stderr.
func New(component string) *zap.Logger {
	return NewWithWriter(component, os.Stderr)
}

// NewWithWriter returns a component-tagged logger writing to w. Tests use
// this to capture output.
func NewWithWriter(component string, w io.Writer) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	return zap.New(core).With(zap.String("component", component))
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger { return zap.NewNop() }
