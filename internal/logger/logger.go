package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Log is the global logger
	Log = zap.NewNop().Sugar()

	logger = zap.NewNop()
	level  = zap.NewAtomicLevel()
)

// Options selects the encoder, level and sink of the process logger.
type Options struct {
	Level  string
	Format string // json, text
	// Output is a file path, "stderr" or "stdout". Empty means stderr.
	Output string
}

// Init builds the process logger. Download progress owns stdout in the CLI,
// so logs go to stderr unless told otherwise.
func Init(opts Options) error {
	var config zap.Config

	switch opts.Format {
	case "json":
		config = zap.NewProductionConfig()
	case "text", "console", "":
		config = zap.NewDevelopmentConfig()
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return fmt.Errorf("invalid log format: %s", opts.Format)
	}

	lvl, err := parseLevel(opts.Level)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	config.Level = level

	output := opts.Output
	if output == "" {
		output = "stderr"
	}
	config.OutputPaths = []string{output}
	config.ErrorOutputPaths = []string{"stderr"}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	built, err := config.Build(zap.Fields(zap.String("app", "rangefetch")))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	logger = built
	Log = logger.Sugar()
	return nil
}

// SetLevel changes the level of the running logger.
func SetLevel(name string) error {
	lvl, err := parseLevel(name)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

func parseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", name)
	}
}

// Sync flushes any buffered log entries
func Sync() error {
	return logger.Sync()
}

// GetZapLogger returns the underlying zap.Logger
func GetZapLogger() *zap.Logger {
	return logger
}

// Named returns a child logger for a component.
func Named(component string) *zap.Logger {
	return logger.Named(component)
}
