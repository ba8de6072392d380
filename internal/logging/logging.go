// Package logging configures the zerolog logger used across catalogsync and
// carries it through contexts.
//
//	log := logging.New(cfg)
//	ctx := logging.WithLogger(ctx, &log)
//	logging.FromContext(ctx).Info().Int("added", 3).Msg("cycle finished")
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger options.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn, error.
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error"`
	// Format is json, console or auto (console on a terminal).
	Format string `mapstructure:"format" validate:"omitempty,oneof=auto json console"`
	// Output is stderr, stdout, discard or a file path. Files are rotated.
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "auto",
		Output:     "stderr",
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}
}

var defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// New builds a logger from cfg.
func New(cfg Config) zerolog.Logger {
	level := ParseLevel(cfg.Level)
	logger := zerolog.New(writer(cfg)).
		Level(level).
		With().
		Timestamp().
		Logger()
	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

// SetDefault replaces the logger returned by Default and FromContext when no
// logger is attached.
func SetDefault(logger zerolog.Logger) {
	defaultLogger = logger
}

// Default returns the process-wide logger.
func Default() *zerolog.Logger {
	return &defaultLogger
}

// ParseLevel maps a level name to a zerolog level, falling back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func writer(cfg Config) io.Writer {
	var out io.Writer
	tty := false
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out, tty = os.Stderr, isatty.IsTerminal(os.Stderr.Fd())
	case "stdout":
		out, tty = os.Stdout, isatty.IsTerminal(os.Stdout.Fd())
	case "discard", "none":
		return io.Discard
	default:
		out = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}

	switch cfg.Format {
	case "console":
	case "json":
		return out
	default:
		if !tty {
			return out
		}
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.Kitchen,
		NoColor:    os.Getenv("NO_COLOR") != "" || !tty,
	}
}

type contextKey struct{}

// WithLogger attaches logger to ctx.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	if logger == nil {
		logger = Default()
	}
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger attached to ctx, or the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return Default()
	}
	if logger, ok := ctx.Value(contextKey{}).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}

// WithFields returns a context whose logger carries the given fields.
func WithFields(ctx context.Context, fields map[string]any) context.Context {
	logger := FromContext(ctx).With().Fields(fields).Logger()
	return WithLogger(ctx, &logger)
}
