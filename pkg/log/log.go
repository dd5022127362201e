package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/digest/pkg/types"
)

// Logger is the process-wide logger. It discards everything until Init is called.
var Logger = zerolog.Nop()

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	// Output defaults to stdout
	Output io.Writer
	// Version is attached to every entry when set
	Version string
}

// parseLevel maps a configured level to zerolog, falling back to info for
// empty or unknown values
func parseLevel(l Level) zerolog.Level {
	level, err := zerolog.ParseLevel(string(l))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Init initializes the global logger
func Init(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Version != "" {
		ctx = ctx.Str("version", cfg.Version)
	}
	Logger = ctx.Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithGroupID creates a child logger with group_id field
func WithGroupID(id types.GroupID) zerolog.Logger {
	return Logger.With().Int64("group_id", int64(id)).Logger()
}

// WithRunID creates a child logger with repair run_id field
func WithRunID(runID string) zerolog.Logger {
	return Logger.With().Str("run_id", runID).Logger()
}

// WithTask creates a child logger describing a summary task
func WithTask(task types.SummaryTask) zerolog.Logger {
	return Logger.With().
		Str("task_id", task.ID).
		Int64("group_id", int64(task.GroupID)).
		Logger()
}
