package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogOptions selects the level and encoding of the process logger.
type LogOptions struct {
	Level string
	// Format is "json" (default) or "console" for local runs.
	Format string
	Output io.Writer
}

// NewLogger builds the process logger and sets the global zerolog level to
// match, so package-level log calls obey the same threshold.
func NewLogger(opts LogOptions) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	lvl := parseLogLevel(opts.Level)
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(out).Level(lvl).With().Timestamp().Caller().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel || lvl == zerolog.Disabled {
		return zerolog.InfoLevel
	}
	return lvl
}

// ForOrder returns a child logger tagged with the order being disbursed.
func ForOrder(logger zerolog.Logger, orderID string, fields map[string]any) zerolog.Logger {
	return logger.With().Str("order_id", orderID).Fields(fields).Logger()
}
