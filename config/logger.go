package config

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. w defaults to stdout; LOG_FORMAT
// console switches to zerolog's human-readable writer.
func (c Config) NewLogger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if c.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
