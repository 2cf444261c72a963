package config

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the shared zerolog.Logger every component constructor
// takes by value/reference, grounded on the teacher's package-level zlog:
// a console writer with a short timestamp format in development, plain
// JSON when LOG_FORMAT=json (container log collectors expect structured
// lines, not the human-readable console format).
func NewLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && os.Getenv("LOG_LEVEL") != "" {
		level = lvl
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("LOG_FORMAT") == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.Stamp,
	}).With().Timestamp().Logger()
}
