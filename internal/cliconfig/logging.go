package cliconfig

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: time.RFC3339,
}).With().Timestamp().Logger()

// Logger returns the package logger.
func Logger() zerolog.Logger {
	return logger
}
