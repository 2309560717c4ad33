// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/civiclens/civiclens/internal/model"
)

// New builds a logger from output configuration. Console output goes to
// stderr so command results on stdout stay machine-readable.
func New(cfg model.OutputConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}

	var out io.Writer = os.Stderr
	if !cfg.LogJSON {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
