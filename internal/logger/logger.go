// Package logger builds the process-wide zerolog logger: console
// and/or rotating file output, with sensitive-value redaction.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger settings.
type Config struct {
	Level     string // debug, info, warn, error
	File      string // log file path; empty disables file output
	Pretty    bool   // human-readable console format
	Redaction bool   // scrub credentials from output
	MaxSize   int    // MB per log file before rotation
	MaxAge    int    // days to keep rotated files
	Compress  bool   // gzip rotated files
}

// New builds the logger. The returned closer owns the log file, when
// one is configured; callers close it on shutdown.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var console io.Writer = os.Stdout
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	writer := console
	var closer io.Closer
	if cfg.File != "" {
		rw, err := NewRotatingWriter(cfg.File, cfg.MaxSize, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("logger: %w", err)
		}
		writer = io.MultiWriter(console, rw)
		closer = rw
	}

	if cfg.Redaction {
		writer = NewRedactor().Wrap(writer)
	}

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = logger
	return logger, closer, nil
}
