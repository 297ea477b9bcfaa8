// Package logging configures the process-wide zerolog logger.
//
// Adapted from intelligencedev-manifold/internal/observability/logging.go's
// InitLogger(path, level): same timestamp format and global-logger
// assignment, retargeted from a file-or-stdout writer choice to a
// pretty-or-json writer choice (LOG_FORMAT), since this adapter always
// logs to stdout and never to a rotating file.
package logging

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. format is "pretty", "json",
// or "" to auto-detect from whether stdout is a terminal.
func Init(format, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if format == "" {
		if isatty.IsTerminal(os.Stdout.Fd()) {
			format = "pretty"
		} else {
			format = "json"
		}
	}

	var out zerolog.ConsoleWriter
	if format == "pretty" {
		noColor := termenv.ColorProfile() == termenv.Ascii || os.Getenv("NO_COLOR") != ""
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen, NoColor: noColor}
		log.Logger = log.Output(out).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	lvl := zerolog.InfoLevel
	if level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}
	zerolog.SetGlobalLevel(lvl)
}
