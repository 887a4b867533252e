// Package monitoring - logger.go provides structured logging via zerolog.
//
// DESIGN: Thin wrapper around zerolog with:
//   - Level selection from MCP_PROXY_LOG_LEVEL
//   - Output always on stderr: stdout carries the MCP frames and must
//     never see a log line
//   - Console format when stderr is a terminal, JSON otherwise
package monitoring

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// LogLevelEnv selects the global log level (DEBUG, INFO, WARN, ERROR).
const LogLevelEnv = "MCP_PROXY_LOG_LEVEL"

// SetupLogging configures the global zerolog logger. The debug flag
// overrides the environment to DebugLevel.
func SetupLogging(debug bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if env := os.Getenv(LogLevelEnv); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	if debug {
		level = zerolog.DebugLevel
	}

	var logger zerolog.Logger
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	log.Logger = logger.Level(level).With().Timestamp().Logger()
}
