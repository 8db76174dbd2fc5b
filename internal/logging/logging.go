// Package logging wires the process-wide zerolog logger, matching
// cmd/server/main.go's setup in the teacher repo.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger for console output and
// attaches a ring buffer hook so QueryLogs/GetLogStats/ClearLogs can
// inspect recent history. Called once at process startup.
func Init(debug bool, buf *Buffer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if buf != nil {
		logger = logger.Hook(bufferHook{buf: buf})
	}
	log.Logger = logger
}

// bufferHook mirrors every logged event into a Buffer. zerolog hooks see
// the level and final message but not fields already attached to the
// event, so per-entry Component stays unset here and a non-empty
// component filter in QueryLogs matches none of the captured entries.
type bufferHook struct{ buf *Buffer }

func (h bufferHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	h.buf.append(Entry{Timestamp: time.Now().UTC(), Level: level.String(), Message: msg})
}

// Component returns a sub-logger tagged with the owning component's
// name, the pattern every internal package uses instead of the bare
// global logger.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
