// Package logging builds the process-wide zerolog.Logger used for
// operational (stderr) logging, as distinct from internal/logstore's
// on-disk circular chat log.
package logging

import (
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// New builds a console logger at the given level (case-insensitive
// TRACE/DEBUG/INFO/WARN/ERROR; anything else falls back to def).
func New(levelStr string, def zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = consoleTimeFormat

	cw := zerolog.ConsoleWriter{Out: colorable.NewColorable(os.Stderr), TimeFormat: consoleTimeFormat}
	cw.FormatCaller = func(i interface{}) string {
		s, ok := i.(string)
		if !ok || s == "" {
			return ""
		}
		return s
	}

	return zerolog.New(cw).Level(parseLevel(levelStr, def)).With().Timestamp().Logger()
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
