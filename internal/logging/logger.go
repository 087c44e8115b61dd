package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables read by Init.
const (
	LevelEnv  = "IGCS_LOG_LEVEL"
	FormatEnv = "IGCS_LOG_FORMAT"
)

// Init initializes the global logger with configuration from environment variables.
// IGCS_LOG_LEVEL controls the log level: trace, debug, info, warn, error (default: info).
// IGCS_LOG_FORMAT=json keeps zerolog's JSON lines; anything else uses the console writer.
func Init() {
	InitTo(os.Stderr, os.Getenv(LevelEnv), os.Getenv(FormatEnv))
}

// InitTo configures the global logger to write to out. Exposed so flags can
// override the environment.
func InitTo(out io.Writer, level, format string) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
