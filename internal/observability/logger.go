package observability

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Debug verbosity levels understood by the speaker
const (
	DebugOff uint8 = iota
	DebugError
	DebugInfo
	DebugVerbose
)

var (
	globalLogger zerolog.Logger
	initialized  bool
)

// InitLogger initializes the global structured logger. The level is set on
// the logger itself so derived loggers can raise their own verbosity.
func InitLogger(level string, pretty bool) {
	if initialized {
		return
	}

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}

	globalLogger = NewLogger(os.Stdout, pretty).Level(logLevel)
	log.Logger = globalLogger

	initialized = true
}

// NewLogger builds a timestamped logger writing JSON, or console output when pretty is set
func NewLogger(w io.Writer, pretty bool) zerolog.Logger {
	if pretty {
		output := zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	if !initialized {
		InitLogger("info", false)
	}
	return globalLogger
}

// LevelForDebug maps a 0-3 debug verbosity to a zerolog level
func LevelForDebug(debugLevel uint8) zerolog.Level {
	switch debugLevel {
	case DebugOff:
		return zerolog.Disabled
	case DebugError:
		return zerolog.ErrorLevel
	case DebugInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

// WithSessionID creates a logger tagged with a playback session ID
func WithSessionID(logger zerolog.Logger, sessionID string) zerolog.Logger {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	return logger.With().Str("session_id", sessionID).Logger()
}

// NewSessionID generates a new playback session ID
func NewSessionID() string {
	return uuid.New().String()
}
