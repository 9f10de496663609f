package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

type stackTracer interface{ StackTrace() pkgerrors.StackTrace }

// NewLogger returns a JSON logger tagged with service. Use .Stack() on error
// events to include a stack trace.
func NewLogger(service string, w io.Writer) zerolog.Logger {
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).With().
		Str("service", service).
		Timestamp().
		Logger()
}

// InitConsoleLogger points the global logger at stderr as plain text.
func InitConsoleLogger() {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	})
}

// ParseLevel maps a level name to a zerolog level. "warning" is accepted
// for warn.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("invalid VAULT_LOG_LEVEL %q", s)
	}
}

// SetLogLevel sets the global level.
func SetLogLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}
