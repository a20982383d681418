package logger

import (
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the global level and output format. Any format other than
// "json" renders human-readable console lines on stderr.
func Init(level string, format string) {
	InitWithWriter(level, format, os.Stderr)
}

func InitWithWriter(level string, format string, w io.Writer) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	var out io.Writer = w
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: w}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Str("run_id", uuid.NewString()).Logger()
}

func Get() zerolog.Logger {
	return log.Logger
}
