package observ

import (
	"os"

	"github.com/rs/zerolog"
)

// L is the process-wide structured logger, used everywhere the teacher's
// free-form Log(event, kv) isn't expressive enough — request-scoped
// fields, leveled output, and a format ops tooling can actually parse.
// Log() is kept alongside it for the teacher's existing call sites and
// for the JSON-dump-on-stdout shape some of its tooling already expects.
var L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}).With().Timestamp().Logger()

// SetJSONOutput switches L to newline-delimited JSON, the shape a log
// aggregator in production expects instead of the console writer's
// colorized development format.
func SetJSONOutput() {
	L = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// SetLevel adjusts the global minimum log level.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}
