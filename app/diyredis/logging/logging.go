// Package logging sets up the process-wide structured logger every other
// package writes through, instead of the bare fmt.Println/log.Println
// calls scattered through the original course prototype.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger. Connection handlers and background
// tasks derive a sub-logger from it via With().
var Log zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()
}

// ForConn returns a logger tagged with the given remote address, for use
// for the lifetime of one accepted connection.
func ForConn(remoteAddr string) zerolog.Logger {
	return Log.With().Str("remote_addr", remoteAddr).Logger()
}
