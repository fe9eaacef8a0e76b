package taskmgr

import (
	"io"

	"github.com/rs/zerolog"
)

// NopLogger returns a zerolog.Logger that discards everything, used as the
// zero-value default for Config.Logger.
func NopLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}
