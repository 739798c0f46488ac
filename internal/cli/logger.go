package cli

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/antlu/stream-monitor/internal/config"
)

// NewLogger builds the process logger. Console output is used unless JSON is
// requested; debug mode forces the debug level.
func NewLogger(w io.Writer, conf *config.Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(conf.Logger.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if conf.Debug && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}

	if !conf.Logger.JSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
