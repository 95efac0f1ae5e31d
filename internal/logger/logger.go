package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// Install sets up the logger and makes it the package level logger used by
// github.com/rs/zerolog/log.
func Install(dev bool) zerolog.Logger {
	logger := Setup(dev)
	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger
	return logger
}

// ForBuild returns a child logger tagged with the build id.
func ForBuild(buildID string) zerolog.Logger {
	return log.With().Str("build_id", buildID).Logger()
}
