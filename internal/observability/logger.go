package observability

import (
	"github.com/danmuck/xmppctl/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the process logger and tags every line with app. A
// non-empty level overrides the environment.
func InitLogger(app, level string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	if lvl, ok := logging.ParseLevel(level); ok {
		logger = logger.Level(lvl)
		zerolog.SetGlobalLevel(lvl)
	}
	log.Logger = logger
	return logger
}
