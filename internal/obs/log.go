package obs

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.Mutex
	logger   zerolog.Logger
	loggerOK bool
)

// Init configures the shared logger. Level is one of debug/info/warn/error;
// anything unrecognized falls back to info. Safe to call more than once.
func Init(level string) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	logger = zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	loggerOK = true
}

// Logger returns the shared structured logger used across the service.
func Logger() *zerolog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if !loggerOK {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		loggerOK = true
	}
	return &logger
}

// SetOutput redirects log output. Intended for tests capturing log lines.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if !loggerOK {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		loggerOK = true
	}
	logger = logger.Output(w)
}
