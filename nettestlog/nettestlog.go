// Package nettestlog wires the engine's process-wide structured logger,
// spec.md §5/§9: "signal handling mutates only a global logger registry
// guarded by a mutex".
package nettestlog

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.Mutex
	active = logrus.New()
)

// Options configures the process-wide logger.
type Options struct {
	Level  string // logrus level name, e.g. "info", "debug"
	JSON   bool
	Output io.Writer // defaults to os.Stderr when nil
}

// Configure rebuilds the process-wide logger under the registry mutex.
// It is safe to call from a signal handler goroutine.
func Configure(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := logrus.ParseLevel(orDefault(opts.Level, "info"))
	if err != nil {
		return err
	}

	l := logrus.New()
	l.SetLevel(level)
	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	} else {
		l.SetOutput(os.Stderr)
	}

	active = l
	return nil
}

// Logger returns the current process-wide logger. Callers should not
// cache the returned pointer across a Configure/Reopen call; fetch it
// fresh when logging.
func Logger() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	return active
}

// Reopen rebuilds the process-wide logger from opts exactly as
// Configure does, replacing the active instance; it is used by the
// SIGHUP handler to pick up rotated log files or an updated level
// without restarting the process. Loggers fetched before the call keep
// their old output and level.
func Reopen(opts Options) error {
	return Configure(opts)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
