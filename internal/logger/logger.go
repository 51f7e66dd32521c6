// Package logger provides structured logging setup for SearchForge.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Strob0t/SearchForge/internal/config"
)

const (
	asyncBuffer  = 4096
	asyncWorkers = 2
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout, tee'd to a rotated file when cfg.File is set,
// with a "service" attribute and the request id from the context on every record.
// The returned Closer flushes asynchronous output and closes the file.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return newWithWriter(cfg, os.Stdout)
}

func newWithWriter(cfg config.Logging, stdout io.Writer) (*slog.Logger, Closer) {
	var (
		out     = stdout
		closers multiCloser
	)
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(stdout, rotator)
		closers = append(closers, closerFunc(func() { _ = rotator.Close() }))
	}

	var handler slog.Handler = slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	if cfg.Async {
		async := NewAsyncHandler(handler, asyncBuffer, asyncWorkers)
		// Flush before the file closes.
		closers = append(multiCloser{async}, closers...)
		handler = async
	}
	handler = &ContextHandler{Handler: handler}

	return slog.New(handler).With("service", cfg.Service), closers
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type closerFunc func()

func (f closerFunc) Close() { f() }

type multiCloser []Closer

func (m multiCloser) Close() {
	for _, c := range m {
		c.Close()
	}
}
