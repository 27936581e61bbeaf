// Package xlog is the structured-logging facade used across historify.
//
// It exists for the same reason the teacher's Store interface does: core
// packages depend on a small interface, not on a concrete logging library,
// so the backend can change without touching call sites.
package xlog

import (
	"os"

	charm "github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
)

// Logger is the facade historify's core packages accept. Messages are
// snake_case event names; keyvals are alternating key/value pairs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

type charmLogger struct {
	l *charm.Logger
}

// Options controls New.
type Options struct {
	// Debug enables debug-level output (historify's -v flag).
	Debug bool
	// JSON forces JSON output regardless of whether stderr is a TTY.
	JSON bool
}

// New builds the default Logger: pretty output to a terminal, JSON to a
// pipe or file, mirroring the auto-detection the teacher's pack shows for
// CLI tools (dockform's internal/logger).
func New(opts Options) Logger {
	l := charm.NewWithOptions(os.Stderr, charm.Options{
		ReportTimestamp: true,
	})
	if opts.JSON || !isatty.IsTerminal(os.Stderr.Fd()) {
		l.SetFormatter(charm.JSONFormatter)
	}
	if opts.Debug {
		l.SetLevel(charm.DebugLevel)
	} else {
		l.SetLevel(charm.InfoLevel)
	}
	return &charmLogger{l: l}
}

func (c *charmLogger) Debug(msg string, keyvals ...any) { c.l.Debug(msg, keyvals...) }
func (c *charmLogger) Info(msg string, keyvals ...any)  { c.l.Info(msg, keyvals...) }
func (c *charmLogger) Warn(msg string, keyvals ...any)  { c.l.Warn(msg, keyvals...) }
func (c *charmLogger) Error(msg string, keyvals ...any) { c.l.Error(msg, keyvals...) }
func (c *charmLogger) With(keyvals ...any) Logger {
	return &charmLogger{l: c.l.With(keyvals...)}
}

// Nop is a Logger that discards everything; used where a caller hasn't
// configured one (primarily in tests).
type nopLogger struct{}

// Nop returns the discard Logger.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any)     {}
func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) With(...any) Logger       { return nopLogger{} }
