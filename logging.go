package gsplat

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
)

// Logger is the leveled sink the surface reports load and sync events to.
type Logger interface {
	DebugEnabled() bool
	SetDebug(enabled bool)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// DefaultLogger writes DEBUG and INFO lines to one writer and WARN and
// ERROR lines to another.
type DefaultLogger struct {
	debug  atomic.Bool
	prefix string
	out    *log.Logger
	err    *log.Logger
}

func NewDefaultLogger(prefix string, debug bool) *DefaultLogger {
	return NewWriterLogger(os.Stdout, os.Stderr, prefix, debug)
}

// NewWriterLogger logs to the given writers; tests pass buffers.
func NewWriterLogger(out, errOut io.Writer, prefix string, debug bool) *DefaultLogger {
	flags := log.LstdFlags | log.Lmicroseconds
	l := &DefaultLogger{
		prefix: prefix,
		out:    log.New(out, "", flags),
		err:    log.New(errOut, "", flags),
	}
	l.debug.Store(debug)
	return l
}

func (l *DefaultLogger) DebugEnabled() bool    { return l.debug.Load() }
func (l *DefaultLogger) SetDebug(enabled bool) { l.debug.Store(enabled) }

func (l *DefaultLogger) line(level, format string, args []any) string {
	msg := fmt.Sprintf(format, args...)
	if l.prefix == "" {
		return level + ": " + msg
	}
	return "[" + l.prefix + "] " + level + ": " + msg
}

func (l *DefaultLogger) Debugf(format string, args ...any) {
	if l.DebugEnabled() {
		l.out.Print(l.line("DEBUG", format, args))
	}
}

func (l *DefaultLogger) Infof(format string, args ...any) {
	l.out.Print(l.line("INFO", format, args))
}

func (l *DefaultLogger) Warnf(format string, args ...any) {
	l.err.Print(l.line("WARN", format, args))
}

func (l *DefaultLogger) Errorf(format string, args ...any) {
	l.err.Print(l.line("ERROR", format, args))
}

// loadLogger tags every line with the load it belongs to, so interleaved
// loads on one surface can be told apart.
type loadLogger struct {
	Logger
	tag string
}

func withLoad(base Logger, id uuid.UUID) Logger {
	return &loadLogger{Logger: base, tag: "load " + id.String()[:8] + ": "}
}

func (l *loadLogger) Debugf(format string, args ...any) { l.Logger.Debugf(l.tag+format, args...) }
func (l *loadLogger) Infof(format string, args ...any)  { l.Logger.Infof(l.tag+format, args...) }
func (l *loadLogger) Warnf(format string, args ...any)  { l.Logger.Warnf(l.tag+format, args...) }
func (l *loadLogger) Errorf(format string, args ...any) { l.Logger.Errorf(l.tag+format, args...) }

type nopLogger struct{}

func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) DebugEnabled() bool    { return false }
func (nopLogger) SetDebug(bool)         {}
func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// Logger returns the surface's logger. Never nil.
func (s *Surface) Logger() Logger {
	if s == nil || s.log == nil {
		return NewNopLogger()
	}
	return s.log
}
