// logger.go - Structured logging for the node.
//
// Every component logs through a zerolog.Logger. The node logger writes to the console and,
// when configured, to a log file; warnings and above plus explicit audit events also go to the
// audit file.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Logger is the node logger.
type Logger struct {
	zerolog.Logger
	audit zerolog.Logger
	files []*os.File
}

// ParseLevel maps a level name to a zerolog level. Unknown names select info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// warnWriter forwards WARN and above to w.
type warnWriter struct {
	w io.Writer
}

func (ww warnWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (ww warnWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return ww.w.Write(p)
}

// New creates the node logger. logFile and auditFile are optional.
func New(level string, console io.Writer, logFile, auditFile string) (*Logger, error) {
	if console == nil {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	}
	l := &Logger{audit: zerolog.Nop()}
	writers := []io.Writer{console}

	if logFile != "" {
		f, err := openAppend(logFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open log file")
		}
		l.files = append(l.files, f)
		writers = append(writers, f)
	}
	if auditFile != "" {
		f, err := openAppend(auditFile)
		if err != nil {
			l.Close()
			return nil, errors.Wrap(err, "failed to open audit file")
		}
		l.files = append(l.files, f)
		writers = append(writers, warnWriter{w: f})
		l.audit = zerolog.New(f).With().Timestamp().Str("log", "audit").Logger()
	}

	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(level)).
		With().Timestamp().Logger()
	return l, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Audit records an audit event.
func (l *Logger) Audit(event string, details map[string]interface{}) {
	l.audit.Log().Str("event", event).Fields(details).Msg("audit")
}

// Close closes the log files.
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}
