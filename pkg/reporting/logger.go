package reporting

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel selects the minimum severity emitted.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat selects machine-readable JSON or the human console format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// LoggerConfig contains logger configuration.
type LoggerConfig struct {
	Level  LogLevel
	Format LogFormat
	Output io.Writer
}

// Logger is the run logger. Events carry structured fields — link,
// direction, iface, rate_kbps and friends — so a JSON run log can be
// joined against the scraped metrics for the same experiment.
type Logger struct {
	zl zerolog.Logger
}

var levels = map[LogLevel]zerolog.Level{
	LogLevelDebug: zerolog.DebugLevel,
	LogLevelInfo:  zerolog.InfoLevel,
	LogLevelWarn:  zerolog.WarnLevel,
	LogLevelError: zerolog.ErrorLevel,
}

// NewLogger creates a structured run logger. Unknown levels fall back
// to info rather than failing a run over a config typo.
func NewLogger(cfg LoggerConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == LogFormatText {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05.000",
		}
	}

	level, ok := levels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}

	return &Logger{
		zl: zerolog.New(out).Level(level).With().Timestamp().Logger(),
	}
}

// WithLink returns a child logger stamping every event with the link
// and direction it concerns, so one grep isolates a single direction's
// schedule history.
func (l *Logger) WithLink(link, direction string) *Logger {
	return &Logger{zl: l.zl.With().Str("link", link).Str("direction", direction).Logger()}
}

// WithComponent returns a child logger stamping every event with the
// emitting subsystem (fabric, scheduler, dispatcher, bitrate).
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

// Debug logs at debug level with alternating key/value fields.
func (l *Logger) Debug(msg string, fields ...interface{}) {
	emit(l.zl.Debug(), msg, fields)
}

// Info logs at info level with alternating key/value fields.
func (l *Logger) Info(msg string, fields ...interface{}) {
	emit(l.zl.Info(), msg, fields)
}

// Warn logs at warn level with alternating key/value fields.
func (l *Logger) Warn(msg string, fields ...interface{}) {
	emit(l.zl.Warn(), msg, fields)
}

// Error logs at error level with alternating key/value fields.
func (l *Logger) Error(msg string, fields ...interface{}) {
	emit(l.zl.Error(), msg, fields)
}

// emit attaches alternating key/value pairs to an event, typing the
// common value kinds so numbers stay numbers in the JSON output (a
// rate_kbps logged as a string can't be compared downstream).
func emit(ev *zerolog.Event, msg string, fields []interface{}) {
	if len(fields)%2 != 0 {
		ev.Str("logger_error", "odd field count")
		ev.Msg(msg)
		return
	}

	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprintf("field_%d", i/2)
		}
		switch v := fields[i+1].(type) {
		case string:
			ev.Str(key, v)
		case int:
			ev.Int(key, v)
		case uint64:
			ev.Uint64(key, v)
		case float64:
			ev.Float64(key, v)
		case bool:
			ev.Bool(key, v)
		case time.Duration:
			ev.Dur(key, v)
		case error:
			ev.AnErr(key, v)
		default:
			ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
