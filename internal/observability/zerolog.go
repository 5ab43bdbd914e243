package observability

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZeroLogger adapts a zerolog.Logger to Logger.
type ZeroLogger struct {
	log zerolog.Logger
}

// ZeroOptions configures NewZeroLogger.
type ZeroOptions struct {
	// Out defaults to os.Stdout.
	Out io.Writer
	// Pretty renders human readable console lines instead of JSON.
	Pretty bool
	// Debug enables debug entries.
	Debug bool
	// Component is attached to every entry when set.
	Component string
}

// NewZeroLogger builds a zerolog backed Logger.
func NewZeroLogger(opts ZeroOptions) *ZeroLogger {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339Nano, NoColor: true}
	}
	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if opts.Component != "" {
		ctx = ctx.Str("component", opts.Component)
	}
	return &ZeroLogger{log: ctx.Logger()}
}

// Zerolog exposes the underlying logger.
func (l *ZeroLogger) Zerolog() zerolog.Logger { return l.log }

// Debug logs a debug entry.
func (l *ZeroLogger) Debug(msg string, fields ...Field) {
	withFields(l.log.Debug(), fields).Msg(msg)
}

// Info logs an informational entry.
func (l *ZeroLogger) Info(msg string, fields ...Field) {
	withFields(l.log.Info(), fields).Msg(msg)
}

// Error logs an error entry.
func (l *ZeroLogger) Error(msg string, fields ...Field) {
	withFields(l.log.Error(), fields).Msg(msg)
}

func withFields(event *zerolog.Event, fields []Field) *zerolog.Event {
	if event == nil {
		return nil
	}
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		switch v := field.Value.(type) {
		case nil:
			event = event.Interface(field.Key, nil)
		case error:
			event = event.AnErr(field.Key, v)
		case time.Duration:
			event = event.Str(field.Key, v.String())
		case string:
			event = event.Str(field.Key, v)
		case fmt.Stringer:
			event = event.Stringer(field.Key, v)
		default:
			event = event.Interface(field.Key, v)
		}
	}
	return event
}
