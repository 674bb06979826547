package logger

import (
	"io"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// Logger is the logging interface threaded through the import pipeline.
// Fields are alternating key/value pairs.
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
}

type loggerImpl struct {
	zl zerolog.Logger
}

// New creates a logger writing to all given writers. Called with no writers
// it yields a silent logger, which tests rely on.
func New(writers ...io.Writer) Logger {
	if len(writers) == 0 {
		writers = []io.Writer{io.Discard}
	}
	multi := io.MultiWriter(writers...)
	zl := zerolog.New(multi).With().Timestamp().Logger()
	return &loggerImpl{zl: zl}
}

// WithLevel returns a copy of l filtered to the given level. Only loggers
// produced by New are supported.
func WithLevel(l Logger, level zerolog.Level) Logger {
	if impl, ok := l.(*loggerImpl); ok {
		return &loggerImpl{zl: impl.zl.Level(level)}
	}
	return l
}

// ParseLevel maps a config string onto a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// ConsoleWriter returns a human-readable stdout writer.
func ConsoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
}

// FileWriter returns a rotating file writer.
func FileWriter(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}

func (l *loggerImpl) Info(msg string, fields ...interface{}) {
	logWithFields(l.zl.Info(), msg, fields...)
}

func (l *loggerImpl) Warn(msg string, fields ...interface{}) {
	logWithFields(l.zl.Warn(), msg, fields...)
}

func (l *loggerImpl) Error(msg string, fields ...interface{}) {
	logWithFields(l.zl.Error(), msg, fields...)
}

func (l *loggerImpl) Debug(msg string, fields ...interface{}) {
	logWithFields(l.zl.Debug(), msg, fields...)
}

func (l *loggerImpl) Fatal(msg string, fields ...interface{}) {
	logWithFields(l.zl.Fatal(), msg, fields...)
}

func logWithFields(event *zerolog.Event, msg string, fields ...interface{}) {
	if len(fields)%2 == 0 {
		for i := 0; i < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			if key == "error" {
				if err, ok := fields[i+1].(error); ok && err != nil {
					event = event.Err(err)
					continue
				}
			}
			event = event.Interface(key, fields[i+1])
		}
	}
	event.Msg(msg)
}
