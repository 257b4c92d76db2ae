// Package log carries the logrus based logger through a context.Context.
package log

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Fields is a set of key/value pairs attached to a log entry.
type Fields = logrus.Fields

// Logger is the logging interface used by all blobstore packages.
type Logger = logrus.FieldLogger

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger returns the logger stored in ctx, falling back to the logrus
// standard logger.
func GetLogger(ctx context.Context) Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(Logger); ok && logger != nil {
			return logger
		}
	}
	return logrus.StandardLogger()
}

// Options configure the standard logger. Level, Formatter and Output are
// expected to have been validated by the configuration package already.
type Options struct {
	Level     string
	Formatter string
	Output    io.Writer
	Fields    map[string]any
}

// Configure applies opts to a new logrus logger and returns the entry to be
// stored in the root context.
func Configure(opts Options) (Logger, error) {
	logger := logrus.New()

	lvl, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	logger.SetLevel(lvl)

	switch opts.Formatter {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json", "":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		return nil, fmt.Errorf("unsupported log formatter %q", opts.Formatter)
	}

	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	}

	return logger.WithFields(opts.Fields), nil
}

// Writer returns an io.Writer that logs every line written to it at debug
// level. It is used to route third-party trace output into the logger.
func Writer(logger Logger) io.Writer {
	if entry, ok := logger.(*logrus.Entry); ok {
		return entry.WriterLevel(logrus.DebugLevel)
	}
	if l, ok := logger.(*logrus.Logger); ok {
		return l.WriterLevel(logrus.DebugLevel)
	}
	return logrus.StandardLogger().WriterLevel(logrus.DebugLevel)
}
