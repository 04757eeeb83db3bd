// Package logging is the structured key/value logger every component
// receives through its constructor. It wraps go-kit's log with levels.
package logging

import (
	"fmt"
	"io"

	kitlog "github.com/go-kit/log"
	kitlevel "github.com/go-kit/log/level"
)

const msgKey = "_msg"

// Logger is what components log through.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})

	With(keyvals ...interface{}) Logger
}

type kitLogger struct {
	src kitlog.Logger
}

var _ Logger = (*kitLogger)(nil)

// NewLogger builds a logger writing format ("logfmt" or "json") to w and
// dropping entries below lvl ("debug", "info", "error").
func NewLogger(w io.Writer, format, lvl string) (Logger, error) {
	w = kitlog.NewSyncWriter(w)

	var l kitlog.Logger
	switch format {
	case "", "logfmt", "plain":
		l = kitlog.NewLogfmtLogger(w)
	case "json":
		l = kitlog.NewJSONLogger(w)
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	opt, err := levelOption(lvl)
	if err != nil {
		return nil, err
	}
	l = kitlevel.NewFilter(l, opt)
	l = kitlog.With(l, "ts", kitlog.DefaultTimestampUTC)
	return &kitLogger{src: l}, nil
}

// NewNopLogger discards everything.
func NewNopLogger() Logger {
	return &kitLogger{src: kitlog.NewNopLogger()}
}

func levelOption(lvl string) (kitlevel.Option, error) {
	switch lvl {
	case "debug":
		return kitlevel.AllowDebug(), nil
	case "", "info":
		return kitlevel.AllowInfo(), nil
	case "error":
		return kitlevel.AllowError(), nil
	case "none":
		return kitlevel.AllowNone(), nil
	}
	return nil, fmt.Errorf("unsupported log level %q", lvl)
}

func (l *kitLogger) Debug(msg string, keyvals ...interface{}) {
	l.log(kitlevel.Debug(l.src), msg, keyvals...)
}

func (l *kitLogger) Info(msg string, keyvals ...interface{}) {
	l.log(kitlevel.Info(l.src), msg, keyvals...)
}

func (l *kitLogger) Error(msg string, keyvals ...interface{}) {
	l.log(kitlevel.Error(l.src), msg, keyvals...)
}

func (l *kitLogger) log(lw kitlog.Logger, msg string, keyvals ...interface{}) {
	if err := kitlog.With(lw, msgKey, msg).Log(keyvals...); err != nil {
		errLogger := kitlevel.Error(l.src)
		kitlog.With(errLogger, msgKey, msg).Log("err", err) //nolint:errcheck
	}
}

// With returns a logger that prepends keyvals to every entry.
func (l *kitLogger) With(keyvals ...interface{}) Logger {
	return &kitLogger{src: kitlog.With(l.src, keyvals...)}
}
