// internal/logging/logging.go
//
// Package logging builds the process logger.
//
// Core packages never import logrus; they declare a small Logger interface
// and receive an Adapter from here.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/camlink/internal/config"
)

// New builds a logrus logger from cfg. Unknown levels fall back to info,
// unknown formats to json and unknown outputs to stdout.
func New(cfg config.LoggingConfig) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(output(cfg.Output))
	l.SetLevel(parseLevel(cfg.Level))

	switch strings.ToLower(cfg.Format) {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

func output(name string) io.Writer {
	switch strings.ToLower(name) {
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

// parseLevel converts a level name; debug, info, warn and error are
// accepted.
func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Adapter exposes a logrus entry through the Debug/Info/Warn/Error(msg,
// key, value, ...) shape used across the module.
type Adapter struct {
	entry *logrus.Entry
}

// NewAdapter wraps l.
func NewAdapter(l *logrus.Logger) *Adapter {
	return &Adapter{entry: logrus.NewEntry(l)}
}

// With returns an adapter carrying extra fields.
func (a *Adapter) With(args ...any) *Adapter {
	return &Adapter{entry: a.entry.WithFields(fields(args))}
}

func (a *Adapter) Debug(msg string, args ...any) { a.entry.WithFields(fields(args)).Debug(msg) }
func (a *Adapter) Info(msg string, args ...any)  { a.entry.WithFields(fields(args)).Info(msg) }
func (a *Adapter) Warn(msg string, args ...any)  { a.entry.WithFields(fields(args)).Warn(msg) }
func (a *Adapter) Error(msg string, args ...any) { a.entry.WithFields(fields(args)).Error(msg) }

// fields pairs up args. A trailing key without value is kept under
// "!BADKEY"; non-string keys are formatted with %v.
func fields(args []any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 == len(args) {
			f["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		v := args[i+1]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		f[key] = v
	}
	return f
}
