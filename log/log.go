// Package log configures logrus loggers used by pipelines and tools.
package log

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// DebugEnv is the environment variable that enables debug level for
// loggers returned by GetLogger.
const DebugEnv = "PIPELINE_DEBUG"

var debug bool

// Logger is a global interface for pipeline loggers.
type Logger = logrus.FieldLogger

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv(DebugEnv))
	if err != nil {
		debug = false
	}
}

// Format of the log output.
type Format string

// Output formats.
const (
	// Auto uses Text on terminals and JSON otherwise.
	Auto Format = "auto"
	Text Format = "text"
	JSON Format = "json"
)

// GetLogger returns a new logger instance.
func GetLogger() *logrus.Logger {
	l := logrus.New()
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// New returns a logger that writes to out with provided level and format.
// Empty level falls back to info, or debug if debug environment is set.
func New(level string, format Format, out io.Writer) (*logrus.Logger, error) {
	l := GetLogger()
	l.SetOutput(out)
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		l.SetLevel(lvl)
	}
	switch format {
	case "", Auto:
		if isTerminal(out) {
			l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		} else {
			l.SetFormatter(&logrus.JSONFormatter{})
		}
	case Text:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: !isTerminal(out)})
	case JSON:
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return l, nil
}

// Discard returns a logger that drops all entries.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
