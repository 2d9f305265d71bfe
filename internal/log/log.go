// Package log provides a logging backend, based around the go-logging package.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/op/go-logging.v1"
)

const logFormat = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

// Rotation limits for file output.
const (
	maxFileSizeMB = 16
	maxBackups    = 3
)

// Backend is a log backend.
type Backend struct {
	w       io.Writer
	backend logging.LeveledBackend
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b.backend)
	return l
}

// New initializes a logging backend. An empty f logs to stderr; otherwise f
// is appended to and rotated once it grows past maxFileSizeMB.
func New(f string, level string, disable bool) (*Backend, error) {
	lvl, err := levelFromString(level)
	if err != nil {
		return nil, err
	}

	var w io.Writer
	switch {
	case disable:
		w = io.Discard
	case f == "":
		w = os.Stderr
	default:
		lj := &lumberjack.Logger{
			Filename:   f,
			MaxSize:    maxFileSizeMB,
			MaxBackups: maxBackups,
		}
		// Open eagerly so a bad path fails here rather than on first write.
		if _, err := lj.Write(nil); err != nil {
			return nil, fmt.Errorf("log: failed to open log file: %w", err)
		}
		w = lj
	}
	return NewWithWriter(w, lvl), nil
}

// NewWithWriter builds a backend writing to w at the given level.
func NewWithWriter(w io.Writer, lvl logging.Level) *Backend {
	base := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(base, logging.MustStringFormatter(logFormat))
	b := &Backend{w: w, backend: logging.AddModuleLevel(formatted)}
	b.backend.SetLevel(lvl, "")
	return b
}

// Discard returns a backend that drops everything. Used by tests.
func Discard() *Backend { return NewWithWriter(io.Discard, logging.CRITICAL) }

// Close closes the underlying log file, if any.
func (b *Backend) Close() error {
	if c, ok := b.w.(io.Closer); ok && b.w != os.Stderr && b.w != os.Stdout {
		return c.Close()
	}
	return nil
}

func levelFromString(l string) (logging.Level, error) {
	switch strings.ToUpper(l) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE", "":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.CRITICAL, fmt.Errorf("log: invalid level: '%v'", l)
	}
}
